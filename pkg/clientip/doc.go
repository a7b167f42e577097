// Package clientip resolves the address of the caller of the admin API.
//
// By default only the TCP peer address is used. Behind a reverse proxy that
// overwrites forwarding headers, enable TrustProxyHeaders so CF-Connecting-IP,
// X-Forwarded-For and X-Real-IP are honored:
//
//	r.Use(clientip.Middleware(clientip.TrustProxyHeaders(cfg.TrustProxy)))
//
// Downstream code reads the address with FromContext. Extractor plugs the
// same value into audit.WithIPExtractor.
package clientip
