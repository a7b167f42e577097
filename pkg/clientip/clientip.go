package clientip

import (
	"net"
	"net/http"
	"strings"
)

// GetIP returns the TCP peer address of r, normalized. Headers are ignored.
func GetIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

// GetForwardedIP resolves the client address set by a reverse proxy.
// It checks CF-Connecting-IP, the first valid X-Forwarded-For entry and
// X-Real-IP before falling back to GetIP. Only use it behind a proxy that
// overwrites these headers.
func GetForwardedIP(r *http.Request) string {
	if ip := parseIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		for ip := range strings.SplitSeq(forwarded, ",") {
			if parsed := parseIP(ip); parsed != "" {
				return parsed
			}
		}
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return GetIP(r)
}

func parseIP(ipStr string) string {
	ipStr = strings.TrimSpace(ipStr)
	if ipStr == "" {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}
	return ip.String()
}
