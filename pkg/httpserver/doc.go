// Package httpserver runs the admin HTTP API with graceful shutdown.
//
// Serve listens on the configured address and blocks until its context is
// cancelled, then drains active requests within the shutdown timeout. Run
// wraps Serve for errgroup:
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	g.Go(srv.Run(ctx, router))
//
// Listen failures are joined with ErrStart and drain failures with
// ErrShutdown; check them with errors.Is.
//
// LivenessHandler and ReadinessHandler serve container probes. Readiness runs
// each named Check (for example the broker ping) and answers 503 with the
// failing checks listed.
package httpserver
