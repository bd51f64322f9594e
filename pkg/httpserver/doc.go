// Package httpserver wraps net/http with environment-based configuration,
// context-driven graceful shutdown, and a composable health endpoint.
//
//	srv := httpserver.New(cfg, router, httpserver.WithLogger(log))
//	if err := srv.Run(ctx); err != nil {
//		log.Error("server exited", "error", err)
//	}
package httpserver
