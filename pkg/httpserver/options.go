package httpserver

import (
	"log/slog"
	"time"
)

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger used for lifecycle messages. Nil loggers are
// ignored.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithShutdownTimeout overrides how long graceful shutdown may take.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}
