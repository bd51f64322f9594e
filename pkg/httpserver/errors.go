package httpserver

import "errors"

var (
	// ErrNilHandler is returned when the server is created without a handler.
	ErrNilHandler = errors.New("httpserver: nil handler")
	// ErrServerClosed wraps errors from an abnormal server exit.
	ErrServerClosed = errors.New("httpserver: server closed unexpectedly")
	// ErrShutdownTimeout is returned when graceful shutdown exceeds its deadline.
	ErrShutdownTimeout = errors.New("httpserver: shutdown timed out")
)
