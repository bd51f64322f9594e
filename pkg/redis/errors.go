package redis

import "errors"

var (
	// ErrEmptyConnectionURL is returned when the connection URL is missing.
	ErrEmptyConnectionURL = errors.New("redis: empty connection URL")
	// ErrInvalidConnectionURL is returned for URLs redis cannot parse.
	ErrInvalidConnectionURL = errors.New("redis: invalid connection URL")
	// ErrFailedToConnect is returned when the connection cannot be established
	// after all retry attempts.
	ErrFailedToConnect = errors.New("redis: failed to connect")
	// ErrHealthcheckFailed is returned when a ping fails on an established client.
	ErrHealthcheckFailed = errors.New("redis: healthcheck failed")
)
