package mongo

import "errors"

var (
	// ErrEmptyConnectionURL is returned when the connection URL is missing.
	ErrEmptyConnectionURL = errors.New("mongo: empty connection URL")
	// ErrEmptyDatabaseName is returned when the database name is missing.
	ErrEmptyDatabaseName = errors.New("mongo: empty database name")
	// ErrFailedToConnect is returned when the connection cannot be established
	// after all retry attempts.
	ErrFailedToConnect = errors.New("mongo: failed to connect")
	// ErrHealthcheckFailed is returned when a ping fails on an established client.
	ErrHealthcheckFailed = errors.New("mongo: healthcheck failed")
)
