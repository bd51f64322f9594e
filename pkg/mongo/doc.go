// Package mongo provides MongoDB connection management with environment-based
// configuration, retrying connect, and a readiness healthcheck probe.
package mongo
