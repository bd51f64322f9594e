// Package redis provides Redis connection management with environment-based
// configuration, retrying connect, and a readiness healthcheck probe.
package redis
