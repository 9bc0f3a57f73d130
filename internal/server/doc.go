// Package server implements the local HTTP API: session control, the
// reconciled transcript with a WebSocket push feed, redacted configuration
// and Prometheus metrics.
package server
