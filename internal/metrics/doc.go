// Package metrics exposes Prometheus metrics for the dictation service.
// Metrics implements the observer interfaces of the session, backend and
// transcript packages so those packages stay free of Prometheus imports.
package metrics
