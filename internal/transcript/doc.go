// Package transcript reconciles partial and final recognition events into
// a stable display state and fans snapshots out to presentation clients.
package transcript
