// Package session implements the dictation session lifecycle.
//
// A Controller moves through Idle, Connecting, Active and Stopping. Start
// acquires the audio source, opens the backend session and attaches the
// capture callback, rolling back on any failure. Stop tears the session down
// and holds Stopping for a cooldown before another start is accepted.
//
// While Active, capture callbacks are quantized and batched into fixed-size
// frames which a single sender forwards to the backend in production order.
package session
