// Package protocol defines the wire formats of the transcription pipeline:
// little-endian PCM-16 audio frames, Deepgram live listen messages, and the
// {"text","final"} transcript events consumed by the reconciler.
package protocol
