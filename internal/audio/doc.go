// Package audio turns microphone sample blocks into transport frames.
// It quantizes float samples to saturated PCM-16, batches variably sized
// callback blocks into fixed-size frames, and writes session recordings
// as mono WAV files.
package audio
