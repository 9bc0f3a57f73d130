// Package capture provides audio sources for the session controller: the
// default microphone through PortAudio, and WAV file replay.
package capture
