// Package backend implements the streaming transcription client. Deepgram
// sessions are opened per recording; transcript events flow out on a single
// channel for the lifetime of the process.
package backend
