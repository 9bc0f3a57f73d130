package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Wire constants
const (
	// BytesPerSample is the size of one little-endian PCM-16 sample on the wire.
	BytesPerSample = 2

	// Deepgram message types
	MessageTypeResults       = "Results"
	MessageTypeMetadata      = "Metadata"
	MessageTypeUtteranceEnd  = "UtteranceEnd"
	MessageTypeSpeechStarted = "SpeechStarted"
	MessageTypeError         = "Error"

	// Deepgram control messages
	MessageTypeCloseStream = "CloseStream"
	MessageTypeKeepAlive   = "KeepAlive"
)

// ErrMalformed is returned when a transcript event cannot be decoded.
var ErrMalformed = errors.New("malformed transcript event")

// EncodePCM16LE serializes samples as little-endian PCM-16, the linear16
// encoding expected by the backend.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// DecodePCM16LE parses little-endian PCM-16 audio data
func DecodePCM16LE(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio data length must be even, got %d bytes", len(data))
	}
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples, nil
}

// TranscriptEvent is one partial or final recognition result as delivered
// to the reconciler. Arrival order is authoritative.
type TranscriptEvent struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// String returns a human-readable representation of the event
func (e TranscriptEvent) String() string {
	kind := "partial"
	if e.Final {
		kind = "final"
	}
	return fmt.Sprintf("TranscriptEvent{%s, %q}", kind, e.Text)
}

// EncodeTranscript serializes an event as {"text": ..., "final": ...}
func EncodeTranscript(ev TranscriptEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript event: %w", err)
	}
	return data, nil
}

// DecodeTranscript strictly parses a transcript event payload. The payload
// must be a JSON object whose "text" field is present and a string. A
// "final" field, when present, must be a boolean; when absent the event is
// treated as partial. Any violation returns an error wrapping ErrMalformed.
func DecodeTranscript(data []byte) (TranscriptEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return TranscriptEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return TranscriptEvent{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	var ev TranscriptEvent

	rawText, ok := fields["text"]
	if !ok {
		return TranscriptEvent{}, fmt.Errorf("%w: missing text", ErrMalformed)
	}
	if !isJSONString(rawText) {
		return TranscriptEvent{}, fmt.Errorf("%w: text is not a string", ErrMalformed)
	}
	if err := json.Unmarshal(rawText, &ev.Text); err != nil {
		return TranscriptEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if rawFinal, ok := fields["final"]; ok {
		if err := json.Unmarshal(rawFinal, &ev.Final); err != nil || !isJSONBool(rawFinal) {
			return TranscriptEvent{}, fmt.Errorf("%w: final is not a boolean", ErrMalformed)
		}
	}

	return ev, nil
}

func isJSONString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

func isJSONBool(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return bytes.Equal(raw, []byte("true")) || bytes.Equal(raw, []byte("false"))
}

// Alternative is one recognition hypothesis in a Deepgram result
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Channel holds the hypotheses for one audio channel
type Channel struct {
	Alternatives []Alternative `json:"alternatives"`
}

// UnmarshalJSON decodes a results channel. UtteranceEnd messages carry the
// channel as an index array instead; that form decodes to an empty Channel.
func (c *Channel) UnmarshalJSON(data []byte) error {
	if raw := bytes.TrimSpace(data); len(raw) > 0 && raw[0] == '[' {
		*c = Channel{}
		return nil
	}
	type channel Channel
	var decoded channel
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*c = Channel(decoded)
	return nil
}

// LiveResult is a message received from the Deepgram live listen socket.
// Only the fields used by the pipeline are decoded.
type LiveResult struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     Channel `json:"channel"`
	RequestID   string  `json:"request_id,omitempty"`

	// Set on UtteranceEnd and SpeechStarted messages
	LastWordEnd float64 `json:"last_word_end,omitempty"`
	Timestamp   float64 `json:"timestamp,omitempty"`

	// Set on Error messages
	Description string `json:"description,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ParseLiveResult parses a text message from the live listen socket
func ParseLiveResult(data []byte) (*LiveResult, error) {
	var result LiveResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse live result: %w", err)
	}
	return &result, nil
}

// Transcript returns the top alternative's transcript, or "" when the
// result carries none.
func (r *LiveResult) Transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return r.Channel.Alternatives[0].Transcript
}

// Event converts the result into a transcript event. ok is false for
// non-result messages and for results whose transcript is blank.
func (r *LiveResult) Event() (ev TranscriptEvent, ok bool) {
	if r.Type != "" && r.Type != MessageTypeResults {
		return TranscriptEvent{}, false
	}
	text := r.Transcript()
	if strings.TrimSpace(text) == "" {
		return TranscriptEvent{}, false
	}
	return TranscriptEvent{Text: text, Final: r.IsFinal}, true
}

// ControlMessage is a JSON control frame sent to the live listen socket
type ControlMessage struct {
	Type string `json:"type"`
}

// EncodeControl serializes a control message of the given type
func EncodeControl(msgType string) []byte {
	data, _ := json.Marshal(ControlMessage{Type: msgType})
	return data
}
