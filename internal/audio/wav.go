package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kalishhhh/wispr-flow-clone/internal/protocol"
)

const wavHeaderSize = 44

// WAVHeader represents the header structure of a mono PCM-16 WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newWAVHeader builds the header for dataSize bytes of mono PCM-16 audio.
func newWAVHeader(sampleRate int, dataSize uint32) WAVHeader {
	const (
		numChannels   = uint16(1)
		bitsPerSample = uint16(16)
	)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV encodes PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, newWAVHeader(sampleRate, uint32(len(samples)*2))); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV decodes mono PCM-16 WAV data back to samples and sample rate
func DecodeWAV(data []byte) ([]int16, int, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return nil, 0, err
	}
	if info.Channels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", info.Channels)
	}
	if info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", info.BitsPerSample)
	}
	if info.NumSamples == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}
	if int(info.DataSize) > len(data)-wavHeaderSize {
		return nil, 0, fmt.Errorf("WAV data truncated: header declares %d bytes, have %d", info.DataSize, len(data)-wavHeaderSize)
	}

	samples, err := protocol.DecodePCM16LE(data[wavHeaderSize : wavHeaderSize+int(info.DataSize)])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}
	return samples, int(info.SampleRate), nil
}

// ValidateWAV validates a WAV file format without decoding the audio data
func ValidateWAV(data []byte) error {
	if len(data) < wavHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if binary.LittleEndian.Uint16(data[20:22]) != 1 {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", binary.LittleEndian.Uint16(data[20:22]))
	}
	return nil
}

// WAVInfo describes a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if header.SampleRate == 0 || header.BitsPerSample == 0 {
		return nil, fmt.Errorf("invalid WAV header: sample_rate=%d bits=%d", header.SampleRate, header.BitsPerSample)
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)
	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

// WAVWriter streams PCM-16 frames into a WAV file. The header is written
// with a zero length up front and patched on Close, so dst must be seekable.
type WAVWriter struct {
	dst        io.WriteSeeker
	sampleRate int
	dataSize   uint32
	closed     bool
}

// NewWAVWriter writes a placeholder header to dst and returns a writer.
func NewWAVWriter(dst io.WriteSeeker, sampleRate int) (*WAVWriter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if err := binary.Write(dst, binary.LittleEndian, newWAVHeader(sampleRate, 0)); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return &WAVWriter{dst: dst, sampleRate: sampleRate}, nil
}

// WriteFrame appends samples to the data chunk.
func (w *WAVWriter) WriteFrame(frame Frame) error {
	if w.closed {
		return fmt.Errorf("wav writer closed")
	}
	if len(frame) == 0 {
		return nil
	}
	if err := binary.Write(w.dst, binary.LittleEndian, []int16(frame)); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	w.dataSize += uint32(len(frame) * 2)
	return nil
}

// Samples returns the number of samples written so far.
func (w *WAVWriter) Samples() int {
	return int(w.dataSize / 2)
}

// Close rewrites the header with the final sizes. It does not close dst.
func (w *WAVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.dst.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind WAV output: %w", err)
	}
	if err := binary.Write(w.dst, binary.LittleEndian, newWAVHeader(w.sampleRate, w.dataSize)); err != nil {
		return fmt.Errorf("failed to patch WAV header: %w", err)
	}
	_, err := w.dst.Seek(0, io.SeekEnd)
	return err
}
