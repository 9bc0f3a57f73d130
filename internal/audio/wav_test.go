package audio

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sine(sampleRate, n int, frequency float64) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(16383 * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	sampleRate := DefaultSampleRate
	samples := sine(sampleRate, DefaultFrameSize, 440)

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := wavHeaderSize + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, DefaultSampleRate); err == nil {
		t.Error("Expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{1}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestDecodeWAV(t *testing.T) {
	original := []int16{100, -200, 300, -400, 32767, -32767}

	wavData, err := EncodeWAV(original, DefaultSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != DefaultSampleRate {
		t.Errorf("Expected sample rate %d, got %d", DefaultSampleRate, rate)
	}
	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, original[i], decoded[i])
		}
	}
}

func TestDecodeWAVTruncated(t *testing.T) {
	wavData, err := EncodeWAV([]int16{1, 2, 3, 4}, DefaultSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if _, _, err := DecodeWAV(wavData[:len(wavData)-2]); err == nil {
		t.Error("Expected error for truncated data chunk")
	}
}

func TestDecodeWAVOddDataSize(t *testing.T) {
	wavData, err := EncodeWAV([]int16{1, 2, 3, 4}, DefaultSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	// Declare 7 data bytes: three and a half samples.
	wavData[40] = 7
	if _, _, err := DecodeWAV(wavData); err == nil {
		t.Error("Expected error for odd data chunk size")
	}
}

func TestDecodeWAVIgnoresTrailingChunks(t *testing.T) {
	original := []int16{5, -6, 7}
	wavData, err := EncodeWAV(original, DefaultSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	wavData = append(wavData, []byte("LIST\x04\x00\x00\x00abcd")...)

	decoded, _, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, original[i], decoded[i])
		}
	}
}

func TestValidateWAV(t *testing.T) {
	valid, err := EncodeWAV([]int16{1, 2}, DefaultSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	corrupt := func(offset int, b byte) []byte {
		data := append([]byte(nil), valid...)
		data[offset] = b
		return data
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"valid", valid, false},
		{"too short", valid[:20], true},
		{"bad riff", corrupt(0, 'X'), true},
		{"bad wave", corrupt(8, 'X'), true},
		{"bad fmt", corrupt(12, 'X'), true},
		{"bad data", corrupt(36, 'X'), true},
		{"not pcm", corrupt(20, 3), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWAV(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWAV() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWAVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	defer file.Close()

	w, err := NewWAVWriter(file, DefaultSampleRate)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}

	first := Frame(sine(DefaultSampleRate, 160, 440))
	second := Frame([]int16{7, 8, 9})
	if err := w.WriteFrame(first); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if err := w.WriteFrame(second); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if w.Samples() != 163 {
		t.Errorf("Expected 163 samples written, got %d", w.Samples())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.WriteFrame(second); err == nil {
		t.Error("Expected error writing to a closed writer")
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != DefaultSampleRate {
		t.Errorf("Expected sample rate %d, got %d", DefaultSampleRate, rate)
	}
	want := append(append([]int16(nil), first...), second...)
	if len(decoded) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(decoded))
	}
	for i := range want {
		if decoded[i] != want[i] {
			t.Fatalf("Sample %d: expected %d, got %d", i, want[i], decoded[i])
		}
	}
}

func TestRecorder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	recorder := NewRecorder(dir, DefaultSampleRate, logger)
	if recorder.Dir() != dir {
		t.Errorf("Expected dir %s, got %s", dir, recorder.Dir())
	}

	rec, err := recorder.Open("session-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if rec.Path() != filepath.Join(dir, "session-1.wav") {
		t.Errorf("Unexpected recording path %s", rec.Path())
	}

	frame := Frame(sine(DefaultSampleRate, DefaultFrameSize, 220))
	for i := 0; i < 3; i++ {
		if err := rec.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}
	if rec.Duration() != 300*time.Millisecond {
		t.Errorf("Expected 300ms recorded, got %v", rec.Duration())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	data, err := os.ReadFile(rec.Path())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	info, err := GetWAVInfo(data)
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}
	if info.NumSamples != 3*DefaultFrameSize {
		t.Errorf("Expected %d samples, got %d", 3*DefaultFrameSize, info.NumSamples)
	}
	if math.Abs(info.Duration-0.3) > 0.001 {
		t.Errorf("Expected duration 0.300, got %.3f", info.Duration)
	}
}

func TestRecorderEmptySessionRemoved(t *testing.T) {
	dir := t.TempDir()
	recorder := NewRecorder(dir, DefaultSampleRate, nil)

	rec, err := recorder.Open("empty")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(rec.Path()); !os.IsNotExist(err) {
		t.Errorf("Expected empty recording to be removed, stat err = %v", err)
	}

	if _, err := recorder.Open(""); err == nil {
		t.Error("Expected error for empty session id")
	}
}

func TestWAVInfoFromBuffer(t *testing.T) {
	var buf bytes.Buffer
	data, err := EncodeWAV([]int16{1, 2, 3}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	buf.Write(data)

	info, err := GetWAVInfo(buf.Bytes())
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}
	if info.NumSamples != 3 || info.DataSize != 6 {
		t.Errorf("Expected 3 samples / 6 bytes, got %d / %d", info.NumSamples, info.DataSize)
	}
}
