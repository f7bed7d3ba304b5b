package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/jorgevx/escriba/internal/audio"
	"github.com/jorgevx/escriba/pkg/provider"
)

// writeWAV writes a minimal 16-bit mono PCM WAV with the given sample rate
// and number of samples.
func writeWAV(t *testing.T, path string, sampleRate, samples int) {
	t.Helper()

	dataSize := samples * 2
	buf := make([]byte, 0, 44+dataSize)
	le := binary.LittleEndian

	buf = append(buf, "RIFF"...)
	buf = le.AppendUint32(buf, uint32(36+dataSize))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = le.AppendUint32(buf, 16)
	buf = le.AppendUint16(buf, 1) // PCM
	buf = le.AppendUint16(buf, 1) // mono
	buf = le.AppendUint32(buf, uint32(sampleRate))
	buf = le.AppendUint32(buf, uint32(sampleRate*2)) // byte rate
	buf = le.AppendUint16(buf, 2)
	buf = le.AppendUint16(buf, 16)
	buf = append(buf, "data"...)
	buf = le.AppendUint32(buf, uint32(dataSize))
	buf = append(buf, make([]byte, dataSize)...)

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func TestResolvePrefersEnhanced(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	original := filepath.Join(dir, "acta.wav")
	enhanced := filepath.Join(dir, "acta.enhanced.wav")
	writeWAV(t, original, 16000, 16000)
	writeWAV(t, enhanced, 16000, 16000)

	got, err := audio.Resolve(audio.Artifact{OriginalPath: original, EnhancedPath: enhanced})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Path != enhanced || !got.Enhanced {
		t.Errorf("Resolve = %+v, want enhanced path", got)
	}
}

func TestResolveFallsBackToOriginal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	original := filepath.Join(dir, "acta.wav")
	writeWAV(t, original, 16000, 16000)

	got, err := audio.Resolve(audio.Artifact{
		OriginalPath: original,
		EnhancedPath: filepath.Join(dir, "missing.wav"),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Path != original || got.Enhanced {
		t.Errorf("Resolve = %+v, want original path", got)
	}
}

func TestResolveMissingOriginal(t *testing.T) {
	t.Parallel()

	_, err := audio.Resolve(audio.Artifact{OriginalPath: filepath.Join(t.TempDir(), "missing.wav")})
	if provider.KindOf(err) != provider.KindFileMissing {
		t.Errorf("error kind = %v, want FileMissing", provider.KindOf(err))
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := filepath.Join(dir, "acta.wav")
	writeWAV(t, path, 16000, 48000) // 3 seconds

	got, err := audio.Duration(path)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if math.Abs(got-3) > 0.001 {
		t.Errorf("Duration = %f, want 3", got)
	}
}

func TestDurationNotWAV(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := filepath.Join(dir, "acta.mp3")
	if err := os.WriteFile(path, []byte("ID3 not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := audio.Duration(path)
	var merr *provider.ModelError
	if !errors.As(err, &merr) || merr.Kind != provider.KindUnsupportedFormat {
		t.Errorf("error = %v, want UnsupportedFormat model error", err)
	}
}
