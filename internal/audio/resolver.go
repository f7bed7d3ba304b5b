// Package audio resolves job input artifacts. The preprocessing collaborator
// may leave an enhanced rendition next to the original upload; every phase
// re-resolves the path so a rendition that appears or disappears mid-job is
// picked up at the next phase boundary.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/jorgevx/escriba/pkg/provider"
)

// Artifact references a job's input audio on disk. EnhancedPath is optional.
type Artifact struct {
	OriginalPath    string  `json:"original_path"`
	EnhancedPath    string  `json:"enhanced_path,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Resolved is the artifact rendition chosen for one phase.
type Resolved struct {
	Path     string
	Enhanced bool
}

// Resolve picks the rendition to feed an adapter: the enhanced artifact when
// present and readable, else the original. A missing original is fatal to the
// job.
func Resolve(a Artifact) (Resolved, error) {
	if a.EnhancedPath != "" && readable(a.EnhancedPath) {
		return Resolved{Path: a.EnhancedPath, Enhanced: true}, nil
	}
	if a.OriginalPath == "" {
		return Resolved{}, provider.NewModelError(provider.KindFileMissing, "audio: resolve",
			errors.New("artifact has no original path"))
	}
	if !readable(a.OriginalPath) {
		return Resolved{}, provider.NewModelError(provider.KindFileMissing, "audio: resolve",
			fmt.Errorf("artifact %s is not readable", a.OriginalPath))
	}
	return Resolved{Path: a.OriginalPath, Enhanced: false}, nil
}

func readable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Duration reads the duration of a PCM WAV file from its RIFF header without
// decoding the samples. Callers may pass a non-WAV file; they get an
// UnsupportedFormat model error.
func Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, provider.NewModelError(provider.KindFileMissing, "audio: duration", err)
		}
		return 0, provider.NewModelError(provider.KindRuntimeError, "audio: duration", err)
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return 0, provider.NewModelError(provider.KindUnsupportedFormat, "audio: duration", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return 0, provider.NewModelError(provider.KindUnsupportedFormat, "audio: duration",
			fmt.Errorf("%s is not a RIFF/WAVE file", path))
	}

	var byteRate uint32
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			return 0, provider.NewModelError(provider.KindUnsupportedFormat, "audio: duration",
				errors.New("no data chunk found"))
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			var fmtChunk [16]byte
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return 0, provider.NewModelError(provider.KindUnsupportedFormat, "audio: duration", err)
			}
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			if size > 16 {
				if _, err := f.Seek(int64(size-16), io.SeekCurrent); err != nil {
					return 0, provider.NewModelError(provider.KindUnsupportedFormat, "audio: duration", err)
				}
			}
		case "data":
			if byteRate == 0 {
				return 0, provider.NewModelError(provider.KindUnsupportedFormat, "audio: duration",
					errors.New("data chunk precedes fmt chunk"))
			}
			return float64(size) / float64(byteRate), nil
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return 0, provider.NewModelError(provider.KindUnsupportedFormat, "audio: duration", err)
			}
		}
		// Chunks are word-aligned.
		if size%2 == 1 {
			if _, err := f.Seek(1, io.SeekCurrent); err != nil {
				return 0, provider.NewModelError(provider.KindUnsupportedFormat, "audio: duration", err)
			}
		}
	}
}
