package whisper

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// whisperSampleRate is the sample rate whisper.cpp expects.
const whisperSampleRate = 16000

var errNotWAV = errors.New("not a RIFF/WAVE file")

// decodeWAV parses a 16-bit PCM RIFF/WAVE file and returns mono float32
// samples resampled to [whisperSampleRate], normalised to [-1.0, 1.0].
// Compressed or non-16-bit encodings are rejected.
func decodeWAV(data []byte) ([]float32, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errNotWAV
	}

	var (
		sampleRate int
		channels   int
		pcm        []byte
	)

	// Walk the chunk list; files in the wild carry LIST/INFO chunks between
	// fmt and data.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, errors.New("wav: truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("wav: unsupported encoding (format=%d bits=%d); expected 16-bit PCM", format, bits)
			}
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size + size%2
	}

	if sampleRate == 0 || channels == 0 {
		return nil, errors.New("wav: missing fmt chunk")
	}
	if pcm == nil {
		return nil, errors.New("wav: missing data chunk")
	}

	samples := pcmToFloat32Mono(pcm, channels)
	if sampleRate != whisperSampleRate {
		samples = resampleLinear(samples, sampleRate, whisperSampleRate)
	}
	return samples, nil
}

// pcmToFloat32Mono converts 16-bit signed little-endian PCM to mono float32
// in [-1.0, 1.0], down-mixing multi-channel frames by averaging. Any trailing
// partial frame is ignored.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// resampleLinear resamples mono float32 samples from srcRate to dstRate using
// linear interpolation. Adequate for speech; the models are tolerant of the
// slight high-frequency roll-off.
func resampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	outLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]float32, outLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
