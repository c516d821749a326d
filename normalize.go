package wavscribe

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/aiff"
	"github.com/go-audio/riff"
)

// Content types reported by DetectContentType.
const (
	ContentTypeWAV   = "audio/wav"
	ContentTypeAIFF  = "audio/aiff"
	ContentTypeOther = "application/octet-stream"
)

var (
	// ErrUnsupportedContainer is returned for input that is neither RIFF/WAVE nor AIFF.
	ErrUnsupportedContainer = errors.New("unsupported audio container")
	errInvalidAIFF          = errors.New("invalid AIFF file")

	formID = [4]byte{'F', 'O', 'R', 'M'}
	aiffID = [4]byte{'A', 'I', 'F', 'F'}
	aifcID = [4]byte{'A', 'I', 'F', 'C'}
)

// DetectContentType sniffs the container from its magic bytes.
func DetectContentType(data []byte) string {
	if len(data) < 12 {
		return ContentTypeOther
	}

	id := [4]byte(data[0:4])
	form := [4]byte(data[8:12])

	switch {
	case id == riff.RiffID && form == riff.WavFormatID:
		return ContentTypeWAV
	case id == formID && (form == aiffID || form == aifcID):
		return ContentTypeAIFF
	default:
		return ContentTypeOther
	}
}

// DecodeFile decodes a WAV or AIFF stream into per-channel float samples.
func DecodeFile(r io.ReadSeeker) (DecodedAudio, error) {
	var magic [12]byte

	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return DecodedAudio{}, fmt.Errorf("%w: %w", ErrUnsupportedContainer, err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return DecodedAudio{}, fmt.Errorf("failed to rewind input: %w", err)
	}

	switch DetectContentType(magic[:]) {
	case ContentTypeWAV:
		return NewDecoder(r).Decode()
	case ContentTypeAIFF:
		return decodeAIFF(r)
	default:
		return DecodedAudio{}, fmt.Errorf("%w: %q", ErrUnsupportedContainer, magic[0:4])
	}
}

func decodeAIFF(r io.ReadSeeker) (DecodedAudio, error) {
	dec := aiff.NewDecoder(r)
	if !dec.IsValidFile() {
		return DecodedAudio{}, errInvalidAIFF
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return DecodedAudio{}, fmt.Errorf("failed to decode AIFF: %w", err)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth < 1 || bitDepth > 32 {
		return DecodedAudio{}, fmt.Errorf("%w: %d", errUnhandledByteDepth, bitDepth)
	}

	numChans := int(dec.NumChans)
	if numChans < 1 {
		return DecodedAudio{}, ErrNoChannels
	}

	// AIFF samples are signed at every bit depth, 8-bit included.
	scale := float64(int64(1) << (bytesPerSample(bitDepth)*8 - 1))
	frames := len(buf.Data) / numChans

	out := DecodedAudio{
		Channels:   make([][]float32, numChans),
		SampleRate: int(dec.SampleRate),
	}
	for c := range out.Channels {
		out.Channels[c] = make([]float32, frames)
	}

	for f := 0; f < frames; f++ {
		for c := 0; c < numChans; c++ {
			out.Channels[c][f] = float32(float64(buf.Data[f*numChans+c]) / scale)
		}
	}

	return out, nil
}

// Normalize decodes WAV or AIFF input and re-encodes it as a canonical
// PCM16 WAV container.
func Normalize(r io.ReadSeeker) ([]byte, error) {
	decoded, err := DecodeFile(r)
	if err != nil {
		return nil, err
	}

	return Encode(decoded)
}

// NormalizeBytes is Normalize for in-memory input. Input that already is
// canonical is returned as a copy without re-encoding.
func NormalizeBytes(data []byte) ([]byte, error) {
	if IsCanonical(data) {
		return bytes.Clone(data), nil
	}

	return Normalize(bytes.NewReader(data))
}
