package wavscribe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
)

// HeaderSize is the size in bytes of a canonical PCM16 WAV header.
const HeaderSize = 44

const (
	canonicalBitDepth     = 16
	canonicalBytesPerSamp = 2
	canonicalFmtSize      = 16
)

var (
	// ErrNoChannels is returned when the audio carries no channel buffers.
	ErrNoChannels = errors.New("audio has no channels")
	// ErrInvalidSampleRate is returned for a zero or negative sample rate.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrNilChannel is returned when one of the channel buffers is nil.
	ErrNilChannel = errors.New("nil channel buffer")
	// ErrChannelLengthMismatch is returned when channel buffers differ in length.
	ErrChannelLengthMismatch = errors.New("channel buffers have different lengths")
	// ErrTooLarge is returned when the data chunk would not fit a 32-bit size.
	ErrTooLarge = errors.New("audio too large for a WAV container")
	// ErrNotCanonical is returned by ParseHeader for anything but a canonical header.
	ErrNotCanonical = errors.New("not a canonical PCM16 WAV header")
)

// DecodedAudio holds de-interleaved floating point samples, one buffer per
// channel. Samples are nominally in [-1, 1].
type DecodedAudio struct {
	Channels   [][]float32
	SampleRate int
}

// NumChannels returns the number of channel buffers.
func (a DecodedAudio) NumChannels() int {
	return len(a.Channels)
}

// NumFrames returns the length of the first channel buffer.
func (a DecodedAudio) NumFrames() int {
	if len(a.Channels) == 0 {
		return 0
	}

	return len(a.Channels[0])
}

// Duration returns the playback length of the audio.
func (a DecodedAudio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}

	return time.Duration(a.NumFrames()) * sampleDuration(a.SampleRate)
}

// Validate checks the preconditions of Encode.
func (a DecodedAudio) Validate() error {
	if len(a.Channels) == 0 {
		return ErrNoChannels
	}

	if len(a.Channels) > math.MaxUint16 {
		return fmt.Errorf("%w: %d channels", ErrTooLarge, len(a.Channels))
	}

	if a.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, a.SampleRate)
	}

	frames := -1
	for i, ch := range a.Channels {
		if ch == nil {
			return fmt.Errorf("%w: channel %d", ErrNilChannel, i)
		}

		if frames < 0 {
			frames = len(ch)
			continue
		}

		if len(ch) != frames {
			return fmt.Errorf("%w: channel %d has %d frames, channel 0 has %d", ErrChannelLengthMismatch, i, len(ch), frames)
		}
	}

	dataSize := uint64(frames) * uint64(len(a.Channels)) * canonicalBytesPerSamp
	if dataSize > math.MaxUint32-(HeaderSize-8) {
		return fmt.Errorf("%w: %d data bytes", ErrTooLarge, dataSize)
	}

	if uint64(a.SampleRate)*uint64(len(a.Channels))*canonicalBytesPerSamp > math.MaxUint32 {
		return fmt.Errorf("%w: byte rate overflows", ErrTooLarge)
	}

	return nil
}

// Interleaved returns the samples as a frame-major go-audio buffer.
func (a DecodedAudio) Interleaved() *audio.Float32Buffer {
	numChans := a.NumChannels()
	frames := a.NumFrames()

	data := make([]float32, frames*numChans)
	for f := 0; f < frames; f++ {
		for c := 0; c < numChans; c++ {
			data[f*numChans+c] = a.Channels[c][f]
		}
	}

	return &audio.Float32Buffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: numChans, SampleRate: a.SampleRate},
		SourceBitDepth: canonicalBitDepth,
	}
}

// FromInterleaved splits a frame-major go-audio buffer into channels.
// A trailing partial frame is an error.
func FromInterleaved(buf *audio.Float32Buffer) (DecodedAudio, error) {
	if buf == nil || buf.Format == nil {
		return DecodedAudio{}, errNilBuffer
	}

	numChans := buf.Format.NumChannels
	if numChans < 1 {
		return DecodedAudio{}, ErrNoChannels
	}

	if len(buf.Data)%numChans != 0 {
		return DecodedAudio{}, fmt.Errorf("%w: %d samples for %d channels", errPartialFrame, len(buf.Data), numChans)
	}

	frames := len(buf.Data) / numChans

	out := DecodedAudio{
		Channels:   make([][]float32, numChans),
		SampleRate: buf.Format.SampleRate,
	}
	for c := range out.Channels {
		out.Channels[c] = make([]float32, frames)
	}

	for f := 0; f < frames; f++ {
		for c := 0; c < numChans; c++ {
			out.Channels[c][f] = buf.Data[f*numChans+c]
		}
	}

	return out, nil
}

// Encode converts the audio to a canonical RIFF/PCM16 WAV container.
// A fresh buffer is allocated for every call.
func Encode(a DecodedAudio) ([]byte, error) {
	return AppendEncode(nil, a)
}

// AppendEncode appends the canonical WAV encoding of a to dst and returns
// the extended slice. Passing buf[:0] reuses an existing allocation.
// On error dst is returned unchanged.
func AppendEncode(dst []byte, a DecodedAudio) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return dst, err
	}

	numChans := a.NumChannels()
	frames := a.NumFrames()
	dataSize := frames * numChans * canonicalBytesPerSamp

	start := len(dst)
	dst = grow(dst, HeaderSize+dataSize)
	out := dst[start:]

	putHeader(out[:HeaderSize], numChans, a.SampleRate, uint32(dataSize))

	pos := HeaderSize
	for f := 0; f < frames; f++ {
		for c := 0; c < numChans; c++ {
			binary.LittleEndian.PutUint16(out[pos:], uint16(float32ToPCM16(a.Channels[c][f])))
			pos += canonicalBytesPerSamp
		}
	}

	return dst, nil
}

func grow(dst []byte, n int) []byte {
	if cap(dst)-len(dst) >= n {
		return dst[:len(dst)+n]
	}

	out := make([]byte, len(dst)+n)
	copy(out, dst)

	return out
}

func putHeader(hdr []byte, numChans, sampleRate int, dataSize uint32) {
	blockAlign := numChans * canonicalBytesPerSamp

	copy(hdr[0:4], riff.RiffID[:])
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataSize)
	copy(hdr[8:12], riff.WavFormatID[:])
	copy(hdr[12:16], riff.FmtID[:])
	binary.LittleEndian.PutUint32(hdr[16:20], canonicalFmtSize)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(numChans))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], canonicalBitDepth)
	copy(hdr[36:40], riff.DataFormatID[:])
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)
}

// Header is the parsed form of a canonical 44-byte header.
type Header struct {
	ChunkSize     uint32
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// NumFrames returns the number of frames announced by the data chunk.
func (h Header) NumFrames() int {
	if h.BlockAlign == 0 {
		return 0
	}

	return int(h.DataSize / uint32(h.BlockAlign))
}

// Duration returns the playback length announced by the header.
func (h Header) Duration() time.Duration {
	if h.SampleRate == 0 {
		return 0
	}

	return time.Duration(h.NumFrames()) * sampleDuration(int(h.SampleRate))
}

// ParseHeader reads a canonical header. Any deviation from the layout
// produced by Encode (extra chunks, other formats or bit depths,
// inconsistent derived fields) is reported as ErrNotCanonical.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrNotCanonical, HeaderSize, len(data))
	}

	switch {
	case [4]byte(data[0:4]) != riff.RiffID:
		return Header{}, fmt.Errorf("%w: missing RIFF marker", ErrNotCanonical)
	case [4]byte(data[8:12]) != riff.WavFormatID:
		return Header{}, fmt.Errorf("%w: missing WAVE marker", ErrNotCanonical)
	case [4]byte(data[12:16]) != riff.FmtID:
		return Header{}, fmt.Errorf("%w: missing fmt marker", ErrNotCanonical)
	case [4]byte(data[36:40]) != riff.DataFormatID:
		return Header{}, fmt.Errorf("%w: missing data marker", ErrNotCanonical)
	}

	if size := binary.LittleEndian.Uint32(data[16:20]); size != canonicalFmtSize {
		return Header{}, fmt.Errorf("%w: fmt chunk size %d", ErrNotCanonical, size)
	}

	if format := binary.LittleEndian.Uint16(data[20:22]); format != wavFormatPCM {
		return Header{}, fmt.Errorf("%w: audio format %d", ErrNotCanonical, format)
	}

	h := Header{
		ChunkSize:     binary.LittleEndian.Uint32(data[4:8]),
		NumChannels:   binary.LittleEndian.Uint16(data[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(data[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(data[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(data[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(data[34:36]),
		DataSize:      binary.LittleEndian.Uint32(data[40:44]),
	}

	switch {
	case h.BitsPerSample != canonicalBitDepth:
		return Header{}, fmt.Errorf("%w: %d bits per sample", ErrNotCanonical, h.BitsPerSample)
	case h.NumChannels == 0:
		return Header{}, fmt.Errorf("%w: zero channels", ErrNotCanonical)
	case h.SampleRate == 0:
		return Header{}, fmt.Errorf("%w: zero sample rate", ErrNotCanonical)
	case h.BlockAlign != h.NumChannels*canonicalBytesPerSamp:
		return Header{}, fmt.Errorf("%w: block align %d", ErrNotCanonical, h.BlockAlign)
	case h.ByteRate != h.SampleRate*uint32(h.BlockAlign):
		return Header{}, fmt.Errorf("%w: byte rate %d", ErrNotCanonical, h.ByteRate)
	case h.ChunkSize != 36+h.DataSize:
		return Header{}, fmt.Errorf("%w: riff size %d for %d data bytes", ErrNotCanonical, h.ChunkSize, h.DataSize)
	case h.DataSize%uint32(h.BlockAlign) != 0:
		return Header{}, fmt.Errorf("%w: data size %d is not a whole number of frames", ErrNotCanonical, h.DataSize)
	}

	return h, nil
}

// IsCanonical reports whether data is a complete canonical container.
func IsCanonical(data []byte) bool {
	h, err := ParseHeader(data)
	if err != nil {
		return false
	}

	return uint64(len(data)) == HeaderSize+uint64(h.DataSize)
}
