package wavscribe

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
)

var (
	// CIDFact is the chunk ID for the fact chunk.
	CIDFact = [4]byte{'f', 'a', 'c', 't'}

	// ErrPCMDataNotFound is returned when PCM data chunk is not found.
	ErrPCMDataNotFound = errors.New("PCM data not found")
	// ErrDurationNilPointer is returned when calculating duration on a nil decoder.
	ErrDurationNilPointer = errors.New("can't calculate the duration of a nil pointer")
	// ErrUnsupportedCompressedFormat is returned for compressed codecs
	// (GSM 6.10, TrueSpeech, Voxware, ...) that have no decoder here. The
	// container is valid but its audio can't be normalized.
	ErrUnsupportedCompressedFormat = errors.New("unsupported compressed audio format")
	errNilChunk                    = errors.New("nil chunk pointer")
	errUnhandledByteDepth          = errors.New("unhandled byte depth")
	errUnhandledFloatBitDepth      = errors.New("unhandled float bit depth")
	errUnsupportedALawBitDepth     = errors.New("unsupported A-law bit depth")
	errUnsupportedMuLawBitDepth    = errors.New("unsupported mu-law bit depth")
	errUnsupportedWavFormat        = errors.New("unsupported wav format")
)

const maxPreallocSamples = 1 << 22

// Decoder reads RIFF/WAVE input into normalized float samples.
type Decoder struct {
	r      io.ReadSeeker
	parser *riff.Parser

	NumChans   uint16
	BitDepth   uint16
	SampleRate uint32

	AvgBytesPerSec uint32
	BlockAlign     uint16
	WavAudioFormat uint16
	FmtChunk       *FmtChunk

	err             error
	PCMSize         int
	pcmDataAccessed bool
	// PCMChunk is limited to the data chunk payload.
	PCMChunk *riff.Chunk
	// CompressedSamples is the per-channel sample count announced by a
	// fact chunk, when present.
	CompressedSamples uint32

	pcmReader *bufio.Reader
}

// NewDecoder creates a decoder for the passed wav reader.
// Note that the reader doesn't get rewinded as the container is processed.
func NewDecoder(r io.ReadSeeker) *Decoder {
	return &Decoder{
		r:      r,
		parser: riff.New(r),
	}
}

// Seek provides access to the cursor position in the PCM data.
func (d *Decoder) Seek(offset int64, whence int) (int64, error) {
	pos, err := d.r.Seek(offset, whence)
	if err != nil {
		return 0, fmt.Errorf("failed to seek: %w", err)
	}

	d.pcmReader = nil

	return pos, nil
}

// Rewind moves the decoder back to the start of the PCM data.
func (d *Decoder) Rewind() error {
	_, err := d.r.Seek(0, io.SeekStart)
	if err != nil {
		return fmt.Errorf("failed to seek back to the start %w", err)
	}
	// the riff parser is read only, start over with a fresh one
	d.parser = riff.New(d.r)
	d.pcmDataAccessed = false
	d.PCMChunk = nil
	d.pcmReader = nil
	d.err = nil
	d.NumChans = 0
	d.CompressedSamples = 0
	d.FmtChunk = nil

	err = d.FwdToPCM()
	if err != nil {
		return fmt.Errorf("failed to seek to the PCM data: %w", err)
	}

	return nil
}

// PCMLen returns the total number of bytes in the PCM data chunk.
func (d *Decoder) PCMLen() int64 {
	if d == nil {
		return 0
	}

	return int64(d.PCMSize)
}

// Err returns the first non-EOF error that was encountered by the Decoder.
func (d *Decoder) Err() error {
	if errors.Is(d.err, io.EOF) {
		return nil
	}

	return d.err
}

// IsValidFile verifies that the file is valid/readable.
func (d *Decoder) IsValidFile() bool {
	d.err = d.readHeaders()
	if d.err != nil {
		return false
	}

	if d.NumChans < 1 || d.SampleRate == 0 {
		return false
	}

	if d.BitDepth < 8 && !isUnsupportedCompressedFormat(d.WavAudioFormat) {
		return false
	}

	dur, err := d.Duration()
	if err != nil || dur <= 0 {
		return false
	}

	return true
}

// ReadInfo reads the underlying reader until the fmt chunk is parsed.
// This method is safe to call multiple times.
func (d *Decoder) ReadInfo() {
	d.err = d.readHeaders()
}

// FwdToPCM forwards the underlying reader until the start of the PCM chunk.
// If the PCM chunk was already read, no data will be found (you need to rewind).
func (d *Decoder) FwdToPCM() error {
	if d == nil {
		return ErrPCMDataNotFound
	}

	d.err = d.readHeaders()
	if d.err != nil {
		return d.err
	}

	for {
		chunk, err := d.nextChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.err = ErrPCMDataNotFound
			} else {
				d.err = err
			}

			return d.err
		}

		if chunk.ID == riff.DataFormatID {
			d.PCMSize = chunk.Size
			d.PCMChunk = chunk
			d.pcmReader = bufio.NewReader(chunk.R)

			break
		}

		if chunk.ID == CIDFact {
			d.readFactChunk(chunk)
			continue
		}

		chunk.Drain()
	}

	d.pcmDataAccessed = true

	return nil
}

// WasPCMAccessed returns positively if the PCM data was previously accessed.
func (d *Decoder) WasPCMAccessed() bool {
	if d == nil {
		return false
	}

	return d.pcmDataAccessed
}

// FullPCMBuffer decodes the whole data chunk into memory as interleaved
// normalized samples. A trailing partial frame is dropped.
func (d *Decoder) FullPCMBuffer() (*audio.Float32Buffer, error) {
	if !d.WasPCMAccessed() {
		err := d.FwdToPCM()
		if err != nil {
			return nil, d.err
		}
	}

	if d.PCMChunk == nil {
		return nil, ErrPCMChunkNotFound
	}

	decodeF, err := sampleDecodeFloat32Func(int(d.BitDepth), d.WavAudioFormat)
	if err != nil {
		return nil, err
	}

	if d.pcmReader == nil {
		d.pcmReader = bufio.NewReader(d.PCMChunk.R)
	}

	bPerSample := bytesPerSample(int(d.BitDepth))
	sampleBuf := make([]byte, bPerSample)

	// streaming writers leave 0xFFFFFFFF in the size field
	data := make([]float32, 0, min(d.PCMSize/bPerSample, maxPreallocSamples))

	for {
		value, err := decodeF(d.pcmReader, sampleBuf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}

			return nil, fmt.Errorf("failed to decode PCM data: %w", err)
		}

		data = append(data, value)
	}

	if n := int(d.NumChans); n > 0 {
		data = data[:len(data)-len(data)%n]
	}

	return &audio.Float32Buffer{
		Data:           data,
		Format:         d.Format(),
		SourceBitDepth: int(d.BitDepth),
	}, nil
}

// PCMBuffer fills buf with the next interleaved samples and returns how
// many were decoded. Zero with a nil error signals the end of the data.
func (d *Decoder) PCMBuffer(buf *audio.Float32Buffer) (int, error) {
	if buf == nil {
		return 0, nil
	}

	if !d.pcmDataAccessed {
		err := d.FwdToPCM()
		if err != nil {
			return 0, d.err
		}
	}

	if d.PCMChunk == nil {
		return 0, ErrPCMChunkNotFound
	}

	if d.pcmReader == nil {
		d.pcmReader = bufio.NewReader(d.PCMChunk.R)
	}

	decodeF, err := sampleDecodeFloat32Func(int(d.BitDepth), d.WavAudioFormat)
	if err != nil {
		return 0, err
	}

	buf.Format = d.Format()
	buf.SourceBitDepth = int(d.BitDepth)

	sampleBuf := make([]byte, bytesPerSample(int(d.BitDepth)))

	var n int
	for n = 0; n < len(buf.Data); n++ {
		buf.Data[n], err = decodeF(d.pcmReader, sampleBuf)
		if err != nil {
			break
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}

	return n, err
}

// Decode reads the whole file and returns it split per channel.
func (d *Decoder) Decode() (DecodedAudio, error) {
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return DecodedAudio{}, err
	}

	return FromInterleaved(buf)
}

// Format returns the audio format of the decoded content.
func (d *Decoder) Format() *audio.Format {
	if d == nil {
		return nil
	}

	return &audio.Format{
		NumChannels: int(d.NumChans),
		SampleRate:  int(d.SampleRate),
	}
}

// Duration returns the time duration for the current audio container.
// Once the data chunk has been located its exact size is used, before
// that the estimate of the riff parser.
func (d *Decoder) Duration() (time.Duration, error) {
	if d == nil || d.parser == nil {
		return 0, ErrDurationNilPointer
	}

	if d.PCMChunk != nil && d.AvgBytesPerSec > 0 {
		return time.Duration(float64(d.PCMSize) / float64(d.AvgBytesPerSec) * float64(time.Second)), nil
	}

	dur, err := d.parser.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to get duration: %w", err)
	}

	return dur, nil
}

// String implements the Stringer interface.
func (d *Decoder) String() string {
	return fmt.Sprintf("%d Hz @ %d bits, %d channel(s), %s",
		d.SampleRate, d.BitDepth, d.NumChans, formatName(d.WavAudioFormat))
}

// nextChunk reads the next chunk header. Odd sized chunks carry a pad
// byte; it is included in every chunk but the data chunk, which is
// limited to the real payload.
func (d *Decoder) nextChunk() (*riff.Chunk, error) {
	id, size, err := d.parser.IDnSize()
	if err != nil {
		return nil, fmt.Errorf("error reading chunk header - %w", err)
	}

	limit := int64(size)
	if id != riff.DataFormatID && size%2 == 1 {
		limit++
	}

	return &riff.Chunk{
		ID:   id,
		Size: int(limit),
		R:    io.LimitReader(d.r, limit),
	}, nil
}

// readHeaders is safe to call multiple times.
func (d *Decoder) readHeaders() error {
	if d == nil || d.NumChans > 0 {
		return nil
	}

	id, size, err := d.parser.IDnSize()
	if err != nil {
		return fmt.Errorf("failed to read chunk ID and size: %w", err)
	}

	d.parser.ID = id
	if d.parser.ID != riff.RiffID {
		return fmt.Errorf("%s - %w", d.parser.ID, riff.ErrFmtNotSupported)
	}

	d.parser.Size = size

	err = binary.Read(d.r, binary.BigEndian, &d.parser.Format)
	if err != nil {
		return fmt.Errorf("failed to read format: %w", err)
	}

	if d.parser.Format != riff.WavFormatID {
		return fmt.Errorf("%s - %w", d.parser.Format, riff.ErrFmtNotSupported)
	}

	for {
		chunk, err := d.nextChunk()
		if err != nil {
			return err
		}

		if chunk.ID == riff.FmtID {
			return d.processFmtChunk(chunk)
		}

		if chunk.ID == CIDFact {
			d.readFactChunk(chunk)
			continue
		}

		// LIST, bext, JUNK and friends may precede fmt; they carry
		// nothing the normalized output keeps.
		chunk.Drain()
	}
}

func (d *Decoder) processFmtChunk(chunk *riff.Chunk) error {
	fmtChunk, err := decodeFmtChunk(chunk)
	if err != nil {
		return fmt.Errorf("failed to decode fmt chunk: %w", err)
	}

	d.FmtChunk = fmtChunk
	d.NumChans = fmtChunk.NumChannels
	d.BitDepth = fmtChunk.BitsPerSample
	d.SampleRate = fmtChunk.SampleRate
	d.AvgBytesPerSec = fmtChunk.AvgBytesPerSec
	d.BlockAlign = fmtChunk.BlockAlign
	d.WavAudioFormat = fmtChunk.EffectiveFormatTag()

	d.parser.NumChannels = fmtChunk.NumChannels
	d.parser.SampleRate = fmtChunk.SampleRate
	d.parser.AvgBytesPerSec = fmtChunk.AvgBytesPerSec
	d.parser.BlockAlign = fmtChunk.BlockAlign
	d.parser.BitsPerSample = fmtChunk.BitsPerSample
	d.parser.WavAudioFormat = d.WavAudioFormat

	if d.NumChans < 1 {
		return fmt.Errorf("%w in fmt chunk", ErrNoChannels)
	}

	return nil
}

func (d *Decoder) readFactChunk(chunk *riff.Chunk) {
	var sampleCount uint32
	if err := chunk.ReadLE(&sampleCount); err == nil {
		d.CompressedSamples = sampleCount
	}

	chunk.Drain()
}

func decodeFmtChunk(chunk *riff.Chunk) (*FmtChunk, error) {
	if chunk == nil {
		return nil, errNilChunk
	}

	fmtChunk := &FmtChunk{}

	err := chunk.ReadLE(&fmtChunk.FormatTag)
	if err != nil {
		return nil, fmt.Errorf("failed to read wav format: %w", err)
	}

	err = chunk.ReadLE(&fmtChunk.NumChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to read channels: %w", err)
	}

	err = chunk.ReadLE(&fmtChunk.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample rate: %w", err)
	}

	err = chunk.ReadLE(&fmtChunk.AvgBytesPerSec)
	if err != nil {
		return nil, fmt.Errorf("failed to read avg bytes/sec: %w", err)
	}

	err = chunk.ReadLE(&fmtChunk.BlockAlign)
	if err != nil {
		return nil, fmt.Errorf("failed to read block align: %w", err)
	}

	err = chunk.ReadLE(&fmtChunk.BitsPerSample)
	if err != nil {
		return nil, fmt.Errorf("failed to read bit depth: %w", err)
	}

	if chunk.Size <= canonicalFmtSize {
		chunk.Drain()
		return fmtChunk, nil
	}

	var extraSize uint16

	err = chunk.ReadLE(&extraSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read fmt extension size: %w", err)
	}

	if extraSize > 0 {
		fmtChunk.ExtraData = make([]byte, extraSize)

		_, err := io.ReadFull(chunk, fmtChunk.ExtraData)
		if err != nil {
			return nil, fmt.Errorf("failed to read fmt extension data: %w", err)
		}
	}

	if fmtChunk.FormatTag == wavFormatExtensible {
		fmtChunk.Extensible = parseExtensible(fmtChunk.ExtraData)
	}

	chunk.Drain()

	return fmtChunk, nil
}

func bytesPerSample(bitDepth int) int {
	return (bitDepth-1)/8 + 1
}

func isUnsupportedCompressedFormat(wavFormat uint16) bool {
	switch wavFormat {
	case wavFormatGSM610, 34, 6172:
		return true
	default:
		return false
	}
}

func unsupportedCompressedFormatError(wavFormat uint16) error {
	var name string

	switch wavFormat {
	case wavFormatGSM610:
		name = "GSM 6.10"
	case 34:
		name = "TrueSpeech"
	case 6172:
		name = "Voxware"
	default:
		name = fmt.Sprintf("format tag %d", wavFormat)
	}

	return fmt.Errorf("%w: %s (format tag %d)", ErrUnsupportedCompressedFormat, name, wavFormat)
}

// sampleDecodeFunc returns a function that can be used to convert
// a byte range into an int value based on the amount of bits used per sample.
// Note that 8bit samples are unsigned, all other values are signed.
func sampleDecodeFunc(bitsPerSample int) (func(io.Reader, []byte) (int, error), error) {
	// NOTE: WAV PCM data is stored using little-endian
	switch {
	case bitsPerSample == 8:
		return func(r io.Reader, buf []byte) (int, error) {
			_, err := io.ReadFull(r, buf[:1])
			return int(buf[0]), err
		}, nil
	case bitsPerSample > 8 && bitsPerSample <= 16:
		return func(r io.Reader, buf []byte) (int, error) {
			_, err := io.ReadFull(r, buf[:2])
			return int(int16(binary.LittleEndian.Uint16(buf[:2]))), err
		}, nil
	case bitsPerSample > 16 && bitsPerSample <= 24:
		return func(r io.Reader, buf []byte) (int, error) {
			_, err := io.ReadFull(r, buf[:3])
			if err != nil {
				return 0, err
			}

			return int(audio.Int24LETo32(buf[:3])), nil
		}, nil
	case bitsPerSample > 24 && bitsPerSample <= 32:
		return func(r io.Reader, buf []byte) (int, error) {
			_, err := io.ReadFull(r, buf[:4])
			return int(int32(binary.LittleEndian.Uint32(buf[:4]))), err
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", errUnhandledByteDepth, bitsPerSample)
	}
}

// sampleDecodeFloat32Func returns a function that can be used to convert
// a byte range into a normalized float32 value.
func sampleDecodeFloat32Func(bitsPerSample int, wavFormat uint16) (func(io.Reader, []byte) (float32, error), error) {
	switch {
	case wavFormat == wavFormatIEEEFloat:
		switch bitsPerSample {
		case 32:
			return func(r io.Reader, buf []byte) (float32, error) {
				_, err := io.ReadFull(r, buf[:4])
				if err != nil {
					return 0, err
				}

				return math.Float32frombits(binary.LittleEndian.Uint32(buf[:4])), nil
			}, nil
		case 64:
			return func(r io.Reader, buf []byte) (float32, error) {
				_, err := io.ReadFull(r, buf[:8])
				if err != nil {
					return 0, err
				}

				value := math.Float64frombits(binary.LittleEndian.Uint64(buf[:8]))

				return float32(clampFloat64(value, -1, 1)), nil
			}, nil
		default:
			return nil, fmt.Errorf("%w: %d", errUnhandledFloatBitDepth, bitsPerSample)
		}
	case wavFormat == wavFormatALaw:
		if bitsPerSample != 8 {
			return nil, fmt.Errorf("%w: %d", errUnsupportedALawBitDepth, bitsPerSample)
		}

		return func(r io.Reader, buf []byte) (float32, error) {
			_, err := io.ReadFull(r, buf[:1])
			if err != nil {
				return 0, err
			}

			return normalizePCMInt(int(decodeALawSample(buf[0])), 16), nil
		}, nil
	case wavFormat == wavFormatMuLaw:
		if bitsPerSample != 8 {
			return nil, fmt.Errorf("%w: %d", errUnsupportedMuLawBitDepth, bitsPerSample)
		}

		return func(r io.Reader, buf []byte) (float32, error) {
			_, err := io.ReadFull(r, buf[:1])
			if err != nil {
				return 0, err
			}

			return normalizePCMInt(int(decodeMuLawSample(buf[0])), 16), nil
		}, nil
	case isUnsupportedCompressedFormat(wavFormat):
		return nil, unsupportedCompressedFormatError(wavFormat)
	case wavFormat != wavFormatPCM:
		return nil, fmt.Errorf("%w: %d", errUnsupportedWavFormat, wavFormat)
	}

	decodeInt, err := sampleDecodeFunc(bitsPerSample)
	if err != nil {
		return nil, fmt.Errorf("failed to create int decoder: %w", err)
	}

	storageBitsPerSample := bytesPerSample(bitsPerSample) * 8

	return func(r io.Reader, buf []byte) (float32, error) {
		value, err := decodeInt(r, buf)
		if err != nil {
			return 0, err
		}

		return normalizePCMInt(value, storageBitsPerSample), nil
	}, nil
}
