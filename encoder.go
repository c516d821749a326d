package wavscribe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
)

var (
	errNilBuffer           = errors.New("can't add a nil buffer")
	errNilEncoder          = errors.New("can't write a nil encoder")
	errNilWriter           = errors.New("can't write to a nil writer")
	errEncoderClosed       = errors.New("encoder already closed")
	errPartialFrame        = errors.New("incomplete frame")
	errChannelCountChanged = errors.New("buffer channel count differs from encoder")
)

// Encoder writes the canonical PCM16 container incrementally. The header
// is written with placeholder sizes and patched on Close, so the output
// is byte-identical to Encode for the same samples.
type Encoder struct {
	w   io.WriteSeeker
	buf *bytes.Buffer

	SampleRate int
	NumChans   int

	WrittenBytes int
	samples      int
	wroteHeader  bool
	closed       bool
}

// NewEncoder creates an encoder writing to w.
// Don't forget to Close the encoder or the sizes in the header stay unset.
func NewEncoder(w io.WriteSeeker, sampleRate, numChans int) *Encoder {
	capacity := 0
	if numChans > 0 {
		capacity = bytesNumFromDuration(time.Second, sampleRate, canonicalBitDepth) * numChans
	}

	return &Encoder{
		w:          w,
		buf:        bytes.NewBuffer(make([]byte, 0, capacity)),
		SampleRate: sampleRate,
		NumChans:   numChans,
	}
}

// Frames returns the number of complete frames written so far.
func (e *Encoder) Frames() int {
	if e == nil || e.NumChans < 1 {
		return 0
	}

	return e.samples / e.NumChans
}

func (e *Encoder) writeHeader() error {
	if e == nil {
		return errNilEncoder
	}

	if e.w == nil {
		return errNilWriter
	}

	if e.wroteHeader {
		return nil
	}

	if e.NumChans < 1 {
		return ErrNoChannels
	}

	if e.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, e.SampleRate)
	}

	var hdr [HeaderSize]byte
	putHeader(hdr[:], e.NumChans, e.SampleRate, 0)

	n, err := e.w.Write(hdr[:])
	e.WrittenBytes += n

	if err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	e.wroteHeader = true

	return nil
}

// Write encodes and writes the interleaved buffer to the underlying writer.
func (e *Encoder) Write(buf *audio.Float32Buffer) error {
	if buf == nil {
		return errNilBuffer
	}

	if err := e.writeHeader(); err != nil {
		return err
	}

	if e.closed {
		return errEncoderClosed
	}

	if buf.Format != nil && buf.Format.NumChannels != 0 && buf.Format.NumChannels != e.NumChans {
		return fmt.Errorf("%w: %d != %d", errChannelCountChanged, buf.Format.NumChannels, e.NumChans)
	}

	var sample [canonicalBytesPerSamp]byte
	for _, val := range buf.Data {
		binary.LittleEndian.PutUint16(sample[:], uint16(float32ToPCM16(val)))
		e.buf.Write(sample[:])
	}

	e.samples += len(buf.Data)

	return e.flush()
}

// WriteFrame writes a single sample. Channels are written in order, so a
// stereo frame takes two calls.
func (e *Encoder) WriteFrame(value float32) error {
	if err := e.writeHeader(); err != nil {
		return err
	}

	if e.closed {
		return errEncoderClosed
	}

	var sample [canonicalBytesPerSamp]byte
	binary.LittleEndian.PutUint16(sample[:], uint16(float32ToPCM16(value)))

	n, err := e.w.Write(sample[:])
	e.WrittenBytes += n

	if err != nil {
		return fmt.Errorf("failed to write sample: %w", err)
	}

	e.samples++

	return nil
}

func (e *Encoder) flush() error {
	n, err := e.w.Write(e.buf.Bytes())
	e.WrittenBytes += n
	e.buf.Reset()

	if err != nil {
		return fmt.Errorf("failed to write buffer: %w", err)
	}

	return nil
}

// Close patches the RIFF and data sizes in the header.
// Note that the underlying writer is NOT being closed.
func (e *Encoder) Close() error {
	if e == nil || e.w == nil {
		return nil
	}

	if e.closed {
		return nil
	}

	if err := e.writeHeader(); err != nil {
		return err
	}

	e.closed = true

	if e.samples%e.NumChans != 0 {
		return fmt.Errorf("%w: %d samples for %d channels", errPartialFrame, e.samples, e.NumChans)
	}

	dataSize := uint32(e.samples * canonicalBytesPerSamp)

	var size [4]byte

	// go back and write total size in header
	if _, err := e.w.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to file size position: %w", err)
	}

	binary.LittleEndian.PutUint32(size[:], 36+dataSize)

	if _, err := e.w.Write(size[:]); err != nil {
		return fmt.Errorf("%w when writing the total written bytes", err)
	}

	// rewrite the audio chunk length header
	if _, err := e.w.Seek(HeaderSize-4, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to PCM chunk size position: %w", err)
	}

	binary.LittleEndian.PutUint32(size[:], dataSize)

	if _, err := e.w.Write(size[:]); err != nil {
		return fmt.Errorf("%w when writing wav data chunk size header", err)
	}

	// jump back to the end of the file.
	if _, err := e.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end of file: %w", err)
	}

	if f, ok := e.w.(*os.File); ok {
		return f.Sync()
	}

	return nil
}
