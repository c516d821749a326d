package wavscribe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"testing"
)

type testChunk struct {
	id   string
	size uint32
	data []byte
}

var (
	errFileTooSmall         = errors.New("file too small")
	errInvalidRiffWaveHdr   = errors.New("invalid riff/wave header")
	errChunkExceedsFileSize = errors.New("chunk exceeds file size")
)

func parseWavChunks(data []byte) ([]testChunk, error) {
	if len(data) < 12 {
		return nil, errFileTooSmall
	}

	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errInvalidRiffWaveHdr
	}

	chunks := make([]testChunk, 0)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		end := offset + int(size)
		if end > len(data) {
			return nil, fmt.Errorf("%w: %q", errChunkExceedsFileSize, id)
		}

		payload := append([]byte(nil), data[offset:end]...)
		chunks = append(chunks, testChunk{id: id, size: size, data: payload})

		offset = end
		if size%2 == 1 {
			offset++
		}
	}

	return chunks, nil
}

// wavSpec describes a hand-built RIFF/WAVE file.
type wavSpec struct {
	formatTag  uint16
	numChans   uint16
	sampleRate uint32
	bitDepth   uint16
	// fmtExtra is appended after the 16 byte fmt body, prefixed by its size.
	fmtExtra []byte
	data     []byte
	// before, between and after hold raw chunks written around fmt/data.
	before  []testChunk
	between []testChunk
	after   []testChunk
	// dataSize overrides the size written in the data header when non-zero.
	dataSize uint32
}

func writeTestChunk(buf *bytes.Buffer, id string, payload []byte, size uint32) {
	buf.WriteString(id)
	binary.Write(buf, binary.LittleEndian, size)
	buf.Write(payload)

	if len(payload)%2 == 1 {
		buf.WriteByte(0)
	}
}

func buildWav(spec wavSpec) []byte {
	body := &bytes.Buffer{}
	body.WriteString("WAVE")

	for _, ch := range spec.before {
		writeTestChunk(body, ch.id, ch.data, uint32(len(ch.data)))
	}

	fmtBody := &bytes.Buffer{}
	blockAlign := spec.numChans * uint16(bytesPerSample(int(spec.bitDepth)))
	binary.Write(fmtBody, binary.LittleEndian, spec.formatTag)
	binary.Write(fmtBody, binary.LittleEndian, spec.numChans)
	binary.Write(fmtBody, binary.LittleEndian, spec.sampleRate)
	binary.Write(fmtBody, binary.LittleEndian, spec.sampleRate*uint32(blockAlign))
	binary.Write(fmtBody, binary.LittleEndian, blockAlign)
	binary.Write(fmtBody, binary.LittleEndian, spec.bitDepth)

	if spec.fmtExtra != nil {
		binary.Write(fmtBody, binary.LittleEndian, uint16(len(spec.fmtExtra)))
		fmtBody.Write(spec.fmtExtra)
	}

	writeTestChunk(body, "fmt ", fmtBody.Bytes(), uint32(fmtBody.Len()))

	for _, ch := range spec.between {
		writeTestChunk(body, ch.id, ch.data, uint32(len(ch.data)))
	}

	dataSize := spec.dataSize
	if dataSize == 0 {
		dataSize = uint32(len(spec.data))
	}

	writeTestChunk(body, "data", spec.data, dataSize)

	for _, ch := range spec.after {
		writeTestChunk(body, ch.id, ch.data, uint32(len(ch.data)))
	}

	out := &bytes.Buffer{}
	out.WriteString("RIFF")
	binary.Write(out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())

	return out.Bytes()
}

func int16LE(values ...int16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}

	return out
}

func extensibleFmt(subFormat uint16, validBits uint16) []byte {
	extra := make([]byte, fmtExtensibleSize)
	binary.LittleEndian.PutUint16(extra[0:2], validBits)
	binary.LittleEndian.PutUint32(extra[2:6], 0x3)
	binary.LittleEndian.PutUint16(extra[6:8], subFormat)
	copy(extra[12:22], []byte{0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38})

	return extra
}

func sine(n int, freq, sampleRate, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}

	return out
}

// seekBuffer is an in-memory io.WriteSeeker.
type seekBuffer struct {
	data []byte
	pos  int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.data) {
		s.data = append(s.data, make([]byte, end-len(s.data))...)
	}

	copy(s.data[s.pos:end], p)
	s.pos = end

	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = len(s.data)
	}

	next := base + int(offset)
	if next < 0 {
		return 0, errors.New("negative position")
	}

	s.pos = next

	return int64(next), nil
}

func mustEncode(t *testing.T, a DecodedAudio) []byte {
	t.Helper()

	out, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	return out
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := t.TempDir() + string(os.PathSeparator) + name
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	return path
}

const (
	muLawClip = 8159
	aLawClip  = 0x0FFF
)

var (
	muLawSegmentEnd = [8]int{0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF}
	aLawSegmentEnd  = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}
)

func searchSegment(value int, table [8]int) int {
	for i, end := range table {
		if value <= end {
			return i
		}
	}

	return len(table)
}

// encodeMuLawSample compresses a sample to build mu-law fixtures.
func encodeMuLawSample(pcm int16) byte {
	value := int(pcm) >> 2
	mask := byte(0xFF)

	if value < 0 {
		value = -value
		mask = 0x7F
	}

	if value > muLawClip {
		value = muLawClip
	}

	value += muLawBias >> 2

	segment := searchSegment(value, muLawSegmentEnd)
	if segment >= 8 {
		return 0x7F ^ mask
	}

	encoded := byte(segment<<4) | byte((value>>(segment+1))&0x0F)

	return encoded ^ mask
}

// encodeALawSample compresses a sample to build A-law fixtures.
func encodeALawSample(pcm int16) byte {
	value := int(pcm) >> 3
	mask := byte(0xD5)

	if value < 0 {
		value = -value - 1
		mask = 0x55
	}

	if value > aLawClip {
		value = aLawClip
	}

	segment := searchSegment(value, aLawSegmentEnd)
	if segment >= 8 {
		return 0x7F ^ mask
	}

	encoded := byte(segment << 4)
	if segment < 2 {
		encoded |= byte((value >> 1) & 0x0F)
	} else {
		encoded |= byte((value >> segment) & 0x0F)
	}

	return encoded ^ mask
}
