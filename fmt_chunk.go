package wavscribe

import "encoding/binary"

const (
	wavFormatALaw       = 6
	wavFormatMuLaw      = 7
	wavFormatGSM610     = 49
	wavFormatExtensible = 0xFFFE

	fmtExtensibleSize = 22
)

// FmtChunk stores the parsed WAV fmt chunk, including extensible metadata.
type FmtChunk struct {
	FormatTag      uint16
	NumChannels    uint16
	SampleRate     uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	ExtraData      []byte
	Extensible     *FmtExtensible
}

// FmtExtensible stores WAVE_FORMAT_EXTENSIBLE extra fields.
type FmtExtensible struct {
	ValidBitsPerSample uint16
	ChannelMask        uint32
	SubFormat          [16]byte
}

// EffectiveFormatTag resolves WAVE_FORMAT_EXTENSIBLE to its sub-format.
func (f *FmtChunk) EffectiveFormatTag() uint16 {
	if f == nil {
		return 0
	}

	if f.FormatTag == wavFormatExtensible && f.Extensible != nil {
		return binary.LittleEndian.Uint16(f.Extensible.SubFormat[:2])
	}

	return f.FormatTag
}

// IsCanonical reports whether the format matches what Encode writes.
func (f *FmtChunk) IsCanonical() bool {
	return f != nil &&
		f.FormatTag == wavFormatPCM &&
		f.BitsPerSample == canonicalBitDepth &&
		len(f.ExtraData) == 0
}

func parseExtensible(extra []byte) *FmtExtensible {
	if len(extra) < fmtExtensibleSize {
		return nil
	}

	ext := &FmtExtensible{
		ValidBitsPerSample: binary.LittleEndian.Uint16(extra[0:2]),
		ChannelMask:        binary.LittleEndian.Uint32(extra[2:6]),
	}
	copy(ext.SubFormat[:], extra[6:22])

	return ext
}

func formatName(tag uint16) string {
	switch tag {
	case wavFormatPCM:
		return "PCM"
	case wavFormatIEEEFloat:
		return "IEEE float"
	case wavFormatALaw:
		return "A-law"
	case wavFormatMuLaw:
		return "mu-law"
	case wavFormatGSM610:
		return "GSM 6.10"
	case wavFormatExtensible:
		return "extensible"
	default:
		return "unknown"
	}
}
