package wavscribe

const (
	wavFormatPCM       = 1
	wavFormatIEEEFloat = 3
	scalePCMInt8       = 127.5
	scalePCMInt16      = 32768.0
	scalePCMInt24      = 8388608.0
	scalePCMInt32      = 2147483648.0
	floatPCM8Center    = 127.5

	// Positive samples scale by the largest int16 so that +1.0 lands on
	// 32767 instead of wrapping, negative ones by 32768 to reach -32768.
	pcm16PositiveScale = 32767.0
	pcm16NegativeScale = 32768.0
)

func clampFloat32(value, min, max float32) float32 {
	if value < min {
		return min
	}

	if value > max {
		return max
	}

	return value
}

func clampFloat64(value, min, max float64) float64 {
	if value < min {
		return min
	}

	if value > max {
		return max
	}

	return value
}

// normalizePCMInt maps a stored integer sample onto [-1, 1].
func normalizePCMInt(sample int, bitDepth int) float32 {
	switch bitDepth {
	case 8:
		return float32((float64(sample) - floatPCM8Center) / scalePCMInt8)
	case 16:
		return float32(float64(sample) / scalePCMInt16)
	case 24:
		return float32(float64(sample) / scalePCMInt24)
	case 32:
		return float32(float64(sample) / scalePCMInt32)
	default:
		return 0
	}
}

// float32ToPCM16 converts a float sample to a signed 16-bit value.
// The sample is clamped to [-1, 1], scaled asymmetrically and truncated
// toward zero. NaN converts to silence.
func float32ToPCM16(value float32) int16 {
	if value != value {
		return 0
	}

	v := float64(clampFloat32(value, -1, 1))
	if v < 0 {
		return int16(v * pcm16NegativeScale)
	}

	return int16(v * pcm16PositiveScale)
}
