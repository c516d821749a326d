// Package wavscribe normalizes audio for speech transcription.
//
// The core of the package is Encode, which turns de-interleaved float
// samples into a canonical WAV container: a fixed 44-byte RIFF header
// followed by interleaved little-endian signed 16-bit PCM. Samples are
// clamped to [-1, 1] and scaled asymmetrically (x32768 below zero,
// x32767 above) so that the full int16 range is used without overflow.
//
// Around it sit a streaming Encoder writing the same layout to an
// io.WriteSeeker, a Decoder for PCM, IEEE float, A-law and mu-law WAV
// files, and DecodeFile/Normalize which also accept AIFF input.
package wavscribe
