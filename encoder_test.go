package wavscribe

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
)

func TestEncoderMatchesEncode(t *testing.T) {
	testCases := []struct {
		name     string
		channels int
		frames   int
		chunk    int
	}{
		{"mono single write", 1, 300, 300},
		{"mono chunked", 1, 1000, 64},
		{"stereo chunked", 2, 777, 50},
		{"empty", 2, 0, 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := DecodedAudio{SampleRate: 44100, Channels: make([][]float32, tc.channels)}
			for c := range a.Channels {
				a.Channels[c] = sine(tc.frames, 300*float64(c+1), 44100, 1.2)
			}

			want := mustEncode(t, a)

			out := &seekBuffer{}
			enc := NewEncoder(out, 44100, tc.channels)

			interleaved := a.Interleaved()
			step := tc.chunk * tc.channels

			for start := 0; start < len(interleaved.Data); start += step {
				end := min(start+step, len(interleaved.Data))

				err := enc.Write(&audio.Float32Buffer{
					Data:   interleaved.Data[start:end],
					Format: interleaved.Format,
				})
				if err != nil {
					t.Fatalf("Write: %v", err)
				}
			}

			if err := enc.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			if !bytes.Equal(out.data, want) {
				t.Fatalf("streaming output (%d bytes) differs from Encode (%d bytes)", len(out.data), len(want))
			}

			if enc.Frames() != tc.frames {
				t.Fatalf("Frames()=%d, want %d", enc.Frames(), tc.frames)
			}
		})
	}
}

func TestEncoderWriteFrame(t *testing.T) {
	out := &seekBuffer{}
	enc := NewEncoder(out, 8000, 2)

	for _, v := range []float32{0.5, -0.5, 1, -1} {
		if err := enc.WriteFrame(v); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := mustEncode(t, DecodedAudio{SampleRate: 8000, Channels: [][]float32{{0.5, 1}, {-0.5, -1}}})
	if !bytes.Equal(out.data, want) {
		t.Fatalf("got % X\nwant % X", out.data, want)
	}
}

func TestEncoderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	samples := sine(4410, 440, 44100, 0.7)

	enc := NewEncoder(f, 44100, 1)
	if err := enc.Write(&audio.Float32Buffer{Data: samples, Format: &audio.Format{NumChannels: 1, SampleRate: 44100}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if !IsCanonical(data) {
		t.Fatal("file written by Encoder is not canonical")
	}

	if want := mustEncode(t, DecodedAudio{SampleRate: 44100, Channels: [][]float32{samples}}); !bytes.Equal(data, want) {
		t.Fatal("file content differs from Encode")
	}
}

func TestEncoderErrors(t *testing.T) {
	t.Run("nil writer", func(t *testing.T) {
		enc := NewEncoder(nil, 8000, 1)
		if err := enc.WriteFrame(0); !errors.Is(err, errNilWriter) {
			t.Fatalf("err=%v, want errNilWriter", err)
		}
	})

	t.Run("no channels", func(t *testing.T) {
		enc := NewEncoder(&seekBuffer{}, 8000, 0)
		if err := enc.WriteFrame(0); !errors.Is(err, ErrNoChannels) {
			t.Fatalf("err=%v, want ErrNoChannels", err)
		}
	})

	t.Run("bad sample rate", func(t *testing.T) {
		enc := NewEncoder(&seekBuffer{}, 0, 1)
		if err := enc.Close(); !errors.Is(err, ErrInvalidSampleRate) {
			t.Fatalf("err=%v, want ErrInvalidSampleRate", err)
		}
	})

	t.Run("nil buffer", func(t *testing.T) {
		enc := NewEncoder(&seekBuffer{}, 8000, 1)
		if err := enc.Write(nil); !errors.Is(err, errNilBuffer) {
			t.Fatalf("err=%v, want errNilBuffer", err)
		}
	})

	t.Run("channel mismatch", func(t *testing.T) {
		enc := NewEncoder(&seekBuffer{}, 8000, 1)

		err := enc.Write(&audio.Float32Buffer{Data: []float32{0, 0}, Format: &audio.Format{NumChannels: 2}})
		if !errors.Is(err, errChannelCountChanged) {
			t.Fatalf("err=%v, want errChannelCountChanged", err)
		}
	})

	t.Run("partial frame", func(t *testing.T) {
		enc := NewEncoder(&seekBuffer{}, 8000, 2)
		if err := enc.WriteFrame(0.1); err != nil {
			t.Fatal(err)
		}

		if err := enc.Close(); !errors.Is(err, errPartialFrame) {
			t.Fatalf("err=%v, want errPartialFrame", err)
		}
	})

	t.Run("write after close", func(t *testing.T) {
		enc := NewEncoder(&seekBuffer{}, 8000, 1)
		if err := enc.Close(); err != nil {
			t.Fatal(err)
		}

		if err := enc.WriteFrame(0); !errors.Is(err, errEncoderClosed) {
			t.Fatalf("err=%v, want errEncoderClosed", err)
		}
	})
}

func TestEncoderCloseWithoutSamples(t *testing.T) {
	out := &seekBuffer{}

	enc := NewEncoder(out, 48000, 1)
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(out.data) != HeaderSize || !IsCanonical(out.data) {
		t.Fatalf("expected a canonical header-only file, got %d bytes", len(out.data))
	}
}
