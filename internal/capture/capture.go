// Package capture records audio into memory so it can be encoded and
// submitted for transcription.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/audio"

	"github.com/cwbudde/wavscribe"
)

// Default capture format, mono at CD rate.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 1
)

var (
	// ErrAlreadyRecording is returned by Start while a capture is running.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop and Push without a running capture.
	ErrNotRecording = errors.New("not recording")
	errNilRecording = errors.New("nil recording")
)

// Source produces a Recording between Start and Stop.
type Source interface {
	Start(ctx context.Context) error
	Stop() (*Recording, error)
}

// Recording holds captured interleaved float samples.
type Recording struct {
	Samples    []float32
	SampleRate int
	Channels   int
	StartedAt  time.Time
}

// Frames returns the number of complete frames.
func (r *Recording) Frames() int {
	if r == nil || r.Channels < 1 {
		return 0
	}

	return len(r.Samples) / r.Channels
}

// Duration returns the playback length of the recording.
func (r *Recording) Duration() time.Duration {
	if r == nil || r.SampleRate < 1 {
		return 0
	}

	return time.Duration(r.Frames()) * time.Second / time.Duration(r.SampleRate)
}

// Audio splits the recording into per-channel buffers.
func (r *Recording) Audio() (wavscribe.DecodedAudio, error) {
	if r == nil {
		return wavscribe.DecodedAudio{}, errNilRecording
	}

	decoded, err := wavscribe.FromInterleaved(&audio.Float32Buffer{
		Data:   r.Samples,
		Format: &audio.Format{NumChannels: r.Channels, SampleRate: r.SampleRate},
	})
	if err != nil {
		return wavscribe.DecodedAudio{}, fmt.Errorf("failed to split recording: %w", err)
	}

	return decoded, nil
}

// Record captures from src for length, or until ctx is done, and returns
// what was recorded. Cancelling ctx ends the recording early without error.
func Record(ctx context.Context, src Source, length time.Duration) (*Recording, error) {
	if err := src.Start(ctx); err != nil {
		return nil, err
	}

	timer := time.NewTimer(length)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	return src.Stop()
}
