package capture

import (
	"context"
	"sync"
	"time"
)

// Buffer is an in-memory Source fed through Push. It replays decoded
// files through the same path as live capture and backs tests.
type Buffer struct {
	mu sync.Mutex

	sampleRate int
	channels   int

	samples   []float32
	recording bool
	startedAt time.Time
}

// NewBuffer creates a Buffer producing recordings in the given format.
func NewBuffer(sampleRate, channels int) *Buffer {
	return &Buffer{sampleRate: sampleRate, channels: channels}
}

// Start begins a new, empty recording.
func (b *Buffer) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.recording {
		return ErrAlreadyRecording
	}

	b.recording = true
	b.samples = nil
	b.startedAt = time.Now()

	return nil
}

// Push appends interleaved samples to the running recording.
func (b *Buffer) Push(samples ...float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.recording {
		return ErrNotRecording
	}

	b.samples = append(b.samples, samples...)

	return nil
}

// Stop ends the recording.
func (b *Buffer) Stop() (*Recording, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.recording {
		return nil, ErrNotRecording
	}

	b.recording = false

	rec := &Recording{
		Samples:    b.samples,
		SampleRate: b.sampleRate,
		Channels:   b.channels,
		StartedAt:  b.startedAt,
	}
	b.samples = nil

	return rec, nil
}
