package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

// MicrophoneConfig selects the capture format of the default input device.
type MicrophoneConfig struct {
	SampleRate int
	Channels   int
	// MaxDuration caps the recording; zero means unlimited.
	MaxDuration time.Duration
}

// Microphone captures 32-bit float samples from the default input device.
type Microphone struct {
	cfg    MicrophoneConfig
	logger logrus.FieldLogger

	mu        sync.Mutex
	mctx      *malgo.AllocatedContext
	device    *malgo.Device
	samples   []float32
	limit     int
	startedAt time.Time
	truncated bool
}

// NewMicrophone creates a microphone source. Zero values fall back to
// mono at 44100 Hz.
func NewMicrophone(cfg MicrophoneConfig, logger logrus.FieldLogger) *Microphone {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}

	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}

	return &Microphone{cfg: cfg, logger: logger}
}

// Start opens the capture device and begins recording.
func (m *Microphone) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return ErrAlreadyRecording
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.logger.Debug(strings.TrimSpace(message))
	})
	if err != nil {
		return fmt.Errorf("failed to init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(m.cfg.Channels)
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		freeContext(mctx)
		return fmt.Errorf("failed to init microphone: %w", err)
	}

	m.samples = make([]float32, 0, m.cfg.SampleRate*m.cfg.Channels)
	m.limit = int(m.cfg.MaxDuration.Seconds() * float64(m.cfg.SampleRate*m.cfg.Channels))
	m.truncated = false
	m.startedAt = time.Now()

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)

		return fmt.Errorf("failed to start microphone: %w", err)
	}

	m.mctx = mctx
	m.device = device

	m.logger.WithFields(logrus.Fields{
		"sample_rate": m.cfg.SampleRate,
		"channels":    m.cfg.Channels,
	}).Info("Microphone started")

	return nil
}

// Stop closes the device and returns everything captured since Start.
func (m *Microphone) Stop() (*Recording, error) {
	m.mu.Lock()
	device, mctx := m.device, m.mctx
	m.device, m.mctx = nil, nil
	m.mu.Unlock()

	if device == nil {
		return nil, ErrNotRecording
	}

	// the data callback takes m.mu, so the device is stopped unlocked
	if err := device.Stop(); err != nil {
		m.logger.WithError(err).Warn("Failed to stop microphone cleanly")
	}

	device.Uninit()
	freeContext(mctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &Recording{
		Samples:    m.samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
		StartedAt:  m.startedAt,
	}
	m.samples = nil

	if m.truncated {
		m.logger.WithField("max_duration", m.cfg.MaxDuration).Warn("Recording reached the maximum duration")
	}

	return rec, nil
}

func (m *Microphone) onData(_, input []byte, _ uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var full bool

	m.samples, full = appendF32LE(m.samples, input, m.limit)
	if full {
		m.truncated = true
	}
}

// appendF32LE decodes little-endian float32 samples onto dst. A positive
// limit caps len(dst); the second result reports that samples were dropped.
func appendF32LE(dst []float32, input []byte, limit int) ([]float32, bool) {
	n := len(input) / 4

	dropped := false
	if limit > 0 && len(dst)+n > limit {
		n = max(limit-len(dst), 0)
		dropped = true
	}

	for i := 0; i < n; i++ {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(input[4*i:])))
	}

	return dst, dropped
}

func freeContext(mctx *malgo.AllocatedContext) {
	if mctx == nil {
		return
	}

	_ = mctx.Uninit()
	mctx.Free()
}
