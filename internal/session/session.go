// Package session holds the state of one transcription session: recording,
// uploading files, and keeping, downloading or clearing the transcript.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/wavscribe"
	"github.com/cwbudde/wavscribe/internal/capture"
	"github.com/cwbudde/wavscribe/internal/metrics"
	"github.com/cwbudde/wavscribe/internal/transcribe"
)

// RecordingName is the filename under which captured audio is uploaded.
const RecordingName = "recording.wav"

// Status texts shown to the user.
const (
	StatusRecording    = "Recording..."
	StatusProcessing   = "Processing audio..."
	StatusComplete     = "Transcription complete!"
	StatusDownloaded   = "Transcript downloaded successfully!"
	StatusCleared      = "Transcript cleared"
	StatusNotWAV       = "Error: Please upload a WAV file only"
	StatusNoText       = "No text to download"
	StatusNothingClear = "Nothing to clear"
)

var (
	// ErrNothingToDownload is returned by DownloadTranscript without a transcript.
	ErrNothingToDownload = errors.New("no text to download")
	// ErrNothingToClear is returned by Clear without a transcript.
	ErrNothingToClear = errors.New("nothing to clear")
	// ErrNotWAV is returned by UploadFile for content other than audio/wav.
	ErrNotWAV = errors.New("please upload a WAV file only")
	// ErrBusy is returned while a recording is being processed.
	ErrBusy = errors.New("session is processing audio")
	// ErrNoRecording is returned by SaveRecording before anything was recorded.
	ErrNoRecording = errors.New("no recording available")

	errNoSource = errors.New("no capture source configured")
)

// State of a session.
type State int

// Session states.
const (
	Idle State = iota
	Recording
	Processing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transcriber turns canonical WAV bytes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, wav []byte) (*transcribe.Result, error)
}

// Store persists transcripts and recordings and returns where they went.
type Store interface {
	SaveTranscript(name, text string) (string, error)
	SaveRecording(name string, wav []byte) (string, error)
}

// Deps are the collaborators of a Session. Source and Store may be nil
// when the caller never records or never saves.
type Deps struct {
	Source      capture.Source
	Transcriber Transcriber
	Store       Store
	Logger      logrus.FieldLogger
	Metrics     *metrics.Metrics
}

// Option customizes a Session.
type Option func(*Session)

// WithNormalizeUploads re-encodes uploaded files that are not canonical
// PCM16 WAV before submitting them.
func WithNormalizeUploads(enabled bool) Option {
	return func(s *Session) { s.normalizeUploads = enabled }
}

// View is a snapshot of what a user interface would display.
type View struct {
	State          State
	Status         string
	IsError        bool
	Transcript     string
	ActionsVisible bool
}

// Session is the explicit state of one user's transcription workflow.
type Session struct {
	deps             Deps
	logger           logrus.FieldLogger
	normalizeUploads bool

	mu             sync.Mutex
	state          State
	status         string
	isError        bool
	transcript     string
	actionsVisible bool
	wav            []byte
}

// New creates a Session in the Idle state.
func New(deps Deps, opts ...Option) *Session {
	s := &Session{deps: deps, logger: deps.Logger}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Toggle starts a recording when none is running and stops it otherwise.
func (s *Session) Toggle(ctx context.Context) error {
	s.mu.Lock()
	recording := s.state == Recording
	s.mu.Unlock()

	if recording {
		return s.Stop(ctx)
	}

	return s.Start(ctx)
}

// Start begins capturing from the configured source.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Recording:
		return capture.ErrAlreadyRecording
	case Processing:
		return ErrBusy
	}

	if s.deps.Source == nil {
		s.failLocked(errNoSource)
		return errNoSource
	}

	if err := s.deps.Source.Start(ctx); err != nil {
		s.failLocked(err)
		return fmt.Errorf("failed to start capture: %w", err)
	}

	s.state = Recording
	s.setStatusLocked(StatusRecording, false)
	s.logger.Info("Recording started")

	return nil
}

// Stop ends the recording, encodes it and submits it for transcription.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return capture.ErrNotRecording
	}

	s.state = Processing
	s.setStatusLocked(StatusProcessing, false)
	s.mu.Unlock()

	rec, err := s.deps.Source.Stop()
	if err != nil {
		return s.fail(fmt.Errorf("failed to stop capture: %w", err))
	}

	s.deps.Metrics.ObserveRecording(rec.Duration())

	decoded, err := rec.Audio()
	if err != nil {
		return s.fail(err)
	}

	start := time.Now()

	// Only Stop writes s.wav and it runs in the Processing state, so the
	// buffer is not touched concurrently until the upload returns.
	wav, err := wavscribe.AppendEncode(s.wav[:0], decoded)
	if err != nil {
		return s.fail(fmt.Errorf("failed to encode recording: %w", err))
	}

	s.deps.Metrics.ObserveEncode(len(wav), time.Since(start))

	s.mu.Lock()
	s.wav = wav
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"frames":   rec.Frames(),
		"duration": rec.Duration(),
		"bytes":    len(wav),
	}).Info("Recording stopped")

	return s.submit(ctx, RecordingName, wav)
}

// UploadFile submits an existing file. Only audio/wav content is accepted.
func (s *Session) UploadFile(ctx context.Context, name, contentType string, data []byte) error {
	s.mu.Lock()
	if s.state == Recording || s.state == Processing {
		s.mu.Unlock()
		return ErrBusy
	}

	if contentType != wavscribe.ContentTypeWAV {
		s.state = Failed
		s.setStatusLocked(StatusNotWAV, true)
		s.mu.Unlock()

		return fmt.Errorf("%w: got %q", ErrNotWAV, contentType)
	}

	s.state = Processing
	s.transcript = ""
	s.setStatusLocked(StatusProcessing, false)
	s.mu.Unlock()

	if s.normalizeUploads && !wavscribe.IsCanonical(data) {
		start := time.Now()

		normalized, err := wavscribe.NormalizeBytes(data)
		if err != nil {
			return s.fail(fmt.Errorf("failed to normalize %s: %w", name, err))
		}

		s.deps.Metrics.ObserveEncode(len(normalized), time.Since(start))
		s.logger.WithFields(logrus.Fields{
			"file":   name,
			"before": len(data),
			"after":  len(normalized),
		}).Debug("Normalized upload")

		data = normalized
	}

	return s.submit(ctx, name, data)
}

func (s *Session) submit(ctx context.Context, name string, wav []byte) error {
	res, err := s.deps.Transcriber.Transcribe(ctx, name, wav)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Done
	s.transcript = res.Text
	s.actionsVisible = true
	s.setStatusLocked(StatusComplete, false)

	s.logger.WithFields(logrus.Fields{
		"file":       name,
		"request_id": res.RequestID,
		"attempts":   res.Attempts,
		"chars":      len(res.Text),
	}).Info("Transcription complete")

	return nil
}

// TranscriptFilename returns the download name for a transcript saved at now.
func TranscriptFilename(now time.Time) string {
	return "speech_transcript_" + now.UTC().Format("2006-01-02T15-04-05") + ".txt"
}

// DownloadTranscript saves the transcript through the Store and returns
// its location.
func (s *Session) DownloadTranscript(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transcript == "" {
		s.setStatusLocked(StatusNoText, true)
		return "", ErrNothingToDownload
	}

	if s.deps.Store == nil {
		return "", errors.New("no store configured")
	}

	path, err := s.deps.Store.SaveTranscript(TranscriptFilename(now), s.transcript)
	if err != nil {
		s.setStatusLocked("Error: "+err.Error(), true)
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	s.setStatusLocked(StatusDownloaded, false)
	s.logger.WithField("path", path).Info("Transcript saved")

	return path, nil
}

// Clear discards the transcript and hides the transcript actions.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transcript == "" {
		s.setStatusLocked(StatusNothingClear, true)
		return ErrNothingToClear
	}

	s.transcript = ""
	s.actionsVisible = false
	s.state = Idle
	s.setStatusLocked(StatusCleared, false)

	return nil
}

// SaveRecording persists the last encoded recording through the Store.
func (s *Session) SaveRecording(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Processing {
		return "", ErrBusy
	}

	if len(s.wav) == 0 {
		return "", ErrNoRecording
	}

	if s.deps.Store == nil {
		return "", errors.New("no store configured")
	}

	path, err := s.deps.Store.SaveRecording(name, s.wav)
	if err != nil {
		return "", fmt.Errorf("failed to save recording: %w", err)
	}

	return path, nil
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	return View{
		State:          s.state,
		Status:         s.status,
		IsError:        s.isError,
		Transcript:     s.transcript,
		ActionsVisible: s.actionsVisible,
	}
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failLocked(err)

	return err
}

func (s *Session) failLocked(err error) {
	s.state = Failed
	s.setStatusLocked("Error: "+transcribe.Message(err), true)
	s.logger.WithError(err).Error("Transcription session failed")
}

func (s *Session) setStatusLocked(status string, isError bool) {
	s.status = status
	s.isError = isError
}
