// This tool submits audio to a speech-to-text server and prints the
// transcript. Audio comes from a WAV file, from the microphone, or from
// any WAV or AIFF file replayed through the recording path.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/cwbudde/wavscribe"
	"github.com/cwbudde/wavscribe/internal/capture"
	"github.com/cwbudde/wavscribe/internal/config"
	"github.com/cwbudde/wavscribe/internal/logging"
	"github.com/cwbudde/wavscribe/internal/metrics"
	"github.com/cwbudde/wavscribe/internal/session"
	"github.com/cwbudde/wavscribe/internal/transcribe"
)

var errSourceFlags = errors.New("exactly one of -file, -record or -input is required")

type options struct {
	configPath    string
	file          string
	record        time.Duration
	input         string
	saveRecording string
	download      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	if err != nil {
		logrus.Fatal(err)
	}
}

func parseFlags(args []string) (*options, error) {
	flagSet := flag.NewFlagSet("transcribe", flag.ContinueOnError)

	var opts options

	flagSet.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")
	flagSet.StringVar(&opts.file, "file", "", "WAV file to upload as-is")
	flagSet.DurationVar(&opts.record, "record", 0, "record from the default microphone for this long")
	flagSet.StringVar(&opts.input, "input", "", "WAV or AIFF file to replay through the recording path")
	flagSet.StringVar(&opts.saveRecording, "save-recording", "", "also write the encoded recording to this file name")
	flagSet.BoolVar(&opts.download, "download", false, "save the transcript as a timestamped text file")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	sources := 0
	for _, set := range []bool{opts.file != "", opts.record > 0, opts.input != ""} {
		if set {
			sources++
		}
	}

	if sources != 1 {
		return nil, errSourceFlags
	}

	return &opts, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}

	return config.Load(path)
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if cfg.Metrics.Enabled() {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Address, cfg.Metrics.Path, reg, logger); err != nil {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	client, err := transcribe.NewClient(transcribe.ConfigFrom(cfg.Transcription),
		transcribe.WithLogger(logger), transcribe.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}

	store, err := session.NewFileStore(cfg.Output.Directory)
	if err != nil {
		return err
	}

	deps := session.Deps{
		Transcriber: client,
		Store:       store,
		Logger:      logger,
		Metrics:     m,
	}

	var (
		replay  *capture.Buffer
		samples []float32
	)

	switch {
	case opts.input != "":
		replay, samples, err = replaySource(opts.input)
		if err != nil {
			return err
		}

		deps.Source = replay
	case opts.record > 0:
		deps.Source = capture.NewMicrophone(capture.MicrophoneConfig{
			SampleRate:  cfg.Capture.SampleRate,
			Channels:    cfg.Capture.Channels,
			MaxDuration: cfg.Capture.MaxDurationValue(),
		}, logger)
	}

	sess := session.New(deps, session.WithNormalizeUploads(cfg.Output.NormalizeUploads))

	switch {
	case opts.file != "":
		err = uploadFile(ctx, sess, opts.file)
	case replay != nil:
		err = replayRecording(ctx, sess, replay, samples)
	default:
		err = recordFor(ctx, sess, opts.record)
	}

	if err != nil {
		return err
	}

	return finish(sess, opts, out, logger)
}

func uploadFile(ctx context.Context, sess *session.Session, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return sess.UploadFile(ctx, filepath.Base(path), wavscribe.DetectContentType(data), data)
}

// replaySource decodes a WAV or AIFF file into the samples a Buffer will
// hand out as a recording.
func replaySource(path string) (*capture.Buffer, []float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	decoded, err := wavscribe.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return capture.NewBuffer(decoded.SampleRate, decoded.NumChannels()), decoded.Interleaved().Data, nil
}

func replayRecording(ctx context.Context, sess *session.Session, replay *capture.Buffer, samples []float32) error {
	if err := sess.Start(ctx); err != nil {
		return err
	}

	if err := replay.Push(samples...); err != nil {
		return fmt.Errorf("failed to replay samples: %w", err)
	}

	return sess.Stop(ctx)
}

// recordFor records for length. An interrupt ends the recording early and
// the audio captured so far is still transcribed.
func recordFor(ctx context.Context, sess *session.Session, length time.Duration) error {
	if err := sess.Start(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(length)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	return sess.Stop(context.WithoutCancel(ctx))
}

// finish prints the transcript and runs the optional save steps.
func finish(sess *session.Session, opts *options, out io.Writer, logger logrus.FieldLogger) error {
	view := sess.Snapshot()
	fmt.Fprintln(out, view.Transcript)

	if opts.saveRecording != "" {
		path, err := sess.SaveRecording(opts.saveRecording)
		if err != nil {
			return err
		}

		logger.WithField("path", path).Info("Recording saved")
	}

	if opts.download {
		if _, err := sess.DownloadTranscript(time.Now()); err != nil {
			return err
		}
	}

	logger.WithField("status", sess.Snapshot().Status).Debug("Session finished")

	return nil
}
