// Package metrics exposes Prometheus instrumentation for encoding and
// transcription uploads.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Upload outcomes used as label values.
const (
	OutcomeSuccess     = "success"
	OutcomeRemoteError = "remote_error"
	OutcomeHTTPError   = "http_error"
	OutcomeTransport   = "transport_error"
)

// Metrics contains all Prometheus metrics of the client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EncodeTotal    prometheus.Counter
	EncodeBytes    prometheus.Counter
	EncodeDuration prometheus.Histogram

	UploadRequests *prometheus.CounterVec
	UploadRetries  prometheus.Counter
	UploadDuration prometheus.Histogram

	RecordingSeconds prometheus.Histogram
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EncodeTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavscribe_encode_total",
			Help: "Total number of canonical WAV containers encoded",
		}),
		EncodeBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavscribe_encode_bytes_total",
			Help: "Total number of bytes produced by the WAV encoder",
		}),
		EncodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavscribe_encode_duration_seconds",
			Help:    "Time spent encoding audio to WAV",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8), // 100us to ~1.6s
		}),
		UploadRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavscribe_upload_requests_total",
			Help: "Transcription requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		UploadRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavscribe_upload_retries_total",
			Help: "Total number of retried transcription attempts",
		}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavscribe_upload_duration_seconds",
			Help:    "Duration of transcription requests including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1.7 minutes
		}),
		RecordingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavscribe_recording_seconds",
			Help:    "Length of captured recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
	}
}

// ObserveEncode records one encoder run.
func (m *Metrics) ObserveEncode(size int, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.EncodeTotal.Inc()
	m.EncodeBytes.Add(float64(size))
	m.EncodeDuration.Observe(elapsed.Seconds())
}

// ObserveUpload records a finished transcription request.
func (m *Metrics) ObserveUpload(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.UploadRequests.WithLabelValues(endpoint, outcome).Inc()
	m.UploadDuration.Observe(elapsed.Seconds())
}

// ObserveRetry counts one retried attempt.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}

	m.UploadRetries.Inc()
}

// ObserveRecording records the length of a captured recording.
func (m *Metrics) ObserveRecording(length time.Duration) {
	if m == nil {
		return
	}

	m.RecordingSeconds.Observe(length.Seconds())
}

// Handler returns the HTTP handler exposing the gathered metrics.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes the metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr, path string, g prometheus.Gatherer, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle(path, Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{"address": addr, "path": path}).Info("Serving metrics")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
