package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/wavscribe/internal/config"
	"github.com/cwbudde/wavscribe/internal/logging"
	"github.com/cwbudde/wavscribe/internal/metrics"
)

var testWAV = []byte("RIFF\x24\x00\x00\x00WAVEfmt ")

func newTestClient(t *testing.T, url string, mutate func(*Config), opts ...Option) *Client {
	t.Helper()

	cfg := Config{
		BaseURL:     url,
		APIKey:      "secret",
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	opts = append([]Option{WithLogger(logging.Discard())}, opts...)

	client, err := NewClient(cfg, opts...)
	require.NoError(t, err)

	return client
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)

	_, err = NewClient(Config{BaseURL: "not a url"})
	require.Error(t, err)

	client, err := NewClient(Config{BaseURL: "http://localhost:5000/", MaxRetries: -1})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", client.config.BaseURL)
	assert.Equal(t, "/upload", client.config.UploadPath)
	assert.Equal(t, "/transcribe-audio", client.config.BlobPath)
	assert.Equal(t, config.ModeUpload, client.config.Mode)
	assert.Equal(t, 3, client.config.MaxRetries)
	assert.Equal(t, 30*time.Second, client.config.Timeout)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.Default().Transcription)

	assert.Equal(t, "http://127.0.0.1:5000", cfg.BaseURL)
	assert.Equal(t, "/upload", cfg.UploadPath)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestUploadWAV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "wavscribe/1.0", r.Header.Get("User-Agent"))

		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err)

		file, header, err := r.FormFile(FieldName)
		if !assert.NoError(t, err) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "No file uploaded"})
			return
		}
		defer file.Close()

		assert.Equal(t, "recording.wav", header.Filename)
		assert.Equal(t, ContentTypeWAV, header.Header.Get("Content-Type"))

		data, _ := io.ReadAll(file)
		assert.Equal(t, testWAV, data)

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "text": "hello world"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	res, err := client.UploadWAV(context.Background(), "recording.wav", testWAV)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.RequestID)

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.SuccessRequests)
	assert.Zero(t, stats.TotalRetries)
}

func TestTranscribeBlob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe-audio", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Audio string `json:"audio"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, strings.HasPrefix(body.Audio, DataURLPrefix))

		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(body.Audio, DataURLPrefix))
		assert.NoError(t, err)
		assert.Equal(t, testWAV, raw)

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "text": "from blob"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(c *Config) { c.Mode = config.ModeBlob })

	res, err := client.Transcribe(context.Background(), "ignored.wav", testWAV)
	require.NoError(t, err)
	assert.Equal(t, "from blob", res.Text)
}

func TestTranscribeDispatchesUpload(t *testing.T) {
	var path atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "text": ""})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	res, err := client.Transcribe(context.Background(), "speech.wav", testWAV)
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Equal(t, "/upload", path.Load())
}

func TestEmptyAudio(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", nil)

	_, err := client.UploadWAV(context.Background(), "recording.wav", nil)
	require.ErrorIs(t, err, ErrEmptyAudio)

	_, err = client.TranscribeBlob(context.Background(), []byte{})
	require.ErrorIs(t, err, ErrEmptyAudio)
	assert.Zero(t, client.Stats().TotalRequests)
}

func TestRemoteErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "No audio data received"})
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	client := newTestClient(t, server.URL, nil, WithMetrics(metrics.New(reg)))

	_, err := client.UploadWAV(context.Background(), "recording.wav", testWAV)
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "No audio data received", remote.Message)
	assert.Equal(t, "No audio data received", Message(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), client.Stats().FailedRequests)

	count, err := testutil.GatherAndCount(reg, "wavscribe_upload_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRetriesServerErrors(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get("X-Request-ID"))
		n := len(ids)
		mu.Unlock()

		if n < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "busy"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "text": "third time"})
	}))
	defer server.Close()

	m := metrics.New(prometheus.NewRegistry())
	client := newTestClient(t, server.URL, nil, WithMetrics(m))

	res, err := client.UploadWAV(context.Background(), "recording.wav", testWAV)
	require.NoError(t, err)
	assert.Equal(t, "third time", res.Text)
	assert.Equal(t, 3, res.Attempts)

	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])
	assert.Equal(t, res.RequestID, ids[0])

	assert.Equal(t, uint64(2), client.Stats().TotalRetries)
	assert.InDelta(t, 2, testutil.ToFloat64(m.UploadRetries), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UploadRequests.WithLabelValues("/upload", metrics.OutcomeSuccess)), 0)
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	m := metrics.New(prometheus.NewRegistry())
	client := newTestClient(t, server.URL, nil, WithMetrics(m))

	_, err := client.UploadWAV(context.Background(), "recording.wav", testWAV)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "boom", statusErr.Message)
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
	assert.Equal(t, int32(3), calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(m.UploadRequests.WithLabelValues("/upload", metrics.OutcomeHTTPError)), 0)
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "No file selected"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, err := client.UploadWAV(context.Background(), "recording.wav", testWAV)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "No file selected", statusErr.Message)
	assert.False(t, statusErr.Temporary())
	assert.Equal(t, int32(1), calls.Load())
}

func TestTooManyRequestsIsRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "text": "ok"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	res, err := client.UploadWAV(context.Background(), "recording.wav", testWAV)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestInvalidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, err := client.UploadWAV(context.Background(), "recording.wav", testWAV)
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	m := metrics.New(prometheus.NewRegistry())
	client := newTestClient(t, url, func(c *Config) { c.MaxRetries = 1 }, WithMetrics(m))

	_, err := client.UploadWAV(context.Background(), "recording.wav", testWAV)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, uint64(1), client.Stats().TotalRetries)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UploadRequests.WithLabelValues("/upload", metrics.OutcomeTransport)), 0)
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(c *Config) {
		c.BaseBackoff = time.Hour
		c.MaxBackoff = time.Hour
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.UploadWAV(ctx, "recording.wav", testWAV)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestBackoff(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", func(c *Config) {
		c.BaseBackoff = 100 * time.Millisecond
		c.MaxBackoff = time.Second
	})

	assert.Equal(t, 100*time.Millisecond, client.backoff(1, nil))
	assert.Equal(t, 200*time.Millisecond, client.backoff(2, nil))
	assert.Equal(t, 400*time.Millisecond, client.backoff(3, nil))
	assert.Equal(t, time.Second, client.backoff(5, nil))
	assert.Equal(t, time.Second, client.backoff(80, nil))

	retryAfter := &StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: 700 * time.Millisecond}
	assert.Equal(t, 700*time.Millisecond, client.backoff(1, retryAfter))

	retryAfter.RetryAfter = time.Minute
	assert.Equal(t, time.Second, client.backoff(1, retryAfter))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&StatusError{StatusCode: 503}))
	assert.True(t, isRetryable(&StatusError{StatusCode: 429}))
	assert.False(t, isRetryable(&StatusError{StatusCode: 404}))
	assert.False(t, isRetryable(&RemoteError{}))
	assert.True(t, isRetryable(&TransportError{Err: errors.New("reset")}))
	assert.False(t, isRetryable(&TransportError{Err: context.Canceled}))
	assert.False(t, isRetryable(ErrInvalidResponse))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
