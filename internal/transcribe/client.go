package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cwbudde/wavscribe/internal/config"
	"github.com/cwbudde/wavscribe/internal/metrics"
)

const (
	// FieldName is the multipart field carrying the audio file.
	FieldName = "audio"
	// ContentTypeWAV is the content type of submitted audio.
	ContentTypeWAV = "audio/wav"
	// DataURLPrefix precedes the base64 audio in JSON submissions.
	DataURLPrefix = "data:audio/wav;base64,"

	maxResponseSize = 1 << 20
)

// Config contains transcription client configuration
type Config struct {
	BaseURL    string
	UploadPath string
	BlobPath   string
	Mode       string // "upload" or "blob"
	APIKey     string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int

	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// ConfigFrom converts the file configuration into client configuration.
func ConfigFrom(cfg config.TranscriptionConfig) Config {
	return Config{
		BaseURL:    cfg.BaseURL,
		UploadPath: cfg.UploadPath,
		BlobPath:   cfg.BlobPath,
		Mode:       cfg.Mode,
		APIKey:     cfg.APIKey,
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.TimeoutDuration(),
		MaxRetries: cfg.MaxRetries,
	}
}

// Result is a successful transcription.
type Result struct {
	Text      string
	RequestID string
	Attempts  int
	Elapsed   time.Duration
}

// Stats represents client statistics
type Stats struct {
	TotalRequests   uint64
	SuccessRequests uint64
	FailedRequests  uint64
	TotalRetries    uint64
	AvgResponseTime time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request logging.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client provides HTTP client functionality for transcription requests
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics

	mu              sync.Mutex
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration
}

type response struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Error   string `json:"error"`
}

// NewClient creates a new transcription HTTP client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}

	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.UploadPath == "" {
		cfg.UploadPath = "/upload"
	}

	if cfg.BlobPath == "" {
		cfg.BlobPath = "/transcribe-audio"
	}

	if cfg.Mode == "" {
		cfg.Mode = config.ModeUpload
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = "wavscribe/1.0"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}

	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}

	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	c := &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Transcribe submits wav using the configured mode.
func (c *Client) Transcribe(ctx context.Context, filename string, wav []byte) (*Result, error) {
	if c.config.Mode == config.ModeBlob {
		return c.TranscribeBlob(ctx, wav)
	}

	return c.UploadWAV(ctx, filename, wav)
}

// UploadWAV posts wav as the multipart file field "audio".
func (c *Client) UploadWAV(ctx context.Context, filename string, wav []byte) (*Result, error) {
	if len(wav) == 0 {
		return nil, ErrEmptyAudio
	}

	body, contentType, err := multipartBody(filename, wav)
	if err != nil {
		return nil, err
	}

	return c.send(ctx, c.config.UploadPath, body, contentType)
}

// TranscribeBlob posts wav as a base64 data URL inside a JSON document.
func (c *Client) TranscribeBlob(ctx context.Context, wav []byte) (*Result, error) {
	if len(wav) == 0 {
		return nil, ErrEmptyAudio
	}

	body, err := json.Marshal(map[string]string{
		"audio": DataURLPrefix + base64.StdEncoding.EncodeToString(wav),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.send(ctx, c.config.BlobPath, body, "application/json")
}

func (c *Client) send(ctx context.Context, path string, body []byte, contentType string) (*Result, error) {
	requestID := uuid.NewString()
	startTime := time.Now()

	log := c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"endpoint":   path,
		"bytes":      len(body),
	})

	c.incrementTotalRequests()

	var lastErr error

	attempt := 0
	for ; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.ObserveRetry()

			delay := c.backoff(attempt, lastErr)
			log.WithError(lastErr).WithField("delay", delay).Warn("Retrying transcription request")

			if err := sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		text, err := c.attempt(ctx, path, requestID, body, contentType)
		if err == nil {
			elapsed := time.Since(startTime)

			c.incrementSuccessRequests()
			c.updateAvgResponseTime(elapsed)
			c.metrics.ObserveUpload(path, metrics.OutcomeSuccess, elapsed)

			log.WithFields(logrus.Fields{
				"attempts": attempt + 1,
				"elapsed":  elapsed,
			}).Info("Transcription completed")

			return &Result{
				Text:      text,
				RequestID: requestID,
				Attempts:  attempt + 1,
				Elapsed:   elapsed,
			}, nil
		}

		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			attempt++
			break
		}
	}

	elapsed := time.Since(startTime)

	c.incrementFailedRequests()
	c.metrics.ObserveUpload(path, outcome(lastErr), elapsed)
	log.WithError(lastErr).Error("Transcription request failed")

	return nil, fmt.Errorf("transcription request %s failed after %d attempt(s): %w", requestID, attempt, lastErr)
}

func (c *Client) attempt(ctx context.Context, path, requestID string, body []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-Request-ID", requestID)

	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var parsed response
	jsonErr := json.Unmarshal(data, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := parsed.Error
		if jsonErr != nil {
			msg = strings.TrimSpace(string(data))
		}

		return "", &StatusError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if jsonErr != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidResponse, jsonErr)
	}

	if !parsed.Success {
		return "", &RemoteError{Message: parsed.Error}
	}

	return parsed.Text, nil
}

// backoff returns the delay before the given retry: exponential from
// BaseBackoff, raised to a server supplied Retry-After, capped at MaxBackoff.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	delay := c.config.BaseBackoff << (attempt - 1)
	if delay <= 0 || delay > c.config.MaxBackoff {
		delay = c.config.MaxBackoff
	}

	var statusErr *StatusError
	if errors.As(lastErr, &statusErr) && statusErr.RetryAfter > delay {
		delay = min(statusErr.RetryAfter, c.config.MaxBackoff)
	}

	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func outcome(err error) string {
	var (
		remote *RemoteError
		status *StatusError
	)

	switch {
	case errors.As(err, &remote):
		return metrics.OutcomeRemoteError
	case errors.As(err, &status):
		return metrics.OutcomeHTTPError
	default:
		return metrics.OutcomeTransport
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(filename string, wav []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldName, quoteEscaper.Replace(filename)))
	header.Set("Content-Type", ContentTypeWAV)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// Stats returns current client statistics
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
	}
}
