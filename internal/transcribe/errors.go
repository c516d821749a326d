package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrEmptyAudio is returned when there is no audio to submit.
	ErrEmptyAudio = errors.New("no audio data to submit")
	// ErrInvalidResponse is returned when the server answers with something
	// other than the expected JSON document.
	ErrInvalidResponse = errors.New("invalid transcription response")
)

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether the request may succeed when repeated.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// RemoteError is a transcription failure reported by the server in an
// otherwise successful response ("success": false).
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "transcription failed"
	}

	return e.Message
}

// TransportError wraps failures to reach the server or read its answer.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Message returns the text a user should see for err: the server's own
// message for remote failures, the full error otherwise.
func Message(err error) string {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Error()
	}

	return err.Error()
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	var transportErr *TransportError

	return errors.As(err, &transportErr)
}

// parseRetryAfter understands the delay-seconds form of Retry-After.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
