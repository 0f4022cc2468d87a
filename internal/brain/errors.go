package brain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoProvider is a configuration error: no provider is set, or a hosted
	// one has no key. It is neither a TransportError nor a ResponseError, and
	// it is never retried.
	ErrNoProvider = errors.New("no analysis provider available")

	// ErrEmptyContent is returned when a response carries no answer text.
	ErrEmptyContent = errors.New("response has no content")
)

// TransportError means the service could not be reached: network failure,
// timeout or cancellation.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResponseError means the service answered, but with a non-success status or
// a body missing the expected result.
type ResponseError struct {
	Provider   string
	StatusCode int    // 0 when the status was fine but the body was not
	Body       string // truncated response body
	Err        error
}

func (e *ResponseError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: bad response: %v", e.Provider, e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth another attempt: transport failures,
// 429 and 5xx.
func Retryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var re *ResponseError
	if errors.As(err, &re) {
		return re.StatusCode == http.StatusTooManyRequests || re.StatusCode >= 500
	}
	return false
}

const maxErrorBody = 512

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
