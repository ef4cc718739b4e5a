package llm

import (
	"errors"
	"fmt"

	"github.com/holdhq/counsel/model"
)

// ErrEmptyContent is returned when a provider answered successfully but the
// utterance is blank.
var ErrEmptyContent = errors.New("llm: empty content")

// TransportError is a network or service availability failure. The same
// request may succeed if retried.
type TransportError struct {
	Provider   string
	StatusCode int // 0 when no response was received
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: request timed out: %v", e.Provider, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: service unavailable (%d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is a response the gateway could not use. Retrying
// without changing the prompt is not expected to help.
type MalformedResponseError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *MalformedResponseError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: malformed response (%d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: malformed response: %v", e.Provider, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient gateway failure.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusError classifies a non-2xx provider response. Rate limits and server
// errors are transport failures; everything else is malformed.
func StatusError(provider string, status int, body []byte) error {
	snippet := model.Truncate(string(body), 512)
	if status == 429 || status == 408 || status >= 500 {
		return &TransportError{Provider: provider, StatusCode: status, Err: errors.New(snippet)}
	}
	return &MalformedResponseError{Provider: provider, StatusCode: status, Body: snippet, Err: errors.New("unexpected status")}
}
