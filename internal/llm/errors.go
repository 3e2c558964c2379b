package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse reports a success response without the expected
	// text field. It is never retried.
	ErrMalformedResponse = errors.New("malformed generation response: text field missing")
	// ErrMissingCredentials reports that no API key was configured.
	ErrMissingCredentials = errors.New("generation API key is missing")
)

// RequestError is a non-success HTTP response from the generation service.
type RequestError struct {
	Status  int
	Details string
}

func (e *RequestError) Error() string {
	details := e.Details
	if details == "" {
		details = "Unknown error"
	}
	return "API request failed: " + details
}

// NetworkError is a transport-level failure reaching the generation service.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("generation request failed: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether err may succeed on another attempt.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrMalformedResponse)
}
