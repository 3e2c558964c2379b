package tts

import (
	"errors"
	"fmt"
)

var (
	// ErrURLNotFound reports a success response without an audio URL.
	ErrURLNotFound = errors.New("URL not found")
	// ErrMissingCredentials reports that the API key or user id is unset.
	ErrMissingCredentials = errors.New("speech API credentials are missing")
)

// SynthesisError is any failure from the speech service. It is never retried.
type SynthesisError struct {
	Status  int
	Message string
	Err     error
}

func (e *SynthesisError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	case e.Status != 0:
		return fmt.Sprintf("speech request failed with status %d", e.Status)
	default:
		return "speech synthesis failed"
	}
}

func (e *SynthesisError) Unwrap() error { return e.Err }
