package tts

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type mockSynth struct{}

// NewMockSynth returns a synthesizer that answers with a stable mock:// URL
// derived from the text.
func NewMockSynth() Synthesizer {
	return &mockSynth{}
}

func (m *mockSynth) Synthesize(ctx context.Context, text string) (string, error) {
	select {
	case <-ctx.Done():
		return "", &SynthesisError{Err: ctx.Err()}
	case <-time.After(50 * time.Millisecond):
	}
	return "mock://speech/" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(text)).String() + ".mp3", nil
}
