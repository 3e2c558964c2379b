package tts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/narrator-core/internal/config"
)

// Synthesizer turns a finished narrative into a playable audio locator.
// Implementations make exactly one attempt per call.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// NewSynthesizer builds the backend selected by configuration.
func NewSynthesizer(cfg config.SpeechConfig, logger *slog.Logger) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockSynth(), nil
	case "playht":
		client := &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
		logger.Debug("using playht speech backend", slog.String("endpoint", cfg.Endpoint), slog.String("voice_engine", cfg.VoiceEngine))
		return NewPlayHTSynth(cfg, client), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.Voice)
	default:
		return nil, fmt.Errorf("unknown speech mode %q", cfg.Mode)
	}
}
