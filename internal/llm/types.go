package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/narrator-core/internal/config"
)

// Request is one generation call: a system instruction and the user prompt.
type Request struct {
	Prompt  string
	System  string
	TraceID string
}

// Generator defines a pluggable text-generation backend. One call is one
// attempt; retry and caching live in Fetcher.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// NewGenerator builds the backend selected by configuration.
func NewGenerator(cfg config.GenerationConfig, logger *slog.Logger) (Generator, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockGenerator(), nil
	case "gemini":
		client := &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
		return NewGeminiGenerator(cfg.Endpoint, cfg.Model, cfg.APIKey, client), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown generation mode %q", cfg.Mode)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
