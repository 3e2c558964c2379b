package tts

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type instrumented struct {
	next     Synthesizer
	requests metric.Int64Counter
	failures metric.Int64Counter
}

// Instrument wraps s with request and failure counters on the global meter
// provider.
func Instrument(s Synthesizer) (Synthesizer, error) {
	meter := otel.Meter("github.com/loqalabs/narrator-core/tts")
	requests, err := meter.Int64Counter("narrator.speech.requests", metric.WithDescription("Speech synthesis requests"))
	if err != nil {
		return s, err
	}
	failures, err := meter.Int64Counter("narrator.speech.failures", metric.WithDescription("Failed speech synthesis requests"))
	if err != nil {
		return s, err
	}
	return &instrumented{next: s, requests: requests, failures: failures}, nil
}

func (i *instrumented) Synthesize(ctx context.Context, text string) (string, error) {
	i.requests.Add(ctx, 1)
	url, err := i.next.Synthesize(ctx, text)
	if err != nil {
		i.failures.Add(ctx, 1)
	}
	return url, err
}
