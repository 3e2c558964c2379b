package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/narrator-core/internal/cache"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryStep  = time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher performs one logical generation request with caching and
// bounded, linearly increasing retry.
type Fetcher struct {
	generator Generator
	cache     cache.Cache
	useCache  bool
	step      time.Duration
	sleep     SleepFunc
	logger    *slog.Logger
	tracer    trace.Tracer
	attempts  metric.Int64Counter
	failures  metric.Int64Counter
}

type FetcherOption func(*Fetcher)

// WithRetryStep sets the backoff unit. The wait before the next attempt is
// (maxRetries - retriesLeft) * step.
func WithRetryStep(step time.Duration) FetcherOption {
	return func(f *Fetcher) { f.step = step }
}

func WithSleep(sleep SleepFunc) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithCache toggles cache reads and writes. A nil cache disables caching.
func WithCache(enabled bool) FetcherOption {
	return func(f *Fetcher) { f.useCache = enabled }
}

func NewFetcher(generator Generator, c cache.Cache, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		generator: generator,
		cache:     c,
		useCache:  true,
		step:      DefaultRetryStep,
		sleep:     sleepContext,
		logger:    logger.With(slog.String("component", "llm-fetch")),
		tracer:    otel.Tracer("github.com/loqalabs/narrator-core/llm"),
	}
	for _, opt := range opts {
		opt(f)
	}

	meter := otel.Meter("github.com/loqalabs/narrator-core/llm")
	var err error
	if f.attempts, err = meter.Int64Counter("narrator.generation.attempts"); err != nil {
		f.logger.Warn("failed to initialize metrics", slogError(err))
		f.attempts = noop.Int64Counter{}
	}
	if f.failures, err = meter.Int64Counter("narrator.generation.failures"); err != nil {
		f.logger.Warn("failed to initialize metrics", slogError(err))
		f.failures = noop.Int64Counter{}
	}
	return f
}

// Fetch returns the generated text for prompt. A cached, non-empty response
// for the same prompt text is returned without any network call. Otherwise up
// to maxRetries additional attempts are made after the first failure; the
// last observed error is returned once they are exhausted.
func (f *Fetcher) Fetch(ctx context.Context, prompt, system string, maxRetries int) (string, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	useCache := f.useCache && f.cache != nil
	key := cache.Key(prompt)

	ctx, span := f.tracer.Start(ctx, "llm.fetch", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.Int("retries.max", maxRetries),
	))
	defer span.End()

	if useCache {
		if cached, ok := f.cache.Get(key); ok && cached != "" {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
	}

	req := Request{Prompt: prompt, System: system, TraceID: span.SpanContext().TraceID().String()}
	retriesLeft := maxRetries
	for {
		f.attempts.Add(ctx, 1)
		text, err := f.generator.Generate(ctx, req)
		if err == nil {
			if useCache {
				f.cache.Put(key, text)
			}
			span.SetAttributes(attribute.Int("attempts", maxRetries-retriesLeft+1))
			return text, nil
		}

		f.failures.Add(ctx, 1)
		if !Retryable(err) || retriesLeft <= 0 || ctx.Err() != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}

		f.logger.Warn("retrying narrative generation", slog.Int("attempts_left", retriesLeft), slogError(err))
		delay := time.Duration(maxRetries-retriesLeft) * f.step
		if sleepErr := f.sleep(ctx, delay); sleepErr != nil {
			err = errors.Join(err, sleepErr)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		retriesLeft--
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
