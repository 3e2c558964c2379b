package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/narrator-core/internal/cache"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptedGenerator struct {
	mu       sync.Mutex
	calls    int
	requests []Request
	respond  func(call int, req Request) (string, error)
}

func (g *scriptedGenerator) Generate(_ context.Context, req Request) (string, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return g.respond(call, req)
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func TestFetchReturnsGeneratedTextAndCachesByPrompt(t *testing.T) {
	gen := &scriptedGenerator{respond: func(int, Request) (string, error) { return "story text", nil }}
	c := cache.NewMap()
	f := NewFetcher(gen, c, newLogger())

	text, err := f.Fetch(context.Background(), "prompt", "system", 3)
	require.NoError(t, err)
	require.Equal(t, "story text", text)
	require.Equal(t, "prompt", gen.requests[0].Prompt)
	require.Equal(t, "system", gen.requests[0].System)

	cached, ok := c.Get(cache.Key("prompt"))
	require.True(t, ok)
	require.Equal(t, "story text", cached)
	_, ok = c.Get(cache.Key("system"))
	require.False(t, ok)
}

func TestFetchCacheHitSkipsNetwork(t *testing.T) {
	gen := &scriptedGenerator{respond: func(int, Request) (string, error) {
		t.Fatal("generator must not be called on cache hit")
		return "", nil
	}}
	c := cache.NewMap()
	c.Put(cache.Key("prompt"), "cached text")

	text, err := NewFetcher(gen, c, newLogger()).Fetch(context.Background(), "prompt", "a different system", 3)
	require.NoError(t, err)
	require.Equal(t, "cached text", text)
	require.Zero(t, gen.Calls())
}

func TestFetchEmptyCachedValueIsAMiss(t *testing.T) {
	gen := &scriptedGenerator{respond: func(int, Request) (string, error) { return "fresh", nil }}
	c := cache.NewMap()
	c.Put(cache.Key("prompt"), "")

	text, err := NewFetcher(gen, c, newLogger()).Fetch(context.Background(), "prompt", "", 0)
	require.NoError(t, err)
	require.Equal(t, "fresh", text)
	require.Equal(t, 1, gen.Calls())
}

func TestFetchWithoutCache(t *testing.T) {
	gen := &scriptedGenerator{respond: func(int, Request) (string, error) { return "fresh", nil }}
	c := cache.NewMap()
	c.Put(cache.Key("prompt"), "stale")

	text, err := NewFetcher(gen, c, newLogger(), WithCache(false)).Fetch(context.Background(), "prompt", "", 0)
	require.NoError(t, err)
	require.Equal(t, "fresh", text)
	v, _ := c.Get(cache.Key("prompt"))
	require.Equal(t, "stale", v)
}

func TestFetchRetryBound(t *testing.T) {
	for _, n := range []int{0, 1, 3, 5} {
		gen := &scriptedGenerator{respond: func(call int, _ Request) (string, error) {
			return "", &RequestError{Status: http.StatusInternalServerError, Details: "attempt failed"}
		}}
		sleeps := &recordedSleeps{}
		f := NewFetcher(gen, cache.NewMap(), newLogger(), WithSleep(sleeps.sleep))

		_, err := f.Fetch(context.Background(), "prompt", "", n)

		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		require.Equal(t, n+1, gen.Calls(), "maxRetries=%d", n)
		require.Len(t, sleeps.delays, n)
	}
}

func TestFetchReturnsLastObservedError(t *testing.T) {
	gen := &scriptedGenerator{respond: func(call int, _ Request) (string, error) {
		if call < 3 {
			return "", &NetworkError{Err: errors.New("connection reset")}
		}
		return "", &RequestError{Status: http.StatusServiceUnavailable, Details: "last"}
	}}
	f := NewFetcher(gen, nil, newLogger(), WithSleep((&recordedSleeps{}).sleep))

	_, err := f.Fetch(context.Background(), "prompt", "", 2)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "last", reqErr.Details)
}

func TestFetchLinearBackoffSchedule(t *testing.T) {
	gen := &scriptedGenerator{respond: func(int, Request) (string, error) {
		return "", &NetworkError{Err: errors.New("down")}
	}}
	sleeps := &recordedSleeps{}
	f := NewFetcher(gen, nil, newLogger(), WithSleep(sleeps.sleep))

	_, err := f.Fetch(context.Background(), "prompt", "", 3)
	require.Error(t, err)
	require.Equal(t, []time.Duration{0, time.Second, 2 * time.Second}, sleeps.delays)
}

func TestFetchBackoffUsesConfiguredStep(t *testing.T) {
	gen := &scriptedGenerator{respond: func(int, Request) (string, error) {
		return "", &NetworkError{Err: errors.New("down")}
	}}
	sleeps := &recordedSleeps{}
	f := NewFetcher(gen, nil, newLogger(), WithSleep(sleeps.sleep), WithRetryStep(10*time.Millisecond))

	_, err := f.Fetch(context.Background(), "prompt", "", 4)
	require.Error(t, err)
	require.Equal(t, []time.Duration{0, 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}, sleeps.delays)
}

func TestFetchSucceedsAfterRetry(t *testing.T) {
	gen := &scriptedGenerator{respond: func(call int, _ Request) (string, error) {
		if call == 1 {
			return "", &RequestError{Status: http.StatusInternalServerError}
		}
		return "second time lucky", nil
	}}
	c := cache.NewMap()
	f := NewFetcher(gen, c, newLogger(), WithSleep((&recordedSleeps{}).sleep))

	text, err := f.Fetch(context.Background(), "prompt", "", 3)
	require.NoError(t, err)
	require.Equal(t, "second time lucky", text)
	require.Equal(t, 2, gen.Calls())
	v, ok := c.Get(cache.Key("prompt"))
	require.True(t, ok)
	require.Equal(t, "second time lucky", v)
}

func TestFetchMalformedResponseIsNotRetried(t *testing.T) {
	gen := &scriptedGenerator{respond: func(int, Request) (string, error) { return "", ErrMalformedResponse }}
	sleeps := &recordedSleeps{}
	c := cache.NewMap()
	f := NewFetcher(gen, c, newLogger(), WithSleep(sleeps.sleep))

	_, err := f.Fetch(context.Background(), "prompt", "", 3)
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.Equal(t, 1, gen.Calls())
	require.Empty(t, sleeps.delays)
	require.Zero(t, c.Len())
}

func TestFetchStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	gen := &scriptedGenerator{respond: func(int, Request) (string, error) {
		return "", &NetworkError{Err: errors.New("down")}
	}}
	ctx, cancel := context.WithCancel(context.Background())
	f := NewFetcher(gen, nil, newLogger(), WithRetryStep(time.Hour), WithSleep(func(ctx context.Context, d time.Duration) error {
		if d > 0 {
			cancel()
		}
		return sleepContext(ctx, d)
	}))

	_, err := f.Fetch(ctx, "prompt", "", 3)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, gen.Calls())
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), 0))
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
