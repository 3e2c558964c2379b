package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/narrator-core/internal/config"
)

// Allocator turns a synthesized audio URL into a Handle.
type Allocator interface {
	Acquire(ctx context.Context, source string) (*Handle, error)
	// Open returns the bytes of a live, locally held handle.
	Open(ctx context.Context, id string) ([]byte, error)
	Outstanding() int
}

// New builds the allocator selected by cfg.Mode. js is only needed for the
// objectstore mode.
func New(cfg config.AudioConfig, js nats.JetStreamContext, client *http.Client) (Allocator, error) {
	switch cfg.Mode {
	case "reference", "":
		return NewReferenceAllocator(), nil
	case "memory":
		return NewMemoryAllocator(cfg.MaxBytes, client), nil
	case "objectstore":
		if js == nil {
			return nil, fmt.Errorf("objectstore audio requires a jetstream connection")
		}
		return NewObjectStoreAllocator(js, cfg.Bucket, cfg.MaxBytes, client)
	default:
		return nil, fmt.Errorf("unknown audio mode %q", cfg.Mode)
	}
}

// ReferenceAllocator hands out the remote URL unchanged. Releasing only drops
// the reference.
type ReferenceAllocator struct {
	ledger
}

func NewReferenceAllocator() *ReferenceAllocator {
	return &ReferenceAllocator{}
}

func (r *ReferenceAllocator) Acquire(ctx context.Context, source string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.track(&Handle{ID: uuid.NewString(), Source: source}, nil), nil
}

func (r *ReferenceAllocator) Open(context.Context, string) ([]byte, error) {
	return nil, ErrNoCopy
}

// MemoryAllocator downloads the audio into process memory and frees it on
// release.
type MemoryAllocator struct {
	ledger
	maxBytes int64
	client   *http.Client

	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryAllocator(maxBytes int64, client *http.Client) *MemoryAllocator {
	if client == nil {
		client = http.DefaultClient
	}
	return &MemoryAllocator{maxBytes: maxBytes, client: client, blobs: make(map[string][]byte)}
}

func (m *MemoryAllocator) Acquire(ctx context.Context, source string) (*Handle, error) {
	data, err := download(ctx, m.client, source, m.maxBytes)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.blobs[id] = data
	m.mu.Unlock()

	h := &Handle{ID: id, Source: source, Size: int64(len(data)), Local: true}
	return m.track(h, func() error {
		m.mu.Lock()
		delete(m.blobs, id)
		m.mu.Unlock()
		return nil
	}), nil
}

func (m *MemoryAllocator) Open(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func download(ctx context.Context, client *http.Client, source string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build audio download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: server responded with %d", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
