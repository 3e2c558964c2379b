// Package audio owns the resources behind synthesized narration. Every
// Handle must be released exactly once; Release is idempotent so callers can
// release on every ownership transfer without coordinating.
package audio

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrTooLarge = errors.New("audio exceeds configured size limit")
	ErrNotFound = errors.New("audio handle not found")
	ErrNoCopy   = errors.New("allocator keeps no local copy")
)

// Handle is a live reference to one synthesized narration.
type Handle struct {
	ID     string
	Source string
	Size   int64
	// Local is true when the bytes are held by the allocator and can be read
	// back with Allocator.Open.
	Local bool

	once     sync.Once
	released atomic.Bool
	release  func() error
	err      error
}

// Release frees the backing resource. Only the first call does any work;
// later calls return the first call's result.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.released.Store(true)
		if h.release != nil {
			h.err = h.release()
		}
	})
	return h.err
}

func (h *Handle) Released() bool {
	return h != nil && h.released.Load()
}

// ledger counts handles that were acquired but not yet released.
type ledger struct {
	outstanding atomic.Int64
}

func (l *ledger) track(h *Handle, free func() error) *Handle {
	l.outstanding.Add(1)
	h.release = func() error {
		l.outstanding.Add(-1)
		if free != nil {
			return free()
		}
		return nil
	}
	return h
}

func (l *ledger) Outstanding() int {
	return int(l.outstanding.Load())
}
