package audio

import "sync"

// Track holds the single live handle for one listener. Replacing or stopping
// releases whatever was held before.
type Track struct {
	mu      sync.Mutex
	current *Handle
}

// Replace installs h and releases the previous handle, if any.
func (t *Track) Replace(h *Handle) error {
	t.mu.Lock()
	prev := t.current
	t.current = h
	t.mu.Unlock()
	if prev != nil && prev != h {
		return prev.Release()
	}
	return nil
}

// Stop releases the current handle and leaves the track empty.
func (t *Track) Stop() error {
	return t.Replace(nil)
}

func (t *Track) Current() *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
