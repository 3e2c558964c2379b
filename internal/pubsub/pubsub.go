// Package pubsub fans events out to any number of subscribers without ever
// blocking the publisher.
package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

const defaultBuffer = 32

type Subscription[E any] interface {
	ResultChan() <-chan E
	Stop()
}

type PubSub[E any] struct {
	mutex         sync.RWMutex
	subscriptions map[int64]*subscription[E]
	seq           int64
	buffer        int
	stopped       bool
	logger        *slog.Logger
}

func New[E any](logger *slog.Logger) *PubSub[E] {
	return &PubSub[E]{
		subscriptions: map[int64]*subscription[E]{},
		buffer:        defaultBuffer,
		logger:        logger,
	}
}

// Stop closes every subscription. Later subscriptions are closed on creation.
func (p *PubSub[E]) Stop() {
	p.mutex.Lock()
	p.stopped = true
	subs := make([]*subscription[E], 0, len(p.subscriptions))
	for _, s := range p.subscriptions {
		subs = append(subs, s)
	}
	p.mutex.Unlock()

	for _, s := range subs {
		s.Stop()
	}
}

// Subscribe registers a subscriber until ctx is done or Stop is called.
func (p *PubSub[E]) Subscribe(ctx context.Context) Subscription[E] {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.stopped {
		return noopSubscription[E]{}
	}

	p.seq++
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription[E]{
		id:     p.seq,
		cancel: cancel,
		pubsub: p,
		ch:     make(chan E, p.buffer),
	}
	p.subscriptions[s.id] = s

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s
}

// Publish delivers evt to every subscriber with room in its buffer. A
// subscriber whose buffer is full is dropped.
func (p *PubSub[E]) Publish(evt E) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.stopped {
		return
	}

	for _, s := range p.subscriptions {
		select {
		case s.ch <- evt:
		default:
			if p.logger != nil {
				p.logger.Warn("dropping slow subscriber", slog.Int64("subscription", s.id))
			}
			go s.Stop()
		}
	}
}

func (p *PubSub[E]) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.subscriptions)
}

type subscription[E any] struct {
	pubsub *PubSub[E]
	id     int64
	cancel context.CancelFunc
	ch     chan E
	closed bool
}

func (s *subscription[E]) Stop() {
	s.pubsub.mutex.Lock()
	if s.closed {
		s.pubsub.mutex.Unlock()
		return
	}
	s.closed = true
	delete(s.pubsub.subscriptions, s.id)
	s.pubsub.mutex.Unlock()

	close(s.ch)
	s.cancel()
}

func (s *subscription[E]) ResultChan() <-chan E {
	return s.ch
}

type noopSubscription[E any] struct{}

func (noopSubscription[E]) Stop() {}

func (noopSubscription[E]) ResultChan() <-chan E {
	ch := make(chan E)
	close(ch)
	return ch
}
