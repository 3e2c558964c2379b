// Package session implements the request lifecycle controller: one
// idle/loading/success/failed state machine per listener, plus the audio
// pipeline that follows each new narrative.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/narrator-core/internal/audio"
	"github.com/loqalabs/narrator-core/internal/narrative"
	"github.com/loqalabs/narrator-core/internal/pubsub"
	"github.com/loqalabs/narrator-core/internal/tts"
)

var ErrClosed = errors.New("session closed")

// Orchestrator produces a narrative for a persona.
type Orchestrator interface {
	Submit(ctx context.Context, p narrative.Persona, loc narrative.Locale) (narrative.Result, error)
}

// Allocator turns a synthesized audio URL into an owned handle.
type Allocator interface {
	Acquire(ctx context.Context, source string) (*audio.Handle, error)
}

type Options struct {
	// AbortSuperseded cancels the context of an in-flight submission when a
	// newer one arrives. Stale results are discarded either way.
	AbortSuperseded bool
	SubmitTimeout   time.Duration
	// Synth may be nil, which disables narration.
	Synth     tts.Synthesizer
	Allocator Allocator
	// Observer, when set, is called with every change in order while the
	// controller lock is held. It must not block or call back into the
	// controller. Unlike subscribers it never misses a change.
	Observer func(Change)
}

type audioJob struct {
	gen    uint64
	text   string
	locale narrative.Locale
}

type Controller struct {
	id     string
	orch   Orchestrator
	opts   Options
	logger *slog.Logger
	events *pubsub.PubSub[Change]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       Snapshot
	seq         uint64
	inflight    context.CancelFunc
	lastStory   string
	audioGen    uint64
	audioCancel context.CancelFunc
	track       audio.Track
	jobs        chan audioJob
	closed      bool
	closeOnce   sync.Once
}

func New(parent context.Context, id string, orch Orchestrator, opts Options, logger *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(parent)
	if opts.Allocator == nil {
		opts.Allocator = audio.NewReferenceAllocator()
	}
	logger = logger.With(slog.String("component", "session"), slog.String("session_id", id))
	c := &Controller{
		id:     id,
		orch:   orch,
		opts:   opts,
		logger: logger,
		events: pubsub.New[Change](logger),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan audioJob, 1),
		state: Snapshot{
			SessionID: id,
			Status:    StatusIdle,
			Locale:    narrative.LocaleEnglish,
			Audio:     AudioState{Status: AudioNone},
			UpdatedAt: time.Now().UTC(),
		},
	}
	c.wg.Add(1)
	go c.audioWorker()
	return c
}

func (c *Controller) ID() string { return c.id }

// Submit starts a new submission and returns its sequence number. Any
// earlier submission still in flight is superseded.
func (c *Controller) Submit(p narrative.Persona, loc narrative.Locale) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	c.seq++
	seq := c.seq
	if c.inflight != nil && c.opts.AbortSuperseded {
		c.inflight()
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if c.opts.SubmitTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.opts.SubmitTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	c.inflight = cancel

	persona := p
	c.state.Sequence = seq
	c.state.Status = StatusLoading
	c.state.Error = nil
	c.state.Persona = &persona
	c.state.Locale = loc
	c.emitLocked(ChangeSubmitted)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		res, err := c.orch.Submit(ctx, p, loc)
		c.complete(seq, res, err)
	}()
	return seq, nil
}

func (c *Controller) complete(seq uint64, res narrative.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if seq != c.seq {
		c.logger.Debug("discarding stale result", slog.Uint64("sequence", seq), slog.Uint64("latest", c.seq))
		return
	}
	c.inflight = nil

	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = FallbackMessage
		}
		c.logger.Warn("narrative generation failed", slog.Uint64("sequence", seq), slogError(err))
		c.state.Status = StatusFailed
		c.state.Error = &ErrorInfo{Message: msg}
		c.emitLocked(ChangeFailed)
		return
	}

	result := res
	c.state.Status = StatusSuccess
	c.state.Result = &result
	c.emitLocked(ChangeSucceeded)

	if c.opts.Synth != nil && res.Story != "" && res.Story != c.lastStory {
		c.lastStory = res.Story
		c.scheduleAudioLocked(res.Story, c.state.Locale)
	}
}

func (c *Controller) scheduleAudioLocked(text string, loc narrative.Locale) {
	c.audioGen++
	if c.audioCancel != nil {
		c.audioCancel()
		c.audioCancel = nil
	}
	if err := c.track.Stop(); err != nil {
		c.logger.Warn("failed to release audio", slogError(err))
	}
	c.state.Audio = AudioState{Status: AudioPending}
	c.emitLocked(ChangeAudioPending)

	job := audioJob{gen: c.audioGen, text: text, locale: loc}
	select {
	case <-c.jobs:
	default:
	}
	c.jobs <- job
}

func (c *Controller) audioWorker() {
	defer c.wg.Done()
	for job := range c.jobs {
		c.runAudio(job)
	}
}

func (c *Controller) runAudio(job audioJob) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	c.mu.Lock()
	if job.gen != c.audioGen || c.closed {
		c.mu.Unlock()
		return
	}
	c.audioCancel = cancel
	c.mu.Unlock()

	var handle *audio.Handle
	url, err := c.opts.Synth.Synthesize(ctx, job.text)
	if err == nil {
		handle, err = c.opts.Allocator.Acquire(ctx, url)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if job.gen != c.audioGen || c.closed {
		if relErr := handle.Release(); relErr != nil {
			c.logger.Warn("failed to release stale audio", slogError(relErr))
		}
		return
	}
	c.audioCancel = nil

	if err != nil {
		c.logger.Warn("speech synthesis failed", slogError(err))
		c.state.Audio = AudioState{Status: AudioFailed, Error: AudioErrorMessage(job.locale, err)}
		c.emitLocked(ChangeAudioFailed)
		return
	}
	if relErr := c.track.Replace(handle); relErr != nil {
		c.logger.Warn("failed to release audio", slogError(relErr))
	}
	c.state.Audio = AudioState{Status: AudioReady, HandleID: handle.ID, URL: handle.Source, Local: handle.Local}
	c.emitLocked(ChangeAudioReady)
}

// Dismiss hides a visible error. The last successful narrative stays.
// It reports whether there was an error to dismiss.
func (c *Controller) Dismiss() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state.Status != StatusFailed {
		return false
	}
	c.state.Error = nil
	if c.state.Result != nil {
		c.state.Status = StatusSuccess
	} else {
		c.state.Status = StatusIdle
	}
	c.emitLocked(ChangeDismissed)
	return true
}

// StopAudio releases the current narration and abandons any synthesis in
// progress.
func (c *Controller) StopAudio() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.audioGen++
	if c.audioCancel != nil {
		c.audioCancel()
		c.audioCancel = nil
	}
	err := c.track.Stop()
	c.state.Audio = AudioState{Status: AudioNone}
	c.emitLocked(ChangeAudioStopped)
	return err
}

// AudioHandle returns the live handle, or nil.
func (c *Controller) AudioHandle() *audio.Handle {
	return c.track.Current()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe streams every change until ctx is done or the controller closes.
func (c *Controller) Subscribe(ctx context.Context) pubsub.Subscription[Change] {
	return c.events.Subscribe(ctx)
}

// Close abandons in-flight work, waits for it to settle and releases the
// live audio handle.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.audioGen++
		close(c.jobs)
		c.mu.Unlock()

		c.cancel()
		c.wg.Wait()
		if err := c.track.Stop(); err != nil {
			c.logger.Warn("failed to release audio", slogError(err))
		}
		c.events.Stop()
	})
}

func (c *Controller) emitLocked(kind ChangeKind) {
	c.state.UpdatedAt = time.Now().UTC()
	change := Change{Kind: kind, Snapshot: c.state}
	if c.opts.Observer != nil {
		c.opts.Observer(change)
	}
	c.events.Publish(change)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
