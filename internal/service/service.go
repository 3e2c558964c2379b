// Package service hosts one lifecycle controller per session and exposes
// them on the bus. State changes are broadcast and recorded in the event
// store.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/narrator-core/internal/bus"
	"github.com/loqalabs/narrator-core/internal/config"
	"github.com/loqalabs/narrator-core/internal/eventstore"
	"github.com/loqalabs/narrator-core/internal/narrative"
	"github.com/loqalabs/narrator-core/internal/protocol"
	"github.com/loqalabs/narrator-core/internal/session"
)

var (
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrInvalidPersona   = errors.New("invalid persona")
	ErrUnknownSession   = errors.New("unknown session")
	ErrClosed           = errors.New("service closed")
)

const (
	OriginBus  = "bus"
	OriginHTTP = "http"
)

var eventTypes = map[session.ChangeKind]string{
	session.ChangeSubmitted:    eventstore.TypeSubmitted,
	session.ChangeSucceeded:    eventstore.TypeSucceeded,
	session.ChangeFailed:       eventstore.TypeFailed,
	session.ChangeDismissed:    eventstore.TypeDismissed,
	session.ChangeAudioPending: eventstore.TypeAudioPending,
	session.ChangeAudioReady:   eventstore.TypeAudioReady,
	session.ChangeAudioFailed:  eventstore.TypeAudioFailed,
	session.ChangeAudioStopped: eventstore.TypeAudioStopped,
}

type Service struct {
	cfg    config.NarratorConfig
	bus    *bus.Client
	store  *eventstore.Store
	orch   session.Orchestrator
	opts   session.Options
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session.Controller
	queues   map[string]*changeQueue
	subs     []*nats.Subscription
	closed   bool
}

// NewService builds the session host. busClient and store may be nil.
func NewService(parent context.Context, cfg config.NarratorConfig, busClient *bus.Client, store *eventstore.Store,
	orch session.Orchestrator, opts session.Options, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if cfg.SubmitTimeoutSeconds > 0 && opts.SubmitTimeout == 0 {
		opts.SubmitTimeout = time.Duration(cfg.SubmitTimeoutSeconds) * time.Second
	}
	opts.AbortSuperseded = cfg.AbortSuperseded
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		store:    store,
		orch:     orch,
		opts:     opts,
		logger:   logger.With(slog.String("component", "narrator-service")),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session.Controller),
		queues:   make(map[string]*changeQueue),
	}
}

// Start subscribes to the command subjects. It is a no-op without a bus.
func (s *Service) Start() error {
	if s.bus == nil {
		return nil
	}
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectSubmit:    s.handleSubmit,
		protocol.SubjectDismiss:   s.handleDismiss,
		protocol.SubjectAudioStop: s.handleAudioStop,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.drain()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}
	return nil
}

func (s *Service) drain() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Drain()
	}
}

// Close stops accepting commands and closes every session, releasing their
// audio.
func (s *Service) Close() {
	s.drain()

	s.mu.Lock()
	s.closed = true
	controllers := make([]*session.Controller, 0, len(s.sessions))
	for _, c := range s.sessions {
		controllers = append(controllers, c)
	}
	queues := make([]*changeQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
	// recorders flush what the controllers emitted before exiting
	for _, q := range queues {
		q.close()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	if s.bus == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) == 3 && s.bus.Healthy()
}

// Submit validates req and starts a submission on its session, creating the
// session on first use.
func (s *Service) Submit(req protocol.SubmitRequest, origin string) (uint64, error) {
	if !protocol.ValidSessionID(req.SessionID) {
		return 0, ErrInvalidSessionID
	}
	if err := req.Persona.Validate(s.now()); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPersona, err)
	}
	locale := req.Locale
	if locale == "" {
		locale = s.cfg.DefaultLocale
	}

	c, err := s.controller(req.SessionID, origin)
	if err != nil {
		return 0, err
	}
	return c.Submit(req.Persona, narrative.ParseLocale(locale))
}

func (s *Service) Dismiss(sessionID string) (bool, error) {
	c, ok := s.lookup(sessionID)
	if !ok {
		return false, ErrUnknownSession
	}
	return c.Dismiss(), nil
}

func (s *Service) StopAudio(sessionID string) error {
	c, ok := s.lookup(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	return c.StopAudio()
}

func (s *Service) Snapshot(sessionID string) (session.Snapshot, error) {
	c, ok := s.lookup(sessionID)
	if !ok {
		return session.Snapshot{}, ErrUnknownSession
	}
	return c.Snapshot(), nil
}

// Sessions reports how many sessions are live.
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Session returns the controller for sessionID if it exists.
func (s *Service) Session(sessionID string) (*session.Controller, bool) {
	return s.lookup(sessionID)
}

// History returns the recorded events of a session.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListSessionEvents(ctx, sessionID, limit)
}

// RecordedSessions lists sessions known to the event store, newest first.
func (s *Service) RecordedSessions(ctx context.Context, limit int) ([]eventstore.Session, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListSessions(ctx, limit)
}

func (s *Service) lookup(sessionID string) (*session.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[sessionID]
	return c, ok
}

func (s *Service) controller(sessionID, origin string) (*session.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if c, ok := s.sessions[sessionID]; ok {
		return c, nil
	}

	if s.store != nil {
		if err := s.store.AppendSession(s.ctx, sessionID, origin); err != nil {
			s.logger.Warn("failed to record session", slog.String("session_id", sessionID), slogError(err))
		}
	}

	queue := newChangeQueue()
	opts := s.opts
	opts.Observer = queue.push
	c := session.New(s.ctx, sessionID, s.orch, opts, s.logger)
	s.sessions[sessionID] = c
	s.queues[sessionID] = queue

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		queue.drain(func(change session.Change) {
			s.publishState(change)
			s.record(change)
		})
	}()
	return c, nil
}

func (s *Service) publishState(change session.Change) {
	if s.bus == nil {
		return
	}
	msg := protocol.StateMessage{Kind: change.Kind, Snapshot: change.Snapshot}
	if err := s.bus.PublishJSON(protocol.StateSubject(change.Snapshot.SessionID), msg); err != nil {
		s.logger.Warn("failed to publish state", slogError(err))
	}
}

func (s *Service) record(change session.Change) {
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(change.Snapshot)
	if err != nil {
		s.logger.Warn("failed to marshal snapshot", slogError(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	evt := eventstore.Event{
		SessionID: change.Snapshot.SessionID,
		Sequence:  int64(change.Snapshot.Sequence),
		Type:      eventTypes[change.Kind],
		Payload:   payload,
	}
	if err := s.store.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to record event", slog.String("type", evt.Type), slogError(err))
	}
}

func (s *Service) handleSubmit(msg *nats.Msg) {
	var req protocol.SubmitRequest
	reply := protocol.SubmitReply{}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode submit request", slogError(err))
		reply.Error = "invalid request: " + err.Error()
		s.respond(msg, reply)
		return
	}
	if req.SessionID == "" {
		req.SessionID = NewSessionID()
	}
	reply.SessionID = req.SessionID
	seq, err := s.Submit(req, OriginBus)
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Sequence = seq
	}
	s.respond(msg, reply)
}

func (s *Service) handleDismiss(msg *nats.Msg) {
	var cmd protocol.SessionCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("failed to decode dismiss command", slogError(err))
		return
	}
	if _, err := s.Dismiss(cmd.SessionID); err != nil {
		s.logger.Debug("dismiss ignored", slog.String("session_id", cmd.SessionID), slogError(err))
	}
}

func (s *Service) handleAudioStop(msg *nats.Msg) {
	var cmd protocol.SessionCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("failed to decode audio stop command", slogError(err))
		return
	}
	if err := s.StopAudio(cmd.SessionID); err != nil {
		s.logger.Debug("audio stop ignored", slog.String("session_id", cmd.SessionID), slogError(err))
	}
}

func (s *Service) respond(msg *nats.Msg, reply protocol.SubmitReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal submit reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send submit reply", slogError(err))
	}
}

// NewSessionID names a session for callers that did not pick one.
func NewSessionID() string {
	return uuid.NewString()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
