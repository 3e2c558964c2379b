// Package presence tracks the narrator nodes sharing a bus. Each node
// announces its generation, speech and audio backends once and then sends
// periodic heartbeats; peers that fall silent are marked unhealthy.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/narrator-core/internal/bus"
	"github.com/loqalabs/narrator-core/internal/config"
	"github.com/loqalabs/narrator-core/internal/protocol"
)

var ErrInvalidNodeID = errors.New("node id must be a single subject token")

type NodeInfo struct {
	ID       string             `json:"id"`
	Version  string             `json:"version,omitempty"`
	Backends []protocol.Backend `json:"backends"`
	Sessions int                `json:"sessions"`
	LastSeen time.Time          `json:"last_seen"`
	Healthy  bool               `json:"healthy"`
}

type Registry struct {
	cfg      config.NodeConfig
	self     protocol.NodeAnnouncement
	sessions func() int
	log      *slog.Logger
	bus      *bus.Client
	now      func() time.Time

	mu    sync.RWMutex
	nodes map[string]*NodeInfo

	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
}

// Backends describes the backends selected by cfg.
func Backends(cfg config.Config) []protocol.Backend {
	backends := []protocol.Backend{
		{Name: "generation", Mode: cfg.Generation.Mode, Attributes: map[string]string{"model": cfg.Generation.Model}},
		{Name: "cache", Mode: cfg.Cache.Mode},
		{Name: "audio", Mode: cfg.Audio.Mode},
	}
	if cfg.Speech.Enabled {
		backends = append(backends, protocol.Backend{Name: "speech", Mode: cfg.Speech.Mode, Attributes: map[string]string{"voice_engine": cfg.Speech.VoiceEngine}})
	}
	return backends
}

// NewRegistry subscribes to peer announcements, announces this node and
// starts heartbeating. sessions reports the live session count and may be nil.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, version string, backends []protocol.Backend,
	busClient *bus.Client, sessions func() int, log *slog.Logger) (*Registry, error) {
	if !protocol.ValidSessionID(cfg.ID) {
		return nil, ErrInvalidNodeID
	}
	if sessions == nil {
		sessions = func() int { return 0 }
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:      cfg,
		self:     protocol.NodeAnnouncement{NodeID: cfg.ID, Version: version, Backends: backends},
		sessions: sessions,
		log:      log.With(slog.String("component", "presence")),
		bus:      busClient,
		now:      time.Now,
		nodes:    make(map[string]*NodeInfo),
		cancel:   cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slogError(err))
	}
	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}
	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slogError(err))
	}

	r.wg.Add(1)
	go r.run(ctx)
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		_ = announceSub.Unsubscribe()
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return conn.Flush()
}

func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatIntervalMS) * time.Millisecond)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slogError(err))
			}
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := r.self
	msg.Timestamp = r.now().UTC()
	r.update(msg.NodeID, msg.Version, msg.Backends, -1, msg.Timestamp)
	return r.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg)
}

func (r *Registry) publishHeartbeat() error {
	msg := protocol.NodeHeartbeat{
		NodeID:    r.cfg.ID,
		Sessions:  r.sessions(),
		Timestamp: r.now().UTC(),
	}
	return r.bus.PublishJSON(protocol.HeartbeatSubject(r.cfg.ID), msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var ann protocol.NodeAnnouncement
	if err := json.Unmarshal(msg.Data, &ann); err != nil || ann.NodeID == "" {
		r.log.Warn("invalid announce message", slog.String("subject", msg.Subject))
		return
	}
	if ann.Timestamp.IsZero() {
		ann.Timestamp = r.now().UTC()
	}
	known := r.update(ann.NodeID, ann.Version, ann.Backends, -1, ann.Timestamp)
	if !known && ann.NodeID != r.cfg.ID {
		// a newcomer has not heard our announcement yet
		if err := r.announce(); err != nil {
			r.log.Warn("failed to announce node", slogError(err))
		}
	}
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.NodeHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil || hb.NodeID == "" {
		r.log.Warn("invalid heartbeat message", slog.String("subject", msg.Subject))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.now().UTC()
	}
	r.update(hb.NodeID, "", nil, hb.Sessions, hb.Timestamp)
}

// update records a sighting of nodeID and reports whether it was known.
// A negative sessions leaves the count unchanged.
func (r *Registry) update(nodeID, version string, backends []protocol.Backend, sessions int, seen time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if version != "" {
		node.Version = version
	}
	if len(backends) > 0 {
		node.Backends = backends
	}
	if sessions >= 0 {
		node.Sessions = sessions
	}
	node.LastSeen = seen
	node.Healthy = true
	return ok
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeoutMS) * time.Millisecond
	now := r.now()
	for id, node := range r.nodes {
		if id == r.cfg.ID {
			continue
		}
		if node.Healthy && now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
			r.log.Warn("node missed heartbeats", slog.String("node_id", id), slog.Time("last_seen", node.LastSeen))
		}
	}
}

// Nodes lists every known node, this one included, ordered by id.
func (r *Registry) Nodes() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NodeInfo, 0, len(r.nodes))
	for _, node := range r.nodes {
		info := *node
		if info.ID == r.cfg.ID {
			info.Sessions = r.sessions()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithBackend selects nodes running the named backend in mode.
func WithBackend(name, mode string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, b := range node.Backends {
			if b.Name == name && b.Mode == mode {
				return true
			}
		}
		return false
	}
}

func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	var out []NodeInfo
	for _, node := range r.Nodes() {
		if filter == nil || filter(node) {
			out = append(out, node)
		}
	}
	return out
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/narrator-core/presence")
	nodes, err := meter.Int64ObservableGauge("narrator.nodes.healthy", metric.WithDescription("Number of healthy narrator nodes"))
	if err != nil {
		return err
	}
	sessions, err := meter.Int64ObservableGauge("narrator.sessions.live", metric.WithDescription("Live sessions on this node"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(nodes, r.healthyCount())
		obs.ObserveInt64(sessions, int64(r.sessions()))
		return nil
	}, nodes, sessions)
	return err
}

func (r *Registry) healthyCount() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, node := range r.nodes {
		if node.Healthy {
			n++
		}
	}
	return n
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
