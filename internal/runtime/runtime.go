package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/narrator-core/internal/audio"
	"github.com/loqalabs/narrator-core/internal/bus"
	"github.com/loqalabs/narrator-core/internal/cache"
	"github.com/loqalabs/narrator-core/internal/config"
	"github.com/loqalabs/narrator-core/internal/eventstore"
	"github.com/loqalabs/narrator-core/internal/llm"
	"github.com/loqalabs/narrator-core/internal/narrative"
	"github.com/loqalabs/narrator-core/internal/natsserver"
	"github.com/loqalabs/narrator-core/internal/presence"
	"github.com/loqalabs/narrator-core/internal/service"
	"github.com/loqalabs/narrator-core/internal/session"
	"github.com/loqalabs/narrator-core/internal/tts"
)

type Runtime struct {
	cfg           config.Config
	version       string
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	embeddedNATS  *natsserver.EmbeddedServer
	bus           *bus.Client
	store         *eventstore.Store
	service       *service.Service
	presence      *presence.Registry
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start wires every component, serves until ctx is cancelled and then shuts
// everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	busCfg := r.cfg.Bus
	r.embeddedNATS, err = natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats-server")))
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	if r.embeddedNATS != nil {
		busCfg.Servers = []string{r.embeddedNATS.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}

	orch, err := r.buildOrchestrator()
	if err != nil {
		return err
	}
	alloc, opts, err := r.buildAudio()
	if err != nil {
		return err
	}

	r.service = service.NewService(ctx, r.cfg.Narrator, r.bus, r.store, orch, opts, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("failed to start narrator service: %w", err)
	}

	r.presence, err = presence.NewRegistry(ctx, r.cfg.Node, r.version, presence.Backends(r.cfg), r.bus, r.service.Sessions, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start presence registry: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	handlers := newAPI(r.service, alloc, r.logger)
	handlers.nodes = r.presence
	handlers.routes(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) buildOrchestrator() (*narrative.Orchestrator, error) {
	gen := r.cfg.Generation
	generator, err := llm.NewGenerator(gen, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	c, err := cache.New(r.cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}
	if c, err = cache.Instrument(c); err != nil {
		return nil, fmt.Errorf("failed to instrument response cache: %w", err)
	}
	fetcher := llm.NewFetcher(generator, c, r.logger,
		llm.WithRetryStep(time.Duration(gen.RetryStepMS)*time.Millisecond),
		llm.WithCache(gen.UseCache),
	)
	r.logger.Info("narrative generation configured",
		slog.String("mode", gen.Mode),
		slog.String("cache", r.cfg.Cache.Mode),
		slog.Int("max_retries", gen.MaxRetries))
	return narrative.NewOrchestrator(fetcher, gen.MaxRetries, r.logger), nil
}

func (r *Runtime) buildAudio() (audio.Allocator, session.Options, error) {
	var opts session.Options
	client := &http.Client{Timeout: time.Duration(r.cfg.Speech.TimeoutSeconds) * time.Second}
	alloc, err := audio.New(r.cfg.Audio, r.bus.JetStream(), client)
	if err != nil {
		return nil, opts, fmt.Errorf("failed to create audio allocator: %w", err)
	}
	opts.Allocator = alloc

	if !r.cfg.Speech.Enabled {
		r.logger.Info("speech synthesis disabled")
		return alloc, opts, nil
	}
	synth, err := tts.NewSynthesizer(r.cfg.Speech, r.logger)
	if err != nil {
		return nil, opts, fmt.Errorf("failed to create synthesizer: %w", err)
	}
	if opts.Synth, err = tts.Instrument(synth); err != nil {
		return nil, opts, fmt.Errorf("failed to instrument synthesizer: %w", err)
	}
	r.logger.Info("speech synthesis configured",
		slog.String("mode", r.cfg.Speech.Mode),
		slog.String("audio", r.cfg.Audio.Mode))
	return alloc, opts, nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slogError(err))
		}
	}()
}

func (r *Runtime) shutdown() {
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	r.wg.Wait()

	if r.presence != nil {
		r.presence.Close()
	}
	if r.service != nil {
		r.service.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slogError(err))
		}
	}
	r.bus.Close()
	r.embeddedNATS.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.service.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
