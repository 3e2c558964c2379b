package narrative

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Fetcher performs one logical generation request with its own retry budget.
type Fetcher interface {
	Fetch(ctx context.Context, prompt, system string, maxRetries int) (string, error)
}

// Orchestrator turns a persona into a story and a context list.
type Orchestrator struct {
	fetcher    Fetcher
	maxRetries int
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewOrchestrator(fetcher Fetcher, maxRetries int, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher:    fetcher,
		maxRetries: maxRetries,
		logger:     logger.With(slog.String("component", "narrative-orchestrator")),
		tracer:     otel.Tracer("github.com/loqalabs/narrator-core/narrative"),
	}
}

// Submit requests both texts concurrently and returns only when both calls
// have finished. If either fails the first error is returned and no part of
// the other result escapes.
func (o *Orchestrator) Submit(ctx context.Context, p Persona, loc Locale) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "narrative.submit", trace.WithAttributes(
		attribute.String("persona.city", p.City),
		attribute.Int("persona.year", p.Year),
		attribute.String("locale", string(loc)),
	))
	defer span.End()

	var story, contextList string
	var g errgroup.Group
	g.Go(func() error {
		text, err := o.fetcher.Fetch(ctx, BuildPrompt(p, loc, KindStory), SystemInstruction(loc, KindStory), o.maxRetries)
		if err != nil {
			return err
		}
		story = text
		return nil
	})
	g.Go(func() error {
		text, err := o.fetcher.Fetch(ctx, BuildPrompt(p, loc, KindContextList), SystemInstruction(loc, KindContextList), o.maxRetries)
		if err != nil {
			return err
		}
		contextList = text
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	o.logger.Debug("narrative generated", slog.String("city", p.City), slog.Int("year", p.Year))
	return Result{
		Story:       strings.TrimSpace(story),
		ContextList: strings.TrimSpace(contextList),
	}, nil
}
