package search

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/embedding"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var searchTracer trace.Tracer = otel.Tracer("drew/internal/search")

// ActivityStore is the persistence the engine reads candidates from and writes embeddings to.
type ActivityStore interface {
	ListEmbeddedActivities(ctx context.Context, near []float32, f store.ActivityFilters, limit int) ([]store.Activity, error)
	SearchActivitiesText(ctx context.Context, term string, f store.ActivityFilters, limit int) ([]store.Activity, error)
	ListActivitiesMissingEmbedding(ctx context.Context, afterID string, limit int) ([]store.Activity, error)
	UpdateActivityEmbedding(ctx context.Context, id string, vec []float32, text string) error
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine answers activity queries by embedding similarity, falling back to substring
// matching when no query vector can be produced or ranking fails.
type Engine struct {
	store    ActivityStore
	embedder Embedder
	cfg      config.SearchConfig
	logger   *log.Logger
}

func New(st ActivityStore, embedder Embedder, cfg config.SearchConfig, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	return &Engine{store: st, embedder: embedder, cfg: cfg.Normalize(), logger: logger}
}

// IndexActivity embeds the activity's searchable text and stores both.
func (e *Engine) IndexActivity(ctx context.Context, a store.Activity) error {
	text := BuildSearchableText(a)
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed activity %s: %w", a.ID, err)
	}
	if err := e.store.UpdateActivityEmbedding(ctx, a.ID, vec, text); err != nil {
		return fmt.Errorf("store embedding for %s: %w", a.ID, err)
	}
	return nil
}

// Search returns up to limit activities matching query and f, best match first.
func (e *Engine) Search(ctx context.Context, query string, limit int, f store.ActivityFilters) ([]store.Activity, error) {
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	ctx, span := searchTracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.Int("search.limit", limit),
		attribute.Bool("search.filtered", !f.IsZero()),
	))
	defer span.End()

	results, err := e.semantic(ctx, query, limit, f)
	if err == nil {
		span.SetAttributes(attribute.Int("search.results", len(results)))
		return results, nil
	}
	e.logger.Printf("semantic search failed, falling back to text search: %v", err)
	telemetry.SearchFallbacks.WithLabelValues("activities").Inc()
	span.SetAttributes(attribute.Bool("search.fallback", true))

	results, err = e.store.SearchActivitiesText(ctx, query, f, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("text search: %w", err)
	}
	return results, nil
}

func (e *Engine) semantic(ctx context.Context, query string, limit int, f store.ActivityFilters) ([]store.Activity, error) {
	if e.embedder == nil {
		return nil, embedding.ErrEmbeddingUnavailable
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	candidates, err := e.store.ListEmbeddedActivities(ctx, vec, f, e.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	byID := make(map[string]store.Activity, len(candidates))
	pool := make([]embedding.Candidate, 0, len(candidates))
	for _, a := range candidates {
		if len(a.Embedding) != len(vec) {
			continue
		}
		byID[a.ID] = a
		pool = append(pool, embedding.Candidate{ID: a.ID, Vector: a.Embedding})
	}
	if len(candidates) > 0 && len(pool) == 0 {
		return nil, errors.New("no candidate embedding matches the query dimension")
	}
	ranked := embedding.Rank(vec, pool, e.cfg.SimilarityThreshold, limit)
	out := make([]store.Activity, 0, len(ranked))
	for _, r := range ranked {
		a := byID[r.ID]
		a.Score = r.Score
		out = append(out, a)
	}
	return out, nil
}

// BatchIndex embeds every activity that has no embedding yet. Individual failures are
// logged and skipped; the count of newly embedded activities is returned.
func (e *Engine) BatchIndex(ctx context.Context) (int, error) {
	ctx, span := searchTracer.Start(ctx, "search.BatchIndex")
	defer span.End()

	var (
		count   int
		afterID string
	)
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		page, err := e.store.ListActivitiesMissingEmbedding(ctx, afterID, e.cfg.BatchSize)
		if err != nil {
			span.RecordError(err)
			return count, fmt.Errorf("list activities: %w", err)
		}
		for _, a := range page {
			if err := e.IndexActivity(ctx, a); err != nil {
				e.logger.Printf("warn: index activity %s: %v", a.ID, err)
				continue
			}
			count++
		}
		if len(page) < e.cfg.BatchSize {
			break
		}
		afterID = page[len(page)-1].ID
	}
	e.logger.Printf("generated embeddings for %d activities", count)
	span.SetAttributes(attribute.Int("search.indexed", count))
	return count, nil
}
