package tools

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var toolsTracer trace.Tracer = otel.Tracer("drew/internal/tools")

// ToolContext identifies who a tool call acts for. It is passed to every operation.
type ToolContext struct {
	UserID    string
	ProjectID string
	RunID     string
}

// Searcher answers activity queries.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, f store.ActivityFilters) ([]store.Activity, error)
}

// Store is the persistence used by the side-effecting tools.
type Store interface {
	GetActivity(ctx context.Context, id string) (store.Activity, error)
	UpsertRecommendation(ctx context.Context, rec store.Recommendation) (store.Recommendation, bool, error)
	GetRecommendation(ctx context.Context, id, userID string) (store.Recommendation, error)
	UpdateRecommendationItinerary(ctx context.Context, id, userID string, items []store.ItineraryItem) error
	UpdateRecommendationOfferings(ctx context.Context, id, userID string, offeringIDs []string) error
	SearchOfferings(ctx context.Context, term string, limit int) ([]store.Offering, error)
}

// Toolset holds the operations agents may invoke. It owns every persistence write the
// agents make.
type Toolset struct {
	search Searcher
	store  Store
	logger *log.Logger
}

func NewToolset(search Searcher, st Store, logger *log.Logger) *Toolset {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &Toolset{search: search, store: st, logger: logger}
}

func (t *Toolset) start(ctx context.Context, name string, tc ToolContext) (context.Context, trace.Span) {
	return toolsTracer.Start(ctx, "tools."+name, trace.WithAttributes(
		attribute.String("tool.user_id", tc.UserID),
		attribute.String("tool.project_id", tc.ProjectID),
		attribute.String("tool.run_id", tc.RunID),
	))
}

func finish(span trace.Span, name string, err error) {
	telemetry.ToolCalls.WithLabelValues(name, telemetry.Outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SearchActivities never fails: a failed search is logged and reported as no results.
func (t *Toolset) SearchActivities(ctx context.Context, tc ToolContext, query string, filters store.ActivityFilters, limit int) []store.Activity {
	ctx, span := t.start(ctx, "search_activities", tc)
	results, err := t.search.Search(ctx, query, limit, filters)
	finish(span, "search_activities", err)
	if err != nil {
		t.logger.Printf("run %s: search activities %q: %v", tc.RunID, query, err)
		return []store.Activity{}
	}
	t.logger.Printf("run %s: found %d activities for query: %s", tc.RunID, len(results), query)
	if results == nil {
		results = []store.Activity{}
	}
	return results
}

// GetActivity loads an activity by id.
func (t *Toolset) GetActivity(ctx context.Context, tc ToolContext, id string) (store.Activity, error) {
	ctx, span := t.start(ctx, "get_activity", tc)
	a, err := t.store.GetActivity(ctx, id)
	finish(span, "get_activity", err)
	return a, err
}

// CreateRecommendation upserts a recommendation for the activity within the caller's
// project. Customized title and description replace the activity's own when non-empty.
func (t *Toolset) CreateRecommendation(ctx context.Context, tc ToolContext, activity store.Activity, reason string, score float64, customTitle, customDescription string) (rec store.Recommendation, err error) {
	ctx, span := t.start(ctx, "create_recommendation", tc)
	defer func() { finish(span, "create_recommendation", err) }()

	if tc.UserID == "" || tc.ProjectID == "" {
		return store.Recommendation{}, fmt.Errorf("missing project or user context")
	}
	offerings := activity.OfferingIDs
	if len(offerings) > 3 {
		offerings = offerings[:3]
	}
	rec = store.Recommendation{
		ActivityID:        activity.ID,
		ProjectID:         tc.ProjectID,
		UserID:            tc.UserID,
		Title:             activity.Title,
		ShortDescription:  activity.ShortDescription,
		LongDescription:   activity.LongDescription,
		ThumbnailURL:      activity.ThumbnailURL,
		Itinerary:         activity.Itinerary,
		PrerequisiteIDs:   append([]string(nil), activity.PrerequisiteIDs...),
		OfferingIDs:       append([]string(nil), offerings...),
		ReasonToRecommend: reason,
		Duration:          activity.PreferredDuration,
		Score:             clamp(score),
	}
	if customTitle != "" {
		rec.Title = customTitle
	}
	if customDescription != "" {
		rec.ShortDescription = customDescription
	}
	out, created, err := t.store.UpsertRecommendation(ctx, rec)
	if err != nil {
		return store.Recommendation{}, fmt.Errorf("create recommendation: %w", err)
	}
	if created {
		t.logger.Printf("run %s: created recommendation %s", tc.RunID, out.ID)
	} else {
		t.logger.Printf("run %s: updated recommendation %s", tc.RunID, out.ID)
	}
	return out, nil
}

// RetrieveRecommendation reads a recommendation owned by the caller.
func (t *Toolset) RetrieveRecommendation(ctx context.Context, tc ToolContext, id string) (store.Recommendation, error) {
	ctx, span := t.start(ctx, "retrieve_recommendation", tc)
	rec, err := t.store.GetRecommendation(ctx, id, tc.UserID)
	finish(span, "retrieve_recommendation", err)
	return rec, err
}

// UpdateRecommendationItinerary replaces the itinerary of a recommendation owned by the caller.
func (t *Toolset) UpdateRecommendationItinerary(ctx context.Context, tc ToolContext, id string, items []store.ItineraryItem) error {
	ctx, span := t.start(ctx, "update_recommendation_itinerary", tc)
	err := t.store.UpdateRecommendationItinerary(ctx, id, tc.UserID, items)
	finish(span, "update_recommendation_itinerary", err)
	if err == nil {
		t.logger.Printf("run %s: updated itinerary for recommendation %s", tc.RunID, id)
	}
	return err
}

// UpdateRecommendationOfferings replaces the offering ids of a recommendation owned by the caller.
func (t *Toolset) UpdateRecommendationOfferings(ctx context.Context, tc ToolContext, id string, offeringIDs []string) error {
	ctx, span := t.start(ctx, "update_recommendation_offerings", tc)
	err := t.store.UpdateRecommendationOfferings(ctx, id, tc.UserID, offeringIDs)
	finish(span, "update_recommendation_offerings", err)
	if err == nil {
		t.logger.Printf("run %s: updated offerings for recommendation %s", tc.RunID, id)
	}
	return err
}

// SearchOfferings matches offering descriptions; failures are reported as no results.
func (t *Toolset) SearchOfferings(ctx context.Context, tc ToolContext, query string, limit int) []store.Offering {
	ctx, span := t.start(ctx, "search_offerings", tc)
	out, err := t.store.SearchOfferings(ctx, query, limit)
	finish(span, "search_offerings", err)
	if err != nil {
		t.logger.Printf("run %s: search offerings %q: %v", tc.RunID, query, err)
		return []store.Offering{}
	}
	return out
}
