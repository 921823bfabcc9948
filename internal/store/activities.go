package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ItineraryItem is one timed step of an activity or recommendation itinerary.
type ItineraryItem struct {
	Duration    int    `json:"duration"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
}

// Activity is a bookable activity document. Only the embedding fields are written here.
type Activity struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	ShortDescription  string          `json:"shortDescription"`
	LongDescription   string          `json:"longDescription"`
	ThumbnailURL      string          `json:"thumbnailUrl,omitempty"`
	Location          string          `json:"location,omitempty"`
	City              string          `json:"city,omitempty"`
	State             string          `json:"state,omitempty"`
	Price             float64         `json:"price"`
	MinParticipants   int             `json:"minParticipants"`
	MaxParticipants   int             `json:"maxParticipants"`
	MinDuration       int             `json:"minDuration"`
	MaxDuration       int             `json:"maxDuration"`
	PreferredDuration int             `json:"preferredDuration"`
	Category          string          `json:"category,omitempty"`
	HostName          string          `json:"hostName,omitempty"`
	HostTitle         string          `json:"hostTitle,omitempty"`
	OfferingIDs       []string        `json:"offeringIds"`
	OfferingTexts     []string        `json:"offeringTexts,omitempty"`
	PrerequisiteIDs   []string        `json:"preRequisiteIds"`
	PrerequisiteNames []string        `json:"preRequisiteNames,omitempty"`
	Itinerary         []ItineraryItem `json:"itinerary"`
	Embedding         []float32       `json:"-"`
	EmbeddingText     string          `json:"-"`
	// Score is the similarity assigned by the search that returned the activity.
	Score float64 `json:"score,omitempty"`
}

// ActivityFilters narrow activity queries. Zero values are ignored.
type ActivityFilters struct {
	City        string  `json:"city,omitempty"`
	State       string  `json:"state,omitempty"`
	Category    string  `json:"category,omitempty"`
	MinGroup    int     `json:"minGroup,omitempty"`
	MaxGroup    int     `json:"maxGroup,omitempty"`
	MinPrice    float64 `json:"minPrice,omitempty"`
	MaxPrice    float64 `json:"maxPrice,omitempty"`
	MaxDuration int     `json:"maxDuration,omitempty"`
}

// IsZero reports whether no filter is set.
func (f ActivityFilters) IsZero() bool { return f == (ActivityFilters{}) }

const activityColumns = `a.id, a.title, a.short_description, a.long_description, a.thumbnail_url,
  a.location, a.city, a.state, a.price, a.min_participants, a.max_participants,
  a.min_duration, a.max_duration, a.preferred_duration, a.category, a.host_name, a.host_title,
  a.offering_ids, a.prerequisite_ids, a.itinerary,
  ARRAY(SELECT concat_ws(', ', NULLIF(o.short_description, ''), NULLIF(o.long_description, ''))
        FROM offerings o WHERE o.id = ANY(a.offering_ids) ORDER BY array_position(a.offering_ids, o.id)) AS offering_texts,
  ARRAY(SELECT p.name FROM prerequisites p WHERE p.id = ANY(a.prerequisite_ids)
        ORDER BY array_position(a.prerequisite_ids, p.id)) AS prerequisite_names,
  a.embedding::text, COALESCE(a.embedding_text, '')`

// filterClauses renders f as SQL predicates; placeholders continue after args.
func filterClauses(f ActivityFilters, args []interface{}) ([]string, []interface{}) {
	var clauses []string
	add := func(format string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(format, len(args)))
	}
	if strings.TrimSpace(f.City) != "" {
		add("a.city ILIKE $%d", likePattern(f.City))
	}
	if strings.TrimSpace(f.State) != "" {
		add("a.state ILIKE $%d", likePattern(f.State))
	}
	if strings.TrimSpace(f.Category) != "" {
		add("a.category ILIKE $%d", likePattern(f.Category))
	}
	if f.MinGroup > 0 {
		add("a.max_participants >= $%d", f.MinGroup)
	}
	if f.MaxGroup > 0 {
		add("a.min_participants <= $%d", f.MaxGroup)
	}
	if f.MinPrice > 0 {
		add("a.price >= $%d", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		add("a.price <= $%d", f.MaxPrice)
	}
	if f.MaxDuration > 0 {
		add("a.min_duration <= $%d", f.MaxDuration)
	}
	return clauses, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActivity(row rowScanner) (Activity, error) {
	var (
		a         Activity
		itinerary []byte
		embedding Vector
	)
	err := row.Scan(
		&a.ID, &a.Title, &a.ShortDescription, &a.LongDescription, &a.ThumbnailURL,
		&a.Location, &a.City, &a.State, &a.Price, &a.MinParticipants, &a.MaxParticipants,
		&a.MinDuration, &a.MaxDuration, &a.PreferredDuration, &a.Category, &a.HostName, &a.HostTitle,
		pq.Array(&a.OfferingIDs), pq.Array(&a.PrerequisiteIDs), &itinerary,
		pq.Array(&a.OfferingTexts), pq.Array(&a.PrerequisiteNames),
		&embedding, &a.EmbeddingText,
	)
	if err != nil {
		return Activity{}, err
	}
	if len(itinerary) > 0 {
		if err := json.Unmarshal(itinerary, &a.Itinerary); err != nil {
			return Activity{}, fmt.Errorf("decode itinerary for %s: %w", a.ID, err)
		}
	}
	a.Embedding = embedding
	return a, nil
}

func (s *Store) queryActivities(ctx context.Context, span trace.Span, query string, args ...interface{}) ([]Activity, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("store.rows", len(out)))
	return out, nil
}

// ListEmbeddedActivities returns the limit activities nearest to near (cosine distance)
// that carry an embedding and satisfy the filters. Final scoring happens in the caller.
func (s *Store) ListEmbeddedActivities(ctx context.Context, near []float32, f ActivityFilters, limit int) ([]Activity, error) {
	ctx, span := storeTracer.Start(ctx, "store.ListEmbeddedActivities")
	defer span.End()
	if len(near) == 0 {
		return nil, errEmptyVector
	}

	clauses, args := filterClauses(f, []interface{}{Vector(near)})
	clauses = append([]string{"a.embedding IS NOT NULL"}, clauses...)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM activities a WHERE %s ORDER BY a.embedding <=> $1::vector, a.id LIMIT $%d`,
		activityColumns, strings.Join(clauses, " AND "), len(args))
	return s.queryActivities(ctx, span, query, args...)
}

// SearchActivitiesText is the lexical search: a case-insensitive substring match of term
// over title, descriptions, category and city, with the same filters.
func (s *Store) SearchActivitiesText(ctx context.Context, term string, f ActivityFilters, limit int) ([]Activity, error) {
	ctx, span := storeTracer.Start(ctx, "store.SearchActivitiesText")
	defer span.End()

	args := []interface{}{likePattern(term)}
	clauses := []string{`(a.title ILIKE $1 OR a.short_description ILIKE $1 OR a.long_description ILIKE $1 OR a.category ILIKE $1 OR a.city ILIKE $1)`}
	more, args := filterClauses(f, args)
	clauses = append(clauses, more...)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM activities a WHERE %s ORDER BY a.created_at, a.id LIMIT $%d`,
		activityColumns, strings.Join(clauses, " AND "), len(args))
	return s.queryActivities(ctx, span, query, args...)
}

// ListActivitiesMissingEmbedding pages through activities that have never been embedded,
// ordered by id and starting after afterID.
func (s *Store) ListActivitiesMissingEmbedding(ctx context.Context, afterID string, limit int) ([]Activity, error) {
	ctx, span := storeTracer.Start(ctx, "store.ListActivitiesMissingEmbedding")
	defer span.End()
	query := fmt.Sprintf(`SELECT %s FROM activities a WHERE a.embedding IS NULL AND a.id > $1 ORDER BY a.id LIMIT $2`, activityColumns)
	return s.queryActivities(ctx, span, query, afterID, limit)
}

// GetActivity loads one activity by id.
func (s *Store) GetActivity(ctx context.Context, id string) (Activity, error) {
	ctx, span := storeTracer.Start(ctx, "store.GetActivity")
	defer span.End()
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM activities a WHERE a.id = $1`, activityColumns), id)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, ErrNotFound
	}
	return a, err
}

// UpdateActivityEmbedding stores the vector and the text it was computed from.
func (s *Store) UpdateActivityEmbedding(ctx context.Context, id string, vec []float32, text string) error {
	if len(vec) == 0 {
		return errEmptyVector
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE activities SET embedding = $2::vector, embedding_text = $3, updated_at = NOW()
WHERE id = $1`, id, Vector(vec), text)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
