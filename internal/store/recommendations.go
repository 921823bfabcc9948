package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Recommendation is an activity recommended to a user within a project.
type Recommendation struct {
	ID                string          `json:"id"`
	ActivityID        string          `json:"activityId"`
	ProjectID         string          `json:"projectId"`
	UserID            string          `json:"userId"`
	Title             string          `json:"title"`
	ShortDescription  string          `json:"shortDescription"`
	LongDescription   string          `json:"longDescription,omitempty"`
	ThumbnailURL      string          `json:"thumbnailUrl,omitempty"`
	Itinerary         []ItineraryItem `json:"itinerary"`
	PrerequisiteIDs   []string        `json:"preRequisiteIds"`
	OfferingIDs       []string        `json:"offeringIds"`
	ReasonToRecommend string          `json:"reasonToRecommend,omitempty"`
	Duration          int             `json:"duration,omitempty"`
	Score             float64         `json:"score"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

const recommendationColumns = `id, activity_id, project_id, user_id, title, short_description, long_description,
  thumbnail_url, itinerary, prerequisite_ids, offering_ids, reason_to_recommend, duration, score, created_at, updated_at`

func scanRecommendation(row rowScanner) (Recommendation, error) {
	var (
		r         Recommendation
		itinerary []byte
	)
	err := row.Scan(&r.ID, &r.ActivityID, &r.ProjectID, &r.UserID, &r.Title, &r.ShortDescription, &r.LongDescription,
		&r.ThumbnailURL, &itinerary, pq.Array(&r.PrerequisiteIDs), pq.Array(&r.OfferingIDs), &r.ReasonToRecommend,
		&r.Duration, &r.Score, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Recommendation{}, err
	}
	if len(itinerary) > 0 {
		if err := json.Unmarshal(itinerary, &r.Itinerary); err != nil {
			return Recommendation{}, fmt.Errorf("decode itinerary for %s: %w", r.ID, err)
		}
	}
	return r, nil
}

func marshalItinerary(items []ItineraryItem) ([]byte, error) {
	if items == nil {
		items = []ItineraryItem{}
	}
	return json.Marshal(items)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// UpsertRecommendation writes rec keyed on (project, activity, user) and makes sure the
// project's recommendation list contains its id, in one transaction. created reports
// whether a new row was inserted.
func (s *Store) UpsertRecommendation(ctx context.Context, rec Recommendation) (out Recommendation, created bool, err error) {
	ctx, span := storeTracer.Start(ctx, "store.UpsertRecommendation")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if rec.ActivityID == "" || rec.ProjectID == "" || rec.UserID == "" {
		return Recommendation{}, false, fmt.Errorf("activity_id, project_id and user_id required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	itinerary, err := marshalItinerary(rec.Itinerary)
	if err != nil {
		return Recommendation{}, false, fmt.Errorf("marshal itinerary: %w", err)
	}

	err = withTx(ctx, s.DB, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
INSERT INTO recommendations (id, activity_id, project_id, user_id, title, short_description, long_description,
  thumbnail_url, itinerary, prerequisite_ids, offering_ids, reason_to_recommend, duration, score, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
ON CONFLICT (project_id, activity_id, user_id) DO UPDATE SET
  title = EXCLUDED.title,
  short_description = EXCLUDED.short_description,
  long_description = EXCLUDED.long_description,
  thumbnail_url = EXCLUDED.thumbnail_url,
  itinerary = EXCLUDED.itinerary,
  prerequisite_ids = EXCLUDED.prerequisite_ids,
  offering_ids = EXCLUDED.offering_ids,
  reason_to_recommend = EXCLUDED.reason_to_recommend,
  duration = EXCLUDED.duration,
  score = EXCLUDED.score,
  updated_at = NOW()
RETURNING `+recommendationColumns+`, (xmax = 0) AS inserted`,
			rec.ID, rec.ActivityID, rec.ProjectID, rec.UserID, rec.Title, rec.ShortDescription, rec.LongDescription,
			rec.ThumbnailURL, itinerary, pq.Array(nonNil(rec.PrerequisiteIDs)), pq.Array(nonNil(rec.OfferingIDs)),
			rec.ReasonToRecommend, rec.Duration, rec.Score)
		var itin []byte
		if err := row.Scan(&out.ID, &out.ActivityID, &out.ProjectID, &out.UserID, &out.Title, &out.ShortDescription,
			&out.LongDescription, &out.ThumbnailURL, &itin, pq.Array(&out.PrerequisiteIDs), pq.Array(&out.OfferingIDs),
			&out.ReasonToRecommend, &out.Duration, &out.Score, &out.CreatedAt, &out.UpdatedAt, &created); err != nil {
			return fmt.Errorf("upsert recommendation: %w", err)
		}
		if len(itin) > 0 {
			if err := json.Unmarshal(itin, &out.Itinerary); err != nil {
				return fmt.Errorf("decode itinerary: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE projects SET recommendation_ids = array_append(recommendation_ids, $1), updated_at = NOW()
WHERE id = $2 AND NOT ($1 = ANY(recommendation_ids))`, out.ID, out.ProjectID); err != nil {
			return fmt.Errorf("append project recommendation: %w", err)
		}
		return nil
	})
	if err != nil {
		return Recommendation{}, false, err
	}
	span.SetAttributes(attribute.Bool("store.created", created))
	return out, created, nil
}

// GetRecommendation returns the recommendation only when it belongs to userID.
func (s *Store) GetRecommendation(ctx context.Context, id, userID string) (Recommendation, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+recommendationColumns+` FROM recommendations WHERE id = $1 AND user_id = $2`, id, userID)
	r, err := scanRecommendation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recommendation{}, ErrNotFound
	}
	return r, err
}

// ListProjectRecommendations returns a user's recommendations for a project, oldest first.
func (s *Store) ListProjectRecommendations(ctx context.Context, projectID, userID string) ([]Recommendation, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+recommendationColumns+` FROM recommendations
WHERE project_id = $1 AND user_id = $2 ORDER BY created_at, id`, projectID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRecommendationItinerary replaces the itinerary of a recommendation owned by userID.
func (s *Store) UpdateRecommendationItinerary(ctx context.Context, id, userID string, items []ItineraryItem) error {
	raw, err := marshalItinerary(items)
	if err != nil {
		return fmt.Errorf("marshal itinerary: %w", err)
	}
	return s.updateOwned(ctx, `UPDATE recommendations SET itinerary = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`, id, userID, raw)
}

// UpdateRecommendationOfferings replaces the offering ids of a recommendation owned by userID.
func (s *Store) UpdateRecommendationOfferings(ctx context.Context, id, userID string, offeringIDs []string) error {
	return s.updateOwned(ctx, `UPDATE recommendations SET offering_ids = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		id, userID, pq.Array(nonNil(offeringIDs)))
}

func (s *Store) updateOwned(ctx context.Context, query, id, userID string, value interface{}) error {
	res, err := s.DB.ExecContext(ctx, query, id, userID, value)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReconcileProjectRecommendations appends every recommendation id missing from its
// project's list and returns the number of projects repaired.
func (s *Store) ReconcileProjectRecommendations(ctx context.Context) (int64, error) {
	ctx, span := storeTracer.Start(ctx, "store.ReconcileProjectRecommendations")
	defer span.End()
	res, err := s.DB.ExecContext(ctx, `
UPDATE projects p SET recommendation_ids = p.recommendation_ids || missing.ids, updated_at = NOW()
FROM (
  SELECT r.project_id, array_agg(r.id ORDER BY r.created_at, r.id) AS ids
  FROM recommendations r
  JOIN projects pr ON pr.id = r.project_id
  WHERE NOT (r.id = ANY(pr.recommendation_ids))
  GROUP BY r.project_id
) missing
WHERE p.id = missing.project_id`)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("reconcile projects: %w", err)
	}
	return res.RowsAffected()
}
