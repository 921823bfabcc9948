package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

var recommendationCols = []string{
	"id", "activity_id", "project_id", "user_id", "title", "short_description", "long_description",
	"thumbnail_url", "itinerary", "prerequisite_ids", "offering_ids", "reason_to_recommend", "duration", "score",
	"created_at", "updated_at",
}

func TestUpsertRecommendationAppendsToProject(t *testing.T) {
	for _, tc := range []struct {
		name     string
		inserted bool
	}{
		{name: "created", inserted: true},
		{name: "updated", inserted: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock.New: %v", err)
			}
			defer db.Close()
			st := &Store{DB: db}
			now := time.Now()

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (project_id, activity_id, user_id) DO UPDATE SET`)).
				WillReturnRows(sqlmock.NewRows(append(append([]string{}, recommendationCols...), "inserted")).
					AddRow("rec-1", "act-1", "proj-1", "user-1", "Sunset Kayak", "Paddle", "", "",
						[]byte(`[]`), "{}", "{off-1}", "Great fit! Within budget", 90, 0.9, now, now, tc.inserted))
			mock.ExpectExec(regexp.QuoteMeta(`UPDATE projects SET recommendation_ids = array_append(recommendation_ids, $1)`)).
				WithArgs("rec-1", "proj-1").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			rec, created, err := st.UpsertRecommendation(context.Background(), Recommendation{
				ActivityID: "act-1", ProjectID: "proj-1", UserID: "user-1", Title: "Sunset Kayak",
				OfferingIDs: []string{"off-1"}, Score: 0.9,
			})
			if err != nil {
				t.Fatalf("UpsertRecommendation: %v", err)
			}
			if created != tc.inserted {
				t.Fatalf("created = %v, want %v", created, tc.inserted)
			}
			if rec.ID != "rec-1" || len(rec.OfferingIDs) != 1 {
				t.Fatalf("unexpected recommendation %+v", rec)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestUpsertRecommendationRollsBackOnAppendFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO recommendations`)).
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, recommendationCols...), "inserted")).
			AddRow("rec-1", "act-1", "proj-1", "user-1", "t", "", "", "", []byte(`[]`), "{}", "{}", "", 0, 0.5, now, now, true))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE projects`)).WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	if _, _, err := st.UpsertRecommendation(context.Background(), Recommendation{ActivityID: "act-1", ProjectID: "proj-1", UserID: "user-1"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertRecommendationRequiresIdentity(t *testing.T) {
	st := &Store{}
	if _, _, err := st.UpsertRecommendation(context.Background(), Recommendation{ActivityID: "a"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestOwnershipCheckedUpdates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE recommendations SET itinerary = $3`)).
		WithArgs("rec-1", "intruder", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE recommendations SET offering_ids = $3`)).
		WithArgs("rec-1", "user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = st.UpdateRecommendationItinerary(context.Background(), "rec-1", "intruder", []ItineraryItem{{Duration: 60, Title: "Paddle"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.UpdateRecommendationOfferings(context.Background(), "rec-1", "user-1", []string{"off-1"}); err != nil {
		t.Fatalf("UpdateRecommendationOfferings: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRecommendationChecksOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM recommendations WHERE id = $1 AND user_id = $2`)).
		WithArgs("rec-1", "user-1").
		WillReturnRows(sqlmock.NewRows(recommendationCols).
			AddRow("rec-1", "act-1", "proj-1", "user-1", "Sunset Kayak", "", "", "",
				[]byte(`[{"duration":45,"title":"Paddle","description":"Out"}]`), "{}", "{}", "", 90, 0.8, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM recommendations WHERE id = $1 AND user_id = $2`)).
		WithArgs("rec-1", "other").
		WillReturnRows(sqlmock.NewRows(recommendationCols))

	rec, err := st.GetRecommendation(context.Background(), "rec-1", "user-1")
	if err != nil {
		t.Fatalf("GetRecommendation: %v", err)
	}
	if len(rec.Itinerary) != 1 || rec.Itinerary[0].Duration != 45 {
		t.Fatalf("unexpected itinerary %+v", rec.Itinerary)
	}
	if _, err := st.GetRecommendation(context.Background(), "rec-1", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReconcileProjectRecommendations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE projects p SET recommendation_ids = p.recommendation_ids || missing.ids`)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := st.ReconcileProjectRecommendations(context.Background())
	if err != nil {
		t.Fatalf("ReconcileProjectRecommendations: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 repaired projects, got %d", n)
	}
}
