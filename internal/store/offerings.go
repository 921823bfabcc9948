package store

import (
	"context"
)

// Offering is something an activity can include, such as catering or transport.
type Offering struct {
	ID               string `json:"id"`
	ShortDescription string `json:"shortDescription"`
	LongDescription  string `json:"longDescription"`
}

// SearchOfferings matches term case-insensitively against offering descriptions.
func (s *Store) SearchOfferings(ctx context.Context, term string, limit int) ([]Offering, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, short_description, long_description FROM offerings
WHERE short_description ILIKE $1 OR long_description ILIKE $1
ORDER BY id LIMIT $2`, likePattern(term), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Offering
	for rows.Next() {
		var o Offering
		if err := rows.Scan(&o.ID, &o.ShortDescription, &o.LongDescription); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
