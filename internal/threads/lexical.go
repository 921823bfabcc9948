package threads

import (
	"fmt"

	"github.com/blevesearch/bleve"
)

type lexicalDoc struct {
	Content  string `json:"content"`
	ThreadID string `json:"threadId"`
	Role     string `json:"role"`
}

// lexicalSearch ranks msgs against query with BM25 over an in-memory index built for
// this query. Only messages with a positive score are returned.
func lexicalSearch(query string, msgs []Message, limit int) ([]SearchHit, error) {
	if len(msgs) == 0 || limit <= 0 {
		return []SearchHit{}, nil
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("lexical index: %w", err)
	}
	defer index.Close()

	byID := make(map[string]Message, len(msgs))
	batch := index.NewBatch()
	for _, m := range msgs {
		byID[m.ID] = m
		if err := batch.Index(m.ID, lexicalDoc{Content: m.Content, ThreadID: m.ThreadID, Role: m.Role}); err != nil {
			return nil, fmt.Errorf("lexical index %s: %w", m.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("lexical index: %w", err)
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	out := make([]SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		m, ok := byID[hit.ID]
		if !ok || hit.Score <= 0 {
			continue
		}
		out = append(out, SearchHit{Message: m, Score: hit.Score, Source: SourceLexical})
	}
	return out, nil
}
