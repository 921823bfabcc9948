package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/tools"
)

var quietLogger = log.New(io.Discard, "", 0)

// scriptedLLM answers each request with the reply function and records every request.
type scriptedLLM struct {
	mu    sync.Mutex
	reply func(n int, req llm.ChatRequest) (llm.ChatResponse, error)
	calls []llm.ChatRequest
}

func (s *scriptedLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	n := len(s.calls)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}
	return s.reply(n, req)
}

func (s *scriptedLLM) requests() []llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ChatRequest(nil), s.calls...)
}

func systemPrompt(req llm.ChatRequest) string {
	if len(req.Messages) > 0 && req.Messages[0].Role == llm.RoleSystem {
		return req.Messages[0].Content
	}
	return ""
}

type fakeSearcher struct {
	mu      sync.Mutex
	results []store.Activity
	queries []string
	filters []store.ActivityFilters
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int, flt store.ActivityFilters) ([]store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.filters = append(f.filters, flt)
	if len(f.results) > limit {
		return f.results[:limit], nil
	}
	return f.results, nil
}

// memoryStore is an in-memory tools.Store keyed the same way the database is.
type memoryStore struct {
	mu         sync.Mutex
	activities map[string]store.Activity
	recs       map[string]store.Recommendation
	byKey      map[string]string
	offerings  []store.Offering
	nextID     int
}

func newMemoryStore(activities ...store.Activity) *memoryStore {
	m := &memoryStore{
		activities: map[string]store.Activity{},
		recs:       map[string]store.Recommendation{},
		byKey:      map[string]string{},
	}
	for _, a := range activities {
		m.activities[a.ID] = a
	}
	return m
}

func (m *memoryStore) GetActivity(ctx context.Context, id string) (store.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	if !ok {
		return store.Activity{}, store.ErrNotFound
	}
	return a, nil
}

func (m *memoryStore) UpsertRecommendation(ctx context.Context, rec store.Recommendation) (store.Recommendation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.ProjectID + "|" + rec.ActivityID + "|" + rec.UserID
	if id, ok := m.byKey[key]; ok {
		rec.ID = id
		m.recs[id] = rec
		return rec, false, nil
	}
	m.nextID++
	rec.ID = fmt.Sprintf("rec-%d", m.nextID)
	m.byKey[key] = rec.ID
	m.recs[rec.ID] = rec
	return rec, true, nil
}

func (m *memoryStore) GetRecommendation(ctx context.Context, id, userID string) (store.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok || rec.UserID != userID {
		return store.Recommendation{}, store.ErrNotFound
	}
	return rec, nil
}

func (m *memoryStore) UpdateRecommendationItinerary(ctx context.Context, id, userID string, items []store.ItineraryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok || rec.UserID != userID {
		return store.ErrNotFound
	}
	rec.Itinerary = items
	m.recs[id] = rec
	return nil
}

func (m *memoryStore) UpdateRecommendationOfferings(ctx context.Context, id, userID string, offeringIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok || rec.UserID != userID {
		return store.ErrNotFound
	}
	rec.OfferingIDs = offeringIDs
	m.recs[id] = rec
	return nil
}

func (m *memoryStore) SearchOfferings(ctx context.Context, term string, limit int) ([]store.Offering, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Offering
	for _, o := range m.offerings {
		text := strings.ToLower(o.ShortDescription + " " + o.LongDescription)
		if strings.Contains(text, strings.ToLower(term)) {
			out = append(out, o)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func austinActivities() []store.Activity {
	mk := func(id, title string) store.Activity {
		return store.Activity{
			ID:                id,
			Title:             title,
			ShortDescription:  title + " for teams",
			City:              "Austin",
			State:             "TX",
			Price:             60,
			MinParticipants:   5,
			MaxParticipants:   30,
			PreferredDuration: 120,
			Itinerary:         []store.ItineraryItem{{Duration: 120, Title: "Main session"}},
		}
	}
	return []store.Activity{
		mk("act-1", "BBQ Cooking Class"),
		mk("act-2", "Escape Room"),
		mk("act-3", "Kayak Tour"),
		mk("act-4", "Trivia Night"),
	}
}

func testAgentsConfig() config.AgentsConfig {
	return config.AgentsConfig{}.Normalize()
}

func testRouting() config.LLMRoutingConfig {
	return config.LLMRoutingConfig{Planning: "planner", Chatting: "chatter", Tools: "tooler"}
}

func newTestToolset(search *fakeSearcher, st *memoryStore) *tools.Toolset {
	return tools.NewToolset(search, st, quietLogger)
}

func newPhasedOrchestrator(provider LLMProvider, toolset *tools.Toolset) *Orchestrator {
	cfg := testAgentsConfig()
	return NewOrchestratorWithAgents(cfg, quietLogger,
		NewRecommendationAgent(provider, toolset, cfg, testRouting(), quietLogger),
		NewItineraryAgent(provider, toolset, testRouting(), quietLogger),
		NewOfferingsAgent(toolset, quietLogger),
	)
}
