package threads

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/embedding"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var threadsTracer trace.Tracer = otel.Tracer("drew/internal/threads")

const defaultAgentType = "base"

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Manager owns thread lifecycle, message storage with embeddings, summarization and
// message search.
type Manager struct {
	store      *RedisStore
	embedder   Embedder
	summarizer *Summarizer
	cfg        config.ThreadsConfig
	logger     *log.Logger

	// serializes read-modify-write of thread stats within this process
	mu sync.Mutex
}

func NewManager(st *RedisStore, embedder Embedder, summarizer *Summarizer, cfg config.ThreadsConfig, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[THREADS] ", log.LstdFlags)
	}
	cfg = cfg.Normalize()
	if summarizer == nil {
		summarizer = NewSummarizer(nil, "", cfg.SummarizationThreshold, logger)
	}
	return &Manager{store: st, embedder: embedder, summarizer: summarizer, cfg: cfg, logger: logger}
}

func (m *Manager) CreateThread(ctx context.Context, in CreateThreadInput) (Thread, error) {
	if in.ParentThreadID != "" {
		if _, err := m.store.GetThread(ctx, in.ParentThreadID); err != nil {
			return Thread{}, fmt.Errorf("parent thread %s: %w", in.ParentThreadID, err)
		}
	}
	now := time.Now().UTC()
	t := Thread{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		ParentThreadID: in.ParentThreadID,
		Title:          in.Title,
		AgentType:      in.AgentType,
		IsActive:       true,
		IsSubthread:    in.ParentThreadID != "",
		Metadata:       in.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.AgentType == "" {
		t.AgentType = defaultAgentType
	}
	if t.Metadata == nil {
		t.Metadata = map[string]interface{}{}
	}
	if err := m.store.SaveThread(ctx, t); err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	m.logger.Printf("created thread %s", t.ID)
	return t, nil
}

func (m *Manager) GetThread(ctx context.Context, id string) (Thread, error) {
	return m.store.GetThread(ctx, id)
}

func (m *Manager) UpdateThread(ctx context.Context, id string, upd ThreadUpdate) (Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.store.GetThread(ctx, id)
	if err != nil {
		return Thread{}, err
	}
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.IsActive != nil {
		t.IsActive = *upd.IsActive
	}
	if len(upd.Metadata) > 0 && t.Metadata == nil {
		t.Metadata = map[string]interface{}{}
	}
	for k, v := range upd.Metadata {
		t.Metadata[k] = v
	}
	t.UpdatedAt = time.Now().UTC()
	if err := m.store.SaveThread(ctx, t); err != nil {
		return Thread{}, fmt.Errorf("update thread: %w", err)
	}
	return t, nil
}

// AddMessage appends a message, updates thread statistics and summarizes the thread
// once enough new tokens have accumulated. Embedding and summarization failures are
// logged and do not fail the call.
func (m *Manager) AddMessage(ctx context.Context, threadID string, in NewMessage) (msg Message, err error) {
	ctx, span := threadsTracer.Start(ctx, "threads.add_message", trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if strings.TrimSpace(in.Role) == "" {
		return Message{}, fmt.Errorf("message role required")
	}
	if _, err := m.store.GetThread(ctx, threadID); err != nil {
		return Message{}, err
	}
	msg = Message{
		ID:              uuid.NewString(),
		ThreadID:        threadID,
		ParentMessageID: in.ParentMessageID,
		Role:            in.Role,
		Content:         in.Content,
		ToolCalls:       in.ToolCalls,
		Metadata:        in.Metadata,
		TokenCount:      EstimateTokens(in.Content),
		CreatedAt:       time.Now().UTC(),
	}
	if !in.SkipEmbedding && m.embedder != nil && strings.TrimSpace(in.Content) != "" {
		vec, err := m.embedder.Embed(ctx, in.Content)
		if err != nil {
			m.logger.Printf("thread %s: message embedding failed: %v", threadID, err)
		} else {
			msg.Embedding = vec
		}
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("add message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return Message{}, err
	}
	t.MessageCount++
	t.TotalTokenCount += msg.TokenCount
	t.UpdatedAt = time.Now().UTC()
	if err := m.store.SaveThread(ctx, t); err != nil {
		return Message{}, fmt.Errorf("update thread stats: %w", err)
	}
	if err := m.maybeSummarize(ctx, t); err != nil {
		m.logger.Printf("thread %s: summarization skipped: %v", threadID, err)
	}
	return msg, nil
}

// maybeSummarize summarizes the messages after the last summary when they reach the
// threshold. The caller holds m.mu.
func (m *Manager) maybeSummarize(ctx context.Context, t Thread) error {
	if t.TotalTokenCount < m.cfg.SummarizationThreshold {
		return nil
	}
	summaries, err := m.store.Summaries(ctx, t.ID)
	if err != nil {
		return err
	}
	msgs, err := m.store.Messages(ctx, t.ID, 0, -1)
	if err != nil {
		return err
	}
	if len(summaries) > 0 {
		last := summaries[len(summaries)-1].EndMessageID
		for i, msg := range msgs {
			if msg.ID == last {
				msgs = msgs[i+1:]
				break
			}
		}
	}
	if !m.summarizer.ShouldSummarize(msgs) {
		return nil
	}
	sum := m.summarizer.Summarize(ctx, t.ID, msgs)
	if err := m.store.AddSummary(ctx, sum); err != nil {
		return err
	}
	t.SummaryCount++
	t.UpdatedAt = time.Now().UTC()
	if err := m.store.SaveThread(ctx, t); err != nil {
		return err
	}
	m.logger.Printf("thread %s: summarized %d messages", t.ID, sum.MessageCount)
	return nil
}

// GetMessages pages through the thread's messages in creation order. Limit <= 0 returns
// everything after Skip.
func (m *Manager) GetMessages(ctx context.Context, threadID string, q MessageQuery) ([]Message, error) {
	if _, err := m.store.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	all, err := m.store.Messages(ctx, threadID, 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(all))
	for _, msg := range all {
		if !q.IncludeSubThreadMessages && msg.ParentMessageID != "" {
			continue
		}
		out = append(out, msg)
	}
	if q.Skip > 0 {
		if q.Skip >= len(out) {
			return []Message{}, nil
		}
		out = out[q.Skip:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetRecentMessages returns the last n messages, oldest first. n <= 0 uses the
// configured recent message count.
func (m *Manager) GetRecentMessages(ctx context.Context, threadID string, n int) ([]Message, error) {
	if n <= 0 {
		n = m.cfg.RecentMessageCount
	}
	if _, err := m.store.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	return m.store.Messages(ctx, threadID, int64(-n), -1)
}

func (m *Manager) GetSummaries(ctx context.Context, threadID string) ([]Summary, error) {
	if _, err := m.store.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	return m.store.Summaries(ctx, threadID)
}

// ContextForAgent gathers the summaries and recent messages of a thread.
func (m *Manager) ContextForAgent(ctx context.Context, threadID string, recent int) (AgentContext, error) {
	t, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return AgentContext{}, err
	}
	summaries, err := m.store.Summaries(ctx, threadID)
	if err != nil {
		return AgentContext{}, err
	}
	msgs, err := m.GetRecentMessages(ctx, threadID, recent)
	if err != nil {
		return AgentContext{}, err
	}
	return AgentContext{Thread: t, Summaries: summaries, RecentMessages: msgs}, nil
}

// SearchMessages ranks messages by cosine similarity to the query. When the query
// cannot be embedded and lexical fallback is enabled, BM25 ranking is used instead.
func (m *Manager) SearchMessages(ctx context.Context, q SearchQuery) (hits []SearchHit, err error) {
	ctx, span := threadsTracer.Start(ctx, "threads.search", trace.WithAttributes(
		attribute.String("thread.id", q.ThreadID),
		attribute.String("thread.user_id", q.UserID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("search.hits", len(hits)))
		}
		span.End()
	}()

	if strings.TrimSpace(q.Query) == "" {
		return nil, fmt.Errorf("search query required")
	}
	if q.ThreadID == "" && q.UserID == "" {
		return nil, fmt.Errorf("thread or user required")
	}
	if q.Limit <= 0 {
		q.Limit = m.cfg.SearchLimit
	}
	if q.Threshold <= 0 {
		q.Threshold = m.cfg.SearchThreshold
	}

	candidates, err := m.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	var vec []float32
	if m.embedder == nil {
		err = errors.New("no embedder configured")
	} else {
		vec, err = m.embedder.Embed(ctx, q.Query)
	}
	if err != nil {
		if !m.cfg.LexicalFallback {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		m.logger.Printf("query embedding failed, using lexical search: %v", err)
		telemetry.SearchFallbacks.WithLabelValues("threads").Inc()
		return lexicalSearch(q.Query, candidates, q.Limit)
	}

	byID := make(map[string]Message, len(candidates))
	cands := make([]embedding.Candidate, 0, len(candidates))
	for _, msg := range candidates {
		if len(msg.Embedding) != len(vec) {
			continue
		}
		byID[msg.ID] = msg
		cands = append(cands, embedding.Candidate{ID: msg.ID, Vector: msg.Embedding})
	}
	ranked := embedding.Rank(vec, cands, q.Threshold, q.Limit)
	hits = make([]SearchHit, 0, len(ranked))
	for _, r := range ranked {
		hits = append(hits, SearchHit{Message: byID[r.ID], Score: r.Score, Source: SourceSemantic})
	}
	return hits, nil
}

func (m *Manager) candidates(ctx context.Context, q SearchQuery) ([]Message, error) {
	var threadIDs []string
	if q.ThreadID != "" {
		if _, err := m.store.GetThread(ctx, q.ThreadID); err != nil {
			return nil, err
		}
		threadIDs = []string{q.ThreadID}
	} else {
		ids, err := m.store.UserThreads(ctx, q.UserID)
		if err != nil {
			return nil, err
		}
		sort.Strings(ids)
		threadIDs = ids
	}
	var out []Message
	for _, id := range threadIDs {
		msgs, err := m.store.Messages(ctx, id, 0, -1)
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			if matchesMetadata(msg.Metadata, q.FilterMetadata) {
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

func matchesMetadata(have, want map[string]interface{}) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, v) && fmt.Sprint(got) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// AppendExchange records a user prompt and the assistant's reply, the shape an
// orchestration run adds to a thread.
func (m *Manager) AppendExchange(ctx context.Context, threadID, prompt, reply string, metadata map[string]interface{}) error {
	if _, err := m.AddMessage(ctx, threadID, NewMessage{Role: llm.RoleUser, Content: prompt}); err != nil {
		return err
	}
	_, err := m.AddMessage(ctx, threadID, NewMessage{Role: llm.RoleAssistant, Content: reply, Metadata: metadata})
	return err
}
