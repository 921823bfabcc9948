package threads

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = log.New(io.Discard, "", 0)

type topicEmbedder struct {
	fail bool
}

func (e *topicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedding service down")
	}
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "pizza"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(t, "hiking"):
		return []float32{0, 1, 0}, nil
	}
	return []float32{0, 0, 1}, nil
}

type cannedChat struct {
	text string
	err  error
	reqs []llm.ChatRequest
}

func (c *cannedChat) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return llm.ChatResponse{}, c.err
	}
	return llm.ChatResponse{Content: c.text}, nil
}

func newTestManager(t *testing.T, embedder Embedder, summarizer *Summarizer, cfg config.ThreadsConfig) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(NewRedisStore(client, "test:"), embedder, summarizer, cfg, quietLogger), mr
}

func TestCreateAndGetThread(t *testing.T) {
	m, mr := newTestManager(t, nil, nil, config.ThreadsConfig{})
	ctx := context.Background()

	parent, err := m.CreateThread(ctx, CreateThreadInput{UserID: "u1", Title: "Offsite"})
	require.NoError(t, err)
	assert.Equal(t, "base", parent.AgentType)
	assert.True(t, parent.IsActive)
	assert.False(t, parent.IsSubthread)

	child, err := m.CreateThread(ctx, CreateThreadInput{UserID: "u1", ParentThreadID: parent.ID, AgentType: "event_discovery"})
	require.NoError(t, err)
	assert.True(t, child.IsSubthread)

	got, err := m.GetThread(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Offsite", got.Title)

	members, err := mr.SMembers("test:thread:" + parent.ID + ":children")
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, members)

	_, err = m.GetThread(ctx, "missing")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = m.CreateThread(ctx, CreateThreadInput{ParentThreadID: "missing"})
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestUpdateThreadMergesMetadata(t *testing.T) {
	m, _ := newTestManager(t, nil, nil, config.ThreadsConfig{})
	ctx := context.Background()
	th, err := m.CreateThread(ctx, CreateThreadInput{Metadata: map[string]interface{}{"a": "1"}})
	require.NoError(t, err)

	title := "Renamed"
	inactive := false
	got, err := m.UpdateThread(ctx, th.ID, ThreadUpdate{Title: &title, IsActive: &inactive, Metadata: map[string]interface{}{"b": "2"}})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.False(t, got.IsActive)
	assert.Equal(t, map[string]interface{}{"a": "1", "b": "2"}, got.Metadata)
	assert.False(t, got.UpdatedAt.Before(th.UpdatedAt))

	_, err = m.UpdateThread(ctx, "missing", ThreadUpdate{Title: &title})
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestAddMessageUpdatesStats(t *testing.T) {
	m, _ := newTestManager(t, &topicEmbedder{}, nil, config.ThreadsConfig{})
	ctx := context.Background()
	th, err := m.CreateThread(ctx, CreateThreadInput{UserID: "u1"})
	require.NoError(t, err)

	msg, err := m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleUser, Content: "we want pizza tonight"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, msg.Embedding)
	assert.Equal(t, EstimateTokens("we want pizza tonight"), msg.TokenCount)

	_, err = m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleAssistant, Content: "noted", SkipEmbedding: true})
	require.NoError(t, err)

	got, err := m.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, EstimateTokens("we want pizza tonight")+EstimateTokens("noted"), got.TotalTokenCount)

	_, err = m.AddMessage(ctx, "missing", NewMessage{Role: llm.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, ErrThreadNotFound)
	_, err = m.AddMessage(ctx, th.ID, NewMessage{Content: "no role"})
	assert.Error(t, err)
}

func TestAddMessageSurvivesEmbeddingFailure(t *testing.T) {
	m, _ := newTestManager(t, &topicEmbedder{fail: true}, nil, config.ThreadsConfig{})
	ctx := context.Background()
	th, err := m.CreateThread(ctx, CreateThreadInput{})
	require.NoError(t, err)

	msg, err := m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleUser, Content: "hello"})
	require.NoError(t, err)
	assert.Nil(t, msg.Embedding)
}

func TestGetMessagesPagingAndSubThreadFilter(t *testing.T) {
	m, _ := newTestManager(t, nil, nil, config.ThreadsConfig{})
	ctx := context.Background()
	th, err := m.CreateThread(ctx, CreateThreadInput{})
	require.NoError(t, err)

	first, err := m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleUser, Content: "one"})
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleAssistant, Content: "sub", ParentMessageID: first.ID})
	require.NoError(t, err)
	for _, c := range []string{"two", "three"} {
		_, err = m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleUser, Content: c})
		require.NoError(t, err)
	}

	all, err := m.GetMessages(ctx, th.ID, MessageQuery{IncludeSubThreadMessages: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "sub", "two", "three"}, contents(all))

	top, err := m.GetMessages(ctx, th.ID, MessageQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, contents(top))

	page, err := m.GetMessages(ctx, th.ID, MessageQuery{Skip: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, contents(page))

	past, err := m.GetMessages(ctx, th.ID, MessageQuery{Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, past)

	recent, err := m.GetRecentMessages(ctx, th.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, contents(recent))
}

func contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestSummarizationTriggersAtThreshold(t *testing.T) {
	chat := &cannedChat{text: "They planned a pizza night."}
	cfg := config.ThreadsConfig{SummarizationThreshold: 10}
	m, _ := newTestManager(t, nil, NewSummarizer(chat, "summary-model", 10, quietLogger), cfg)
	ctx := context.Background()
	th, err := m.CreateThread(ctx, CreateThreadInput{})
	require.NoError(t, err)

	_, err = m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleUser, Content: "short note"})
	require.NoError(t, err)
	sums, err := m.GetSummaries(ctx, th.ID)
	require.NoError(t, err)
	assert.Empty(t, sums)

	last, err := m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleAssistant, Content: "a much longer reply that pushes the conversation over the limit"})
	require.NoError(t, err)

	sums, err = m.GetSummaries(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, "They planned a pizza night.", sums[0].Text)
	assert.Equal(t, 2, sums[0].MessageCount)
	assert.Equal(t, last.ID, sums[0].EndMessageID)
	require.Len(t, chat.reqs, 1)
	assert.Equal(t, "summary-model", chat.reqs[0].Model)
	assert.Contains(t, chat.reqs[0].Messages[1].Content, "USER: short note")

	got, err := m.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SummaryCount)

	// the next short message alone stays under the threshold
	_, err = m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleUser, Content: "ok"})
	require.NoError(t, err)
	sums, err = m.GetSummaries(ctx, th.ID)
	require.NoError(t, err)
	assert.Len(t, sums, 1)
}

func TestSummarizerFallbackText(t *testing.T) {
	s := NewSummarizer(&cannedChat{err: errors.New("rate limited")}, "m", 1, quietLogger)
	sum := s.Summarize(context.Background(), "t1", []Message{{ID: "a", Content: "x"}, {ID: "b", Content: "y"}, {ID: "c", Content: "z"}})
	assert.Equal(t, "Conversation with 3 messages", sum.Text)
	assert.Equal(t, "a", sum.StartMessageID)
	assert.Equal(t, "c", sum.EndMessageID)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("   "))
	assert.Equal(t, 2, EstimateTokens("hello world"))
	assert.Equal(t, 6, EstimateTokens("tiktoken is great!"))
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, approxTokens(""))
	assert.Equal(t, 2, approxTokens("hello"))
	assert.Equal(t, 4, approxTokens("one two three"))
}

func TestSearchMessagesSemantic(t *testing.T) {
	m, _ := newTestManager(t, &topicEmbedder{}, nil, config.ThreadsConfig{})
	ctx := context.Background()
	a, err := m.CreateThread(ctx, CreateThreadInput{UserID: "u1"})
	require.NoError(t, err)
	b, err := m.CreateThread(ctx, CreateThreadInput{UserID: "u1"})
	require.NoError(t, err)
	other, err := m.CreateThread(ctx, CreateThreadInput{UserID: "u2"})
	require.NoError(t, err)

	_, err = m.AddMessage(ctx, a.ID, NewMessage{Role: llm.RoleUser, Content: "pizza party", Metadata: map[string]interface{}{"channel": "web"}})
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, b.ID, NewMessage{Role: llm.RoleUser, Content: "more pizza please", Metadata: map[string]interface{}{"channel": "slack"}})
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, a.ID, NewMessage{Role: llm.RoleUser, Content: "hiking trip"})
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, other.ID, NewMessage{Role: llm.RoleUser, Content: "pizza for u2"})
	require.NoError(t, err)

	hits, err := m.SearchMessages(ctx, SearchQuery{UserID: "u1", Query: "pizza"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, SourceSemantic, h.Source)
		assert.InDelta(t, 1.0, h.Score, 1e-9)
		assert.Contains(t, h.Message.Content, "pizza")
	}

	hits, err = m.SearchMessages(ctx, SearchQuery{UserID: "u1", Query: "pizza", FilterMetadata: map[string]interface{}{"channel": "slack"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "more pizza please", hits[0].Message.Content)

	hits, err = m.SearchMessages(ctx, SearchQuery{ThreadID: a.ID, Query: "hiking"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hiking trip", hits[0].Message.Content)

	_, err = m.SearchMessages(ctx, SearchQuery{Query: "pizza"})
	assert.Error(t, err)
}

func TestSearchMessagesLexicalFallback(t *testing.T) {
	embedder := &topicEmbedder{}
	m, _ := newTestManager(t, embedder, nil, config.ThreadsConfig{LexicalFallback: true})
	ctx := context.Background()
	th, err := m.CreateThread(ctx, CreateThreadInput{UserID: "u1"})
	require.NoError(t, err)
	for _, c := range []string{"kayak rental near the river", "board games evening", "river rafting adventure"} {
		_, err = m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleUser, Content: c})
		require.NoError(t, err)
	}

	embedder.fail = true
	hits, err := m.SearchMessages(ctx, SearchQuery{UserID: "u1", Query: "river", Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, SourceLexical, h.Source)
		assert.Contains(t, h.Message.Content, "river")
	}
}

func TestSearchMessagesWithoutFallbackFails(t *testing.T) {
	m, _ := newTestManager(t, &topicEmbedder{fail: true}, nil, config.ThreadsConfig{LexicalFallback: false})
	ctx := context.Background()
	th, err := m.CreateThread(ctx, CreateThreadInput{UserID: "u1"})
	require.NoError(t, err)

	_, err = m.SearchMessages(ctx, SearchQuery{ThreadID: th.ID, Query: "anything"})
	assert.Error(t, err)
}

func TestContextForAgent(t *testing.T) {
	chat := &cannedChat{text: "Earlier they chose Austin."}
	m, _ := newTestManager(t, nil, NewSummarizer(chat, "m", 6, quietLogger), config.ThreadsConfig{SummarizationThreshold: 6})
	ctx := context.Background()
	th, err := m.CreateThread(ctx, CreateThreadInput{})
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleUser, Content: "we are twelve people based in Austin Texas"})
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, th.ID, NewMessage{Role: llm.RoleAssistant, Content: "great"})
	require.NoError(t, err)

	actx, err := m.ContextForAgent(ctx, th.ID, 1)
	require.NoError(t, err)
	require.Len(t, actx.Summaries, 1)
	require.Len(t, actx.RecentMessages, 1)
	assert.Equal(t, "great", actx.RecentMessages[0].Content)

	history := actx.History()
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleSystem, history[0].Role)
	assert.Contains(t, history[0].Content, "Earlier they chose Austin.")
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "great"}, history[1])

	text := actx.Text()
	assert.Contains(t, text, "Previous conversation summary:")
	assert.Contains(t, text, "ASSISTANT: great")

	_, err = m.ContextForAgent(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrThreadNotFound)
}
