package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(config.LLMProvider{
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Models: map[string]config.LLMModel{
			"planner": {APIName: "gpt-4o", Temperature: 0.2},
		},
	}, nil)
}

func TestChatSendsToolsAndParsesToolCalls(t *testing.T) {
	var got map[string]interface{}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {"content": null, "tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "search_activities", "arguments": "{\"query\":\"kayak\"}"}}
				]},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`))
	})

	resp, err := p.Chat(context.Background(), ChatRequest{
		Model: "planner",
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "reflect_on_activity", Arguments: "{}"}}},
			{Role: RoleTool, ToolCallID: "call_0", Content: "ok"},
		},
		Tools: []ToolDefinition{{Name: "search_activities", Description: "search", Parameters: map[string]interface{}{"type": "object"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", got["model"])
	assert.InDelta(t, 0.2, got["temperature"], 1e-9)
	tools := got["tools"].([]interface{})
	require.Len(t, tools, 1)
	assert.Equal(t, "function", tools[0].(map[string]interface{})["type"])
	msgs := got["messages"].([]interface{})
	assistant := msgs[1].(map[string]interface{})
	calls := assistant["tool_calls"].([]interface{})
	assert.Equal(t, "reflect_on_activity", calls[0].(map[string]interface{})["function"].(map[string]interface{})["name"])
	assert.Equal(t, "call_0", msgs[2].(map[string]interface{})["tool_call_id"])

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search_activities", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"kayak"}`, resp.ToolCalls[0].Arguments)
	assert.Empty(t, resp.Content)
	assert.Equal(t, int64(12), resp.PromptTokens)
}

func TestChatNonOKStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	})
	_, err := p.Chat(context.Background(), ChatRequest{Model: "gpt-4o-mini", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestEmbedOrdersByIndex(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"data": [
			{"index": 1, "embedding": [0, 1]},
			{"index": 0, "embedding": [1, 0]}
		]}`))
	})
	vecs, err := p.Embed(context.Background(), "text-embedding-3-small", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := NewOpenAIProvider(config.LLMProvider{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := p.Chat(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
}

func TestNewProviderRequiresSupportedType(t *testing.T) {
	_, err := NewProvider(config.LLMConfig{Providers: map[string]config.LLMProvider{"x": {Type: "anthropic"}}})
	require.Error(t, err)
	p, err := NewProvider(config.LLMConfig{Providers: map[string]config.LLMProvider{"openai": {Type: "openai"}}})
	require.NoError(t, err)
	require.NotNil(t, p)
}
