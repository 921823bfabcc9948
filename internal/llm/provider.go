package llm

import (
	"context"
	"fmt"
	"sort"

	"github.com/mohammad-safakhou/drew/config"
)

// Chat roles understood by OpenAI-compatible endpoints.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a chat transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function invocation requested by the model. Arguments holds raw JSON.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a callable tool with a JSON schema for its parameters.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ChatRequest is a provider-neutral completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature *float64
	MaxTokens   int
}

// ChatResponse carries either assistant text, tool calls, or both.
type ChatResponse struct {
	Content          string
	ToolCalls        []ToolCall
	FinishReason     string
	PromptTokens     int64
	CompletionTokens int64
}

// Provider is the LLM surface the agents and thread summarizer depend on.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}

// NewProvider builds the first configured provider of a supported type.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := cfg.Providers[name]
		switch p.Type {
		case "openai", "":
			return NewOpenAIProvider(p, nil), nil
		}
	}
	return nil, fmt.Errorf("no supported LLM provider configured")
}

// Float returns a pointer for optional numeric request fields.
func Float(v float64) *float64 { return &v }
