package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultBaseURL = "https://api.openai.com/v1"

var llmTracer trace.Tracer = otel.Tracer("drew/internal/llm")

// OpenAIProvider talks to an OpenAI-compatible HTTP API.
type OpenAIProvider struct {
	config config.LLMProvider
	client *http.Client
	logger *log.Logger
}

// NewOpenAIProvider creates a provider; a nil logger gets the default "[LLM] " logger.
func NewOpenAIProvider(cfg config.LLMProvider, logger *log.Logger) *OpenAIProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	return &OpenAIProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type chatReq struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content   *string        `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) apiKey() (string, error) {
	key := p.config.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}
	return key, nil
}

func (p *OpenAIProvider) baseURL() string {
	if p.config.BaseURL == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(p.config.BaseURL, "/")
}

// resolve maps a routing name onto the configured API model and its defaults.
func (p *OpenAIProvider) resolve(model string) (string, *float64, int) {
	m, ok := p.config.Models[model]
	if !ok {
		return model, nil, 0
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}
	if apiModel == "" {
		apiModel = model
	}
	var temp *float64
	if m.Temperature > 0 {
		temp = Float(m.Temperature)
	}
	return apiModel, temp, m.MaxTokens
}

// Chat sends a chat completion request, including tool definitions when present.
func (p *OpenAIProvider) Chat(ctx context.Context, in ChatRequest) (ChatResponse, error) {
	ctx, span := llmTracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("llm.model", in.Model),
		attribute.Int("llm.messages", len(in.Messages)),
		attribute.Int("llm.tools", len(in.Tools)),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.LLMLatency.WithLabelValues("chat", in.Model).Observe(time.Since(start).Seconds())
	}()

	out, err := p.chat(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Printf("chat %s failed: %v", in.Model, err)
		return ChatResponse{}, err
	}
	span.SetAttributes(
		attribute.Int64("llm.prompt_tokens", out.PromptTokens),
		attribute.Int64("llm.completion_tokens", out.CompletionTokens),
	)
	return out, nil
}

func (p *OpenAIProvider) chat(ctx context.Context, in ChatRequest) (ChatResponse, error) {
	key, err := p.apiKey()
	if err != nil {
		return ChatResponse{}, err
	}
	apiModel, temp, maxTokens := p.resolve(in.Model)
	if in.Temperature != nil {
		temp = in.Temperature
	}
	if in.MaxTokens > 0 {
		maxTokens = in.MaxTokens
	}

	req := chatReq{Model: apiModel, Temperature: temp, MaxTokens: maxTokens}
	for _, m := range in.Messages {
		content := m.Content
		wm := wireMessage{Role: m.Role, Content: &content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		req.Messages = append(req.Messages, wm)
	}
	for _, t := range in.Tools {
		req.Tools = append(req.Tools, wireTool{Type: "function", Function: t})
	}

	var out chatResp
	if err := p.post(ctx, key, "/chat/completions", req, &out); err != nil {
		return ChatResponse{}, err
	}
	if len(out.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("no choices in response")
	}
	choice := out.Choices[0]
	res := ChatResponse{
		FinishReason:     choice.FinishReason,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}
	if choice.Message.Content != nil {
		res.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		res.ToolCalls = append(res.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return res, nil
}

// Embed returns one vector per input, ordered like the input.
func (p *OpenAIProvider) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	ctx, span := llmTracer.Start(ctx, "llm.embed", trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.inputs", len(input)),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.LLMLatency.WithLabelValues("embed", model).Observe(time.Since(start).Seconds())
	}()

	key, err := p.apiKey()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	apiModel, _, _ := p.resolve(model)
	body := map[string]interface{}{"model": apiModel, "input": input}
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := p.post(ctx, key, "/embeddings", body, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	vecs := make([][]float32, len(input))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (p *OpenAIProvider) post(ctx context.Context, key, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("OpenAI status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
