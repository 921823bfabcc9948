package threads

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const tokenEncoding = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoder loads the tokenizer from the embedded BPE ranks; nil when that fails.
func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		e, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			log.Printf("[THREADS] load %s encoding, falling back to word estimate: %v", tokenEncoding, err)
			return
		}
		enc = e
	})
	return enc
}

const toolResultPreview = 200

const summarySystemPrompt = "You are a helpful assistant that creates concise, informative summaries of conversations. " +
	"Focus on key topics, decisions, and important information. Maintain context about user preferences and requirements."

// EstimateTokens counts text in cl100k_base tokens. Blank text is zero tokens.
func EstimateTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	if e := encoder(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return approxTokens(text)
}

// approxTokens is about four tokens for every three words.
func approxTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 4 / 3))
}

// MessageTokens counts message content plus tool call arguments and results.
func MessageTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			if len(tc.Arguments) > 0 {
				total += EstimateTokens(fmt.Sprint(tc.Arguments))
			}
			if tc.Result != nil {
				total += EstimateTokens(fmt.Sprint(tc.Result))
			}
		}
	}
	return total
}

// ChatProvider is the completion call the summarizer needs.
type ChatProvider interface {
	Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
}

// Summarizer condenses long conversations once they cross the token threshold.
type Summarizer struct {
	llm       ChatProvider
	model     string
	threshold int
	logger    *log.Logger
}

func NewSummarizer(provider ChatProvider, model string, threshold int, logger *log.Logger) *Summarizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[THREADS] ", log.LstdFlags)
	}
	return &Summarizer{llm: provider, model: model, threshold: threshold, logger: logger}
}

// ShouldSummarize reports whether msgs together reach the threshold.
func (s *Summarizer) ShouldSummarize(msgs []Message) bool {
	return len(msgs) > 0 && MessageTokens(msgs) >= s.threshold
}

// Summarize produces a summary of msgs, which must not be empty. When the model call
// fails the summary text is a plain message count.
func (s *Summarizer) Summarize(ctx context.Context, threadID string, msgs []Message) Summary {
	sum := Summary{
		ID:             uuid.NewString(),
		ThreadID:       threadID,
		MessageCount:   len(msgs),
		TokenCount:     MessageTokens(msgs),
		StartMessageID: msgs[0].ID,
		EndMessageID:   msgs[len(msgs)-1].ID,
		CreatedAt:      time.Now().UTC(),
	}
	prompt := "Please summarize the following conversation:\n\n" + formatMessages(msgs) + `

Provide a comprehensive but concise summary that captures:
1. Main topics discussed
2. User preferences or requirements mentioned
3. Key decisions or conclusions
4. Any pending actions or follow-ups`

	var text string
	if s.llm != nil {
		resp, err := s.llm.Chat(ctx, llm.ChatRequest{
			Model: s.model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: summarySystemPrompt},
				{Role: llm.RoleUser, Content: prompt},
			},
		})
		if err != nil {
			s.logger.Printf("summarize thread %s: %v", threadID, err)
		} else {
			text = strings.TrimSpace(resp.Content)
		}
	}
	if text == "" {
		text = fmt.Sprintf("Conversation with %d messages", len(msgs))
	}
	sum.Text = text
	return sum
}

func formatMessages(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, strings.ToUpper(m.Role)+": "+m.Content)
		for _, tc := range m.ToolCalls {
			lines = append(lines, "  [Tool: "+tc.Name+"]")
			if tc.Result != nil {
				r := fmt.Sprint(tc.Result)
				if len(r) > toolResultPreview {
					r = r[:toolResultPreview]
				}
				lines = append(lines, "  [Result: "+r+"]")
			}
		}
	}
	return joinLines(lines)
}

func joinLines(lines []string) string { return strings.Join(lines, "\n") }
