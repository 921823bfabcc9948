package threads

import (
	"errors"
	"time"

	"github.com/mohammad-safakhou/drew/internal/llm"
)

// ErrThreadNotFound is returned when a thread id does not resolve.
var ErrThreadNotFound = errors.New("thread not found")

// Thread is a conversation, optionally nested under a parent thread.
type Thread struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"userId,omitempty"`
	ParentThreadID  string                 `json:"parentThreadId,omitempty"`
	Title           string                 `json:"title,omitempty"`
	AgentType       string                 `json:"agentType"`
	IsActive        bool                   `json:"isActive"`
	IsSubthread     bool                   `json:"isSubthread"`
	MessageCount    int                    `json:"messageCount"`
	TotalTokenCount int                    `json:"totalTokenCount"`
	SummaryCount    int                    `json:"summaryCount"`
	Metadata        map[string]interface{} `json:"metadata"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// ToolCall records a tool invocation made while producing a message.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    interface{}            `json:"result,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Message is one entry in a thread. Messages with a ParentMessageID were produced by a
// sub-agent on behalf of that parent.
type Message struct {
	ID              string                 `json:"id"`
	ThreadID        string                 `json:"threadId"`
	ParentMessageID string                 `json:"parentMessageId,omitempty"`
	Role            string                 `json:"role"`
	Content         string                 `json:"content"`
	ToolCalls       []ToolCall             `json:"toolCalls,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Embedding       []float32              `json:"embedding,omitempty"`
	TokenCount      int                    `json:"tokenCount"`
	CreatedAt       time.Time              `json:"createdAt"`
}

// Summary condenses a contiguous run of messages.
type Summary struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"threadId"`
	Text           string    `json:"summaryText"`
	MessageCount   int       `json:"messageCount"`
	TokenCount     int       `json:"tokenCount"`
	StartMessageID string    `json:"startMessageId"`
	EndMessageID   string    `json:"endMessageId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CreateThreadInput describes a new thread.
type CreateThreadInput struct {
	UserID         string                 `json:"userId"`
	AgentType      string                 `json:"agentType"`
	ParentThreadID string                 `json:"parentThreadId"`
	Title          string                 `json:"title"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// ThreadUpdate lists the mutable thread fields; nil fields are left alone and metadata
// keys are merged.
type ThreadUpdate struct {
	Title    *string                `json:"title"`
	IsActive *bool                  `json:"isActive"`
	Metadata map[string]interface{} `json:"metadata"`
}

// NewMessage is the input to AddMessage.
type NewMessage struct {
	Role            string                 `json:"role"`
	Content         string                 `json:"content"`
	ParentMessageID string                 `json:"parentMessageId"`
	ToolCalls       []ToolCall             `json:"toolCalls"`
	Metadata        map[string]interface{} `json:"metadata"`
	SkipEmbedding   bool                   `json:"skipEmbedding"`
}

// MessageQuery pages through a thread's messages in creation order.
type MessageQuery struct {
	Skip  int
	Limit int
	// IncludeSubThreadMessages keeps messages that carry a ParentMessageID.
	IncludeSubThreadMessages bool
}

// SearchQuery finds messages similar to Query. ThreadID narrows the search to one
// thread; otherwise every thread of UserID is searched.
type SearchQuery struct {
	Query          string                 `json:"query"`
	UserID         string                 `json:"userId"`
	ThreadID       string                 `json:"threadId"`
	Limit          int                    `json:"limit"`
	Threshold      float64                `json:"similarityThreshold"`
	FilterMetadata map[string]interface{} `json:"filterMetadata"`
}

// Search hit sources.
const (
	SourceSemantic = "semantic"
	SourceLexical  = "lexical"
)

// SearchHit is a matched message and its score.
type SearchHit struct {
	Message Message `json:"message"`
	Score   float64 `json:"similarityScore"`
	Source  string  `json:"source"`
}

// AgentContext is what an agent needs to resume a conversation.
type AgentContext struct {
	Thread         Thread    `json:"thread"`
	Summaries      []Summary `json:"summaries"`
	RecentMessages []Message `json:"recentMessages"`
}

// History renders the context as chat messages, summaries first.
func (c AgentContext) History() []llm.Message {
	out := make([]llm.Message, 0, len(c.RecentMessages)+1)
	if len(c.Summaries) > 0 {
		text := "Previous conversation summary:"
		for _, s := range c.Summaries {
			text += "\n- " + s.Text
		}
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: text})
	}
	for _, m := range c.RecentMessages {
		switch m.Role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem:
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

// Text renders the context as a single block, the form a prompt template embeds.
func (c AgentContext) Text() string {
	var parts []string
	if len(c.Summaries) > 0 {
		parts = append(parts, "Previous conversation summary:")
		for _, s := range c.Summaries {
			parts = append(parts, "- "+s.Text)
		}
		parts = append(parts, "")
	}
	if len(c.RecentMessages) > 0 {
		parts = append(parts, "Recent messages:", formatMessages(c.RecentMessages))
	}
	return joinLines(parts)
}
