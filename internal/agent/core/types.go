package core

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/store"
)

// Agent names double as routing targets and as the entries of Result.AgentsUsed.
const (
	AgentRecommendation = "recommendation"
	AgentItinerary      = "itinerary_builder"
	AgentOfferings      = "offerings"

	// Terminal ends the run.
	Terminal = ""
)

// Progress phases reported by the agents.
const (
	PhaseStarted    = "started"
	PhasePlanning   = "planning"
	PhaseSearching  = "searching"
	PhaseReflecting = "reflecting"
	PhaseAdding     = "adding"
	PhaseCompleted  = "completed"
)

// Agent is one node of the orchestration graph. Execute mutates the run state and sets
// state.Next to the following agent, or Terminal.
type Agent interface {
	Name() string
	Execute(ctx context.Context, state *State) error
}

// LLMProvider is the completion surface the agents need.
type LLMProvider interface {
	Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
}

// ProgressEvent is emitted as an agent moves through its phases.
type ProgressEvent struct {
	Agent     string    `json:"agent"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ProjectMetadata is the project name and description extracted while planning.
type ProjectMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Result is what a run hands back to its caller.
type Result struct {
	RunID           string                 `json:"runId"`
	FinalResponse   string                 `json:"message"`
	Recommendations []store.Recommendation `json:"recommendations"`
	AgentsUsed      []string               `json:"agentsUsed"`
	ProgressEvents  []ProgressEvent        `json:"agentStates"`
	ProjectMetadata ProjectMetadata        `json:"projectMetadata"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// Event types produced by Stream.
const (
	EventAgentState = "agent_state"
	EventComplete   = "complete"
	EventError      = "error"
)

// Event is one element of a streamed run. A complete event always carries the final
// message and the recommendation count, zero included.
type Event struct {
	Type                string         `json:"type"`
	State               *ProgressEvent `json:"state,omitempty"`
	Message             string         `json:"message,omitempty"`
	RecommendationCount int            `json:"recommendationCount"`
	Error               string         `json:"error,omitempty"`
	Result              *Result        `json:"-"`
}
