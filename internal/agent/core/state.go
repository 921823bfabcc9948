package core

import (
	"time"

	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/tools"
)

// State is the mutable record of a single run. It is created fresh for every run and
// only touched by the agent currently executing.
type State struct {
	RunID     string
	UserID    string
	ProjectID string
	Prompt    string

	History []llm.Message

	UserContext  map[string]interface{}
	FailedFields []string

	Recommendations        []store.Recommendation
	ActiveRecommendationID string

	ProjectName        string
	ProjectDescription string

	FinalResponse string
	Next          string

	agentHistory []string
	events       []ProgressEvent
	onProgress   func(ProgressEvent)
}

func newState(runID, prompt, userID, projectID string, history []llm.Message) *State {
	h := make([]llm.Message, 0, len(history)+1)
	h = append(h, history...)
	h = append(h, llm.Message{Role: llm.RoleUser, Content: prompt})
	return &State{
		RunID:       runID,
		UserID:      userID,
		ProjectID:   projectID,
		Prompt:      prompt,
		History:     h,
		UserContext: map[string]interface{}{},
		Next:        AgentRecommendation,
	}
}

// ToolContext is the identity every tool call of this run acts for.
func (s *State) ToolContext() tools.ToolContext {
	return tools.ToolContext{UserID: s.UserID, ProjectID: s.ProjectID, RunID: s.RunID}
}

// Visited reports whether agent already ran in this run.
func (s *State) Visited(agent string) bool {
	for _, a := range s.agentHistory {
		if a == agent {
			return true
		}
	}
	return false
}

func (s *State) markVisited(agent string) {
	if !s.Visited(agent) {
		s.agentHistory = append(s.agentHistory, agent)
	}
}

// AgentsUsed returns the agents executed so far, in order.
func (s *State) AgentsUsed() []string {
	return append([]string(nil), s.agentHistory...)
}

// Events returns the progress events emitted so far.
func (s *State) Events() []ProgressEvent {
	return append([]ProgressEvent(nil), s.events...)
}

// Emit records a progress event and forwards it to the stream listener, if any.
func (s *State) Emit(agent, status, message string) {
	ev := ProgressEvent{Agent: agent, Status: status, Message: message, Timestamp: time.Now().UTC()}
	s.events = append(s.events, ev)
	if s.onProgress != nil {
		s.onProgress(ev)
	}
}

// RecentHistory returns the last n conversation messages.
func (s *State) RecentHistory(n int) []llm.Message {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// route sets Next to target unless that agent already ran.
func (s *State) route(target string) {
	if target == Terminal || s.Visited(target) {
		s.Next = Terminal
		return
	}
	s.Next = target
}
