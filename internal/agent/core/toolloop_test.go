package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

func newToolLoopOrchestrator(provider LLMProvider, search *fakeSearcher, st *memoryStore, maxIterations int) *Orchestrator {
	cfg := testAgentsConfig()
	if maxIterations > 0 {
		cfg.MaxIterations = maxIterations
	}
	toolset := newTestToolset(search, st)
	return NewOrchestratorWithAgents(cfg, quietLogger,
		NewToolCallingRecommendationAgent(provider, toolset, cfg, testRouting(), quietLogger),
		NewItineraryAgent(provider, toolset, testRouting(), quietLogger),
		NewOfferingsAgent(toolset, quietLogger),
	)
}

func TestToolLoopStopsAtRecommendationCap(t *testing.T) {
	acts := austinActivities()
	acts = append(acts, acts[0])
	acts[4].ID = "act-5"
	provider := &scriptedLLM{reply: func(n int, req llm.ChatRequest) (llm.ChatResponse, error) {
		if len(req.Tools) == 0 {
			return llm.ChatResponse{Content: "All set: four activities added."}, nil
		}
		if n == 1 {
			return llm.ChatResponse{ToolCalls: []llm.ToolCall{
				toolCall("c0", tools.ToolSearchActivities, `{"query": "team activities in Austin", "limit": 5}`),
			}}, nil
		}
		// one create per turn, plus a second call in the fifth turn that must not run
		calls := []llm.ToolCall{toolCall(fmt.Sprintf("c%d", n), tools.ToolCreateRecommendation,
			fmt.Sprintf(`{"activity_id": "%s", "reason": "fits", "score": 0.9}`, acts[n-2].ID))}
		if n == 5 {
			calls = append(calls, toolCall("extra", tools.ToolCreateRecommendation, `{"activity_id": "act-5", "reason": "x", "score": 0.9}`))
		}
		return llm.ChatResponse{ToolCalls: calls}, nil
	}}
	st := newMemoryStore(acts...)
	orch := newToolLoopOrchestrator(provider, &fakeSearcher{results: acts}, st, 0)

	res := orch.Run(context.Background(), "Team outing in Austin", "user-1", "project-1")

	require.Len(t, res.Recommendations, 4)
	assert.Equal(t, "All set: four activities added.", res.FinalResponse)
	assert.Len(t, st.recs, 4)
	assert.Equal(t, []string{AgentRecommendation, AgentItinerary, AgentOfferings}, res.AgentsUsed)

	reqs := provider.requests()
	// search, four creates, one closing call
	require.Len(t, reqs, 6)
	closing := reqs[5]
	assert.Empty(t, closing.Tools)
	var skipped bool
	for _, m := range closing.Messages {
		if m.Role == llm.RoleTool && m.ToolCallID == "extra" {
			skipped = m.Content == capReachedToolResult
		}
	}
	assert.True(t, skipped, "extra tool call should be answered without running")
}

func TestToolLoopEmptyFinalTextUsesDefault(t *testing.T) {
	provider := &scriptedLLM{reply: func(n int, req llm.ChatRequest) (llm.ChatResponse, error) {
		return llm.ChatResponse{Content: "  "}, nil
	}}
	orch := newToolLoopOrchestrator(provider, &fakeSearcher{}, newMemoryStore(), 0)

	res := orch.Run(context.Background(), "anything", "user-1", "project-1")

	assert.Equal(t, defaultToolLoopResponse, res.FinalResponse)
	assert.Empty(t, res.Recommendations)
	assert.Equal(t, []string{AgentRecommendation}, res.AgentsUsed)
}

func TestToolLoopIterationCeiling(t *testing.T) {
	acts := austinActivities()
	provider := &scriptedLLM{reply: func(n int, req llm.ChatRequest) (llm.ChatResponse, error) {
		if len(req.Tools) == 0 {
			return llm.ChatResponse{}, nil
		}
		return llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall(fmt.Sprintf("s%d", n), tools.ToolSearchActivities, `{"query": "anything"}`),
		}}, nil
	}}
	orch := newToolLoopOrchestrator(provider, &fakeSearcher{results: acts}, newMemoryStore(acts...), 2)

	res := orch.Run(context.Background(), "anything", "user-1", "project-1")

	assert.Len(t, provider.requests(), 3)
	assert.Equal(t, defaultToolLoopResponse, res.FinalResponse)
	assert.Empty(t, res.Recommendations)
}

func TestToolLoopReportsToolErrorsToModel(t *testing.T) {
	provider := &scriptedLLM{reply: func(n int, req llm.ChatRequest) (llm.ChatResponse, error) {
		if n == 1 {
			return llm.ChatResponse{ToolCalls: []llm.ToolCall{
				toolCall("c1", tools.ToolCreateRecommendation, `{"activity_id": "missing", "reason": "x", "score": 1}`),
				toolCall("c2", "book_flight", `{}`),
			}}, nil
		}
		return llm.ChatResponse{Content: "Nothing suitable yet."}, nil
	}}
	orch := newToolLoopOrchestrator(provider, &fakeSearcher{}, newMemoryStore(), 0)

	res := orch.Run(context.Background(), "anything", "user-1", "project-1")
	assert.Equal(t, "Nothing suitable yet.", res.FinalResponse)

	second := provider.requests()[1]
	var toolReplies []string
	for _, m := range second.Messages {
		if m.Role == llm.RoleTool {
			toolReplies = append(toolReplies, m.Content)
		}
	}
	require.Len(t, toolReplies, 2)
	assert.Contains(t, toolReplies[0], "Error executing create_recommendation")
	assert.Equal(t, "Tool book_flight not found", toolReplies[1])
}

func TestToolLoopProgressPhases(t *testing.T) {
	acts := austinActivities()
	provider := &scriptedLLM{reply: func(n int, req llm.ChatRequest) (llm.ChatResponse, error) {
		switch n {
		case 1:
			return llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("a", tools.ToolSearchActivities, `{"query": "q"}`)}}, nil
		case 2:
			return llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("b", tools.ToolReflectOnActivity,
				`{"activity_id": "act-1", "user_requirements": {"groupSize": 10}}`)}}, nil
		case 3:
			return llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("c", tools.ToolCreateRecommendation,
				`{"activity_id": "act-1", "reason": "fits", "score": 0.9}`)}}, nil
		}
		return llm.ChatResponse{Content: "Added one."}, nil
	}}
	orch := newToolLoopOrchestrator(provider, &fakeSearcher{results: acts}, newMemoryStore(acts...), 0)

	res := orch.Run(context.Background(), "anything", "user-1", "project-1")

	var phases []string
	for _, ev := range res.ProgressEvents {
		if ev.Agent == AgentRecommendation {
			phases = append(phases, ev.Status)
		}
	}
	assert.Equal(t, []string{PhasePlanning, PhaseSearching, PhaseReflecting, PhaseAdding, PhaseCompleted}, phases)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "act-1", res.Recommendations[0].ActivityID)
}

func TestToolLoopPassesRequirementsDownstream(t *testing.T) {
	acts := austinActivities()
	provider := &scriptedLLM{reply: func(n int, req llm.ChatRequest) (llm.ChatResponse, error) {
		switch n {
		case 1:
			return llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("a", tools.ToolSearchActivities, `{"query": "q"}`)}}, nil
		case 2:
			return llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("b", tools.ToolReflectOnActivity,
				`{"activity_id": "act-1", "user_requirements": {"groupSize": 10, "requiresFood": true}}`)}}, nil
		case 3:
			return llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("c", tools.ToolCreateRecommendation,
				`{"activity_id": "act-1", "reason": "fits", "score": 0.9}`)}}, nil
		}
		return llm.ChatResponse{Content: "Added one."}, nil
	}}
	st := newMemoryStore(acts...)
	st.offerings = []store.Offering{{ID: "off-1", ShortDescription: "Refreshments or catering package"}}
	orch := newToolLoopOrchestrator(provider, &fakeSearcher{results: acts}, st, 0)

	res := orch.Run(context.Background(), "lunch outing for ten", "user-1", "project-1")

	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, []string{"off-1"}, res.Recommendations[0].OfferingIDs)
	stored, err := st.GetRecommendation(context.Background(), res.Recommendations[0].ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"off-1"}, stored.OfferingIDs)
}
