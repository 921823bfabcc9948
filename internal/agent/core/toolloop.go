package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/tools"
)

const (
	defaultToolLoopResponse = "I've added some great activity recommendations to your project!"
	capReachedToolResult    = "Recommendation limit reached; no further actions were taken."
)

const toolLoopInstructions = `You are an expert activity recommendation assistant. Help the user find team activities and add the best ones to their project.

Work step by step:
1. Use search_activities with a query that captures every requirement: location, group size, budget and preferences.
2. Use reflect_on_activity on promising results to check how well they match. A score of 0.5 or higher is a good match.
3. Use create_recommendation for each activity that is a good match, explaining why it fits.

Add at most %d recommendations. When you are done, reply to the user with a short summary of what you added.`

// ToolCallingRecommendationAgent lets the model drive search, reflection and creation
// through tool calls, bounded by an iteration ceiling and a recommendation cap.
type ToolCallingRecommendationAgent struct {
	llm     LLMProvider
	tools   *tools.Toolset
	cfg     config.AgentsConfig
	routing config.LLMRoutingConfig
	logger  *log.Logger
}

func NewToolCallingRecommendationAgent(provider LLMProvider, toolset *tools.Toolset, cfg config.AgentsConfig, routing config.LLMRoutingConfig, logger *log.Logger) *ToolCallingRecommendationAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[RECOMMENDATION] ", log.LstdFlags)
	}
	return &ToolCallingRecommendationAgent{llm: provider, tools: toolset, cfg: cfg.Normalize(), routing: routing, logger: logger}
}

func (a *ToolCallingRecommendationAgent) Name() string { return AgentRecommendation }

func (a *ToolCallingRecommendationAgent) Execute(ctx context.Context, st *State) error {
	if st.Visited(AgentRecommendation) {
		st.route(Terminal)
		return nil
	}
	st.markVisited(AgentRecommendation)
	st.Emit(AgentRecommendation, PhasePlanning, "Analyzing your requirements...")

	session := a.tools.NewSession(st.ToolContext())
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: fmt.Sprintf(toolLoopInstructions, a.cfg.MaxRecommendations)}}
	msgs = append(msgs, st.RecentHistory(a.cfg.HistoryWindow)...)
	model := a.routing.Model("tools")

	var (
		final     string
		finished  bool
		capped    bool
		iteration int
	)
	for iteration = 0; iteration < a.cfg.MaxIterations && !finished && !capped; iteration++ {
		resp, err := a.llm.Chat(ctx, llm.ChatRequest{Model: model, Messages: msgs, Tools: tools.Definitions()})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Printf("run %s: tool loop iteration %d failed: %v", st.RunID, iteration, err)
			finished = true
			break
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		if len(resp.ToolCalls) == 0 {
			final = resp.Content
			finished = true
			break
		}
		for _, call := range resp.ToolCalls {
			// every tool call needs an answer before the next request
			if capped {
				msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: capReachedToolResult})
				continue
			}
			st.Emit(AgentRecommendation, phaseForTool(call.Name), toolStatusMessage(call.Name))
			out := session.Dispatch(ctx, call)
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: out})
			if len(session.Created()) >= a.cfg.MaxRecommendations {
				capped = true
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if !finished {
		a.logger.Printf("run %s: tool loop stopped after %d iterations (cap reached: %v)", st.RunID, iteration, capped)
		closing := append(msgs, llm.Message{Role: llm.RoleUser, Content: "Summarize for me the recommendations you added to my project."})
		resp, err := a.llm.Chat(ctx, llm.ChatRequest{Model: a.routing.Model("chatting"), Messages: closing})
		if err != nil {
			a.logger.Printf("run %s: closing response failed: %v", st.RunID, err)
		} else {
			final = resp.Content
		}
	}

	for k, v := range session.Requirements() {
		st.UserContext[k] = v
	}
	st.Recommendations = session.Created()
	if len(st.Recommendations) > a.cfg.MaxRecommendations {
		st.Recommendations = st.Recommendations[:a.cfg.MaxRecommendations]
	}
	if strings.TrimSpace(final) == "" {
		final = defaultToolLoopResponse
	}
	st.FinalResponse = strings.TrimSpace(final)
	st.Emit(AgentRecommendation, PhaseCompleted, fmt.Sprintf("Added %d recommendations", len(st.Recommendations)))

	if len(st.Recommendations) == 0 {
		st.route(Terminal)
		return nil
	}
	st.ActiveRecommendationID = st.Recommendations[0].ID
	st.route(AgentItinerary)
	return nil
}

func phaseForTool(name string) string {
	switch name {
	case tools.ToolSearchActivities:
		return PhaseSearching
	case tools.ToolReflectOnActivity:
		return PhaseReflecting
	case tools.ToolCreateRecommendation:
		return PhaseAdding
	}
	return PhasePlanning
}

func toolStatusMessage(name string) string {
	switch name {
	case tools.ToolSearchActivities:
		return "Searching for activities..."
	case tools.ToolReflectOnActivity:
		return "Evaluating activity fit..."
	case tools.ToolCreateRecommendation:
		return "Adding recommendation to your project..."
	}
	return "Running " + name + "..."
}
