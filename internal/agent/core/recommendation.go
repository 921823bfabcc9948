package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/tools"
)

const (
	defaultReason      = "This is a popular activity that might interest you"
	clarifyNoResults   = "I couldn't find any activities matching your request. Could you tell me more about what you're looking for, such as the location, group size or budget?"
	clarifyNoGoodMatch = "I found some activities, but none seemed like a strong match for your requirements. Could you share more details about your group, location or budget?"
)

// RecommendationAgent turns a request into persisted recommendations in four phases:
// plan, search, reflect and create.
type RecommendationAgent struct {
	llm     LLMProvider
	tools   *tools.Toolset
	cfg     config.AgentsConfig
	routing config.LLMRoutingConfig
	logger  *log.Logger
}

func NewRecommendationAgent(provider LLMProvider, toolset *tools.Toolset, cfg config.AgentsConfig, routing config.LLMRoutingConfig, logger *log.Logger) *RecommendationAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[RECOMMENDATION] ", log.LstdFlags)
	}
	return &RecommendationAgent{llm: provider, tools: toolset, cfg: cfg.Normalize(), routing: routing, logger: logger}
}

func (a *RecommendationAgent) Name() string { return AgentRecommendation }

func (a *RecommendationAgent) Execute(ctx context.Context, st *State) error {
	if st.Visited(AgentRecommendation) {
		st.route(Terminal)
		return nil
	}
	st.markVisited(AgentRecommendation)
	st.Emit(AgentRecommendation, PhaseStarted, "Analyzing your request...")

	plan := a.plan(ctx, st)
	st.FailedFields = append(st.FailedFields, plan.FailedFields...)
	for k, v := range plan.UserContext {
		st.UserContext[k] = v
	}
	if plan.ProjectName != "" {
		st.ProjectName = plan.ProjectName
	}
	if plan.ProjectDescription != "" {
		st.ProjectDescription = plan.ProjectDescription
	}

	st.Emit(AgentRecommendation, PhaseSearching, fmt.Sprintf("Searching activities for %q", plan.SearchQuery))
	tc := st.ToolContext()
	activities := a.tools.SearchActivities(ctx, tc, plan.SearchQuery, plan.Filters, a.cfg.SearchLimit)
	if len(activities) == 0 {
		a.logger.Printf("run %s: no results for %q, retrying with the raw prompt", st.RunID, plan.SearchQuery)
		activities = a.tools.SearchActivities(ctx, tc, st.Prompt, store.ActivityFilters{}, a.cfg.SearchLimit)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(activities) == 0 {
		st.FinalResponse = a.clarify(ctx, st, "No activities matched the request.", clarifyNoResults)
		st.Emit(AgentRecommendation, PhaseCompleted, "No matching activities found")
		st.route(Terminal)
		return nil
	}

	if len(activities) > a.cfg.ReflectTopK {
		activities = activities[:a.cfg.ReflectTopK]
	}
	st.Emit(AgentRecommendation, PhaseReflecting, fmt.Sprintf("Analyzing %d activities for the best matches...", len(activities)))
	for _, act := range activities {
		if len(st.Recommendations) >= a.cfg.MaxRecommendations {
			break
		}
		r := tools.Reflect(act, st.UserContext)
		if r.Score <= a.cfg.MinScore {
			continue
		}
		rec, err := a.tools.CreateRecommendation(ctx, tc, act, reasonFor(r), r.Score, "", "")
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Printf("run %s: create recommendation for %s: %v", st.RunID, act.ID, err)
			continue
		}
		st.Recommendations = append(st.Recommendations, rec)
	}
	st.Emit(AgentRecommendation, PhaseCompleted, fmt.Sprintf("Created %d recommendations", len(st.Recommendations)))

	if len(st.Recommendations) == 0 {
		st.FinalResponse = a.clarify(ctx, st, "Activities were found but none fit the requirements.", clarifyNoGoodMatch)
		st.route(Terminal)
		return nil
	}

	st.FinalResponse = a.summarize(ctx, st)
	st.ActiveRecommendationID = st.Recommendations[0].ID
	st.route(AgentItinerary)
	return nil
}

func (a *RecommendationAgent) plan(ctx context.Context, st *State) PlanResult {
	st.Emit(AgentRecommendation, PhasePlanning, "Understanding your requirements...")
	resp, err := a.llm.Chat(ctx, llm.ChatRequest{
		Model:    a.routing.Model("planning"),
		Messages: createPlanningMessages(st.RecentHistory(a.cfg.HistoryWindow)),
	})
	if err != nil {
		a.logger.Printf("run %s: planning failed, searching with the raw prompt: %v", st.RunID, err)
		return PlanResult{SearchQuery: st.Prompt, UserContext: map[string]interface{}{}}
	}
	plan := ParsePlan(resp.Content, st.Prompt)
	if len(plan.FailedFields) > 0 {
		a.logger.Printf("run %s: ignored malformed plan fields %v", st.RunID, plan.FailedFields)
	}
	return plan
}

func (a *RecommendationAgent) clarify(ctx context.Context, st *State, situation, fallback string) string {
	return respond(ctx, a.llm, a.routing.Model("chatting"), a.logger, []llm.Message{
		{Role: llm.RoleSystem, Content: "You help people find group activities. " + situation +
			" Ask the user one or two short clarifying questions that would help find better activities."},
		{Role: llm.RoleUser, Content: st.Prompt},
	}, fallback)
}

func (a *RecommendationAgent) summarize(ctx context.Context, st *State) string {
	var lines strings.Builder
	for _, rec := range st.Recommendations {
		fmt.Fprintf(&lines, "- %s (%d hours): %s\n", rec.Title, rec.Duration/60, rec.ReasonToRecommend)
	}
	return respond(ctx, a.llm, a.routing.Model("chatting"), a.logger, []llm.Message{
		{Role: llm.RoleSystem, Content: "You help people find group activities. Write a short, friendly reply " +
			"presenting the recommendations below and why they fit.\n\nRecommendations:\n" + lines.String()},
		{Role: llm.RoleUser, Content: st.Prompt},
	}, templatedSummary(st.Recommendations))
}

func reasonFor(r tools.ReflectionResult) string {
	if len(r.MatchedCriteria) == 0 {
		return defaultReason
	}
	return "Great fit! " + strings.Join(r.MatchedCriteria, ", ")
}

func templatedSummary(recs []store.Recommendation) string {
	titles := make([]string, 0, len(recs))
	for _, r := range recs {
		titles = append(titles, r.Title)
	}
	return fmt.Sprintf("I found %d great activities for you: %s. I've added them to your project.", len(recs), strings.Join(titles, ", "))
}

// respond asks the model for user-facing text and falls back when the call fails or
// returns nothing.
func respond(ctx context.Context, provider LLMProvider, model string, logger *log.Logger, msgs []llm.Message, fallback string) string {
	resp, err := provider.Chat(ctx, llm.ChatRequest{Model: model, Messages: msgs})
	if err != nil {
		logger.Printf("response generation failed: %v", err)
		return fallback
	}
	if text := strings.TrimSpace(resp.Content); text != "" {
		return text
	}
	return fallback
}
