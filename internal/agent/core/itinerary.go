package core

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/tools"
)

// ItineraryAgent reviews the active recommendation's itinerary and asks the model for a
// better one when it does not suit the user.
type ItineraryAgent struct {
	llm     LLMProvider
	tools   *tools.Toolset
	routing config.LLMRoutingConfig
	logger  *log.Logger
}

func NewItineraryAgent(provider LLMProvider, toolset *tools.Toolset, routing config.LLMRoutingConfig, logger *log.Logger) *ItineraryAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[ITINERARY] ", log.LstdFlags)
	}
	return &ItineraryAgent{llm: provider, tools: toolset, routing: routing, logger: logger}
}

func (a *ItineraryAgent) Name() string { return AgentItinerary }

func (a *ItineraryAgent) Execute(ctx context.Context, st *State) error {
	if st.Visited(AgentItinerary) {
		a.logger.Printf("run %s: itinerary builder already ran, skipping", st.RunID)
		st.route(Terminal)
		return nil
	}
	st.markVisited(AgentItinerary)
	st.Emit(AgentItinerary, PhaseStarted, "Customizing the activity itinerary...")

	if st.ActiveRecommendationID == "" {
		st.route(Terminal)
		return nil
	}
	tc := st.ToolContext()
	rec, err := a.tools.RetrieveRecommendation(ctx, tc, st.ActiveRecommendationID)
	if err != nil {
		return err
	}

	reflection := tools.ReflectOnItinerary(rec.Itinerary, st.UserContext)
	if reflection.IsGoodFit || len(reflection.Suggestions) == 0 {
		st.Emit(AgentItinerary, PhaseCompleted, "Itinerary already fits your plans")
		st.route(AgentOfferings)
		return nil
	}

	current, _ := json.Marshal(rec.Itinerary)
	prefs, _ := json.Marshal(st.UserContext)
	resp, err := a.llm.Chat(ctx, llm.ChatRequest{
		Model: a.routing.Model("planning"),
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You adjust activity itineraries. Reply with only a JSON array of objects " +
				`with keys "duration" (minutes, integer), "title" and "description".`},
			{Role: llm.RoleUser, Content: "Activity: " + rec.Title +
				"\nCurrent itinerary: " + string(current) +
				"\nUser preferences: " + string(prefs) +
				"\nSuggested changes:\n- " + strings.Join(reflection.Suggestions, "\n- ")},
		},
	})
	if err != nil {
		a.logger.Printf("run %s: itinerary generation failed: %v", st.RunID, err)
		st.Emit(AgentItinerary, PhaseCompleted, "Kept the original itinerary")
		st.route(AgentOfferings)
		return nil
	}
	items, err := ParseItinerary(resp.Content)
	if err != nil {
		a.logger.Printf("run %s: %v", st.RunID, err)
		st.Emit(AgentItinerary, PhaseCompleted, "Kept the original itinerary")
		st.route(AgentOfferings)
		return nil
	}
	if err := a.tools.UpdateRecommendationItinerary(ctx, tc, rec.ID, items); err != nil {
		a.logger.Printf("run %s: update itinerary for %s: %v", st.RunID, rec.ID, err)
		st.Emit(AgentItinerary, PhaseCompleted, "Kept the original itinerary")
		st.route(AgentOfferings)
		return nil
	}
	for i := range st.Recommendations {
		if st.Recommendations[i].ID == rec.ID {
			st.Recommendations[i].Itinerary = items
		}
	}
	st.Emit(AgentItinerary, PhaseCompleted, "Updated the itinerary to match your preferences")
	st.route(AgentOfferings)
	return nil
}
