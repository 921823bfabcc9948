package core

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/drew/internal/tools"
)

const offeringsPerNeed = 3

// OfferingsAgent attaches offerings that cover what the user said they need.
type OfferingsAgent struct {
	tools  *tools.Toolset
	logger *log.Logger
}

func NewOfferingsAgent(toolset *tools.Toolset, logger *log.Logger) *OfferingsAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[OFFERINGS] ", log.LstdFlags)
	}
	return &OfferingsAgent{tools: toolset, logger: logger}
}

func (a *OfferingsAgent) Name() string { return AgentOfferings }

func (a *OfferingsAgent) Execute(ctx context.Context, st *State) error {
	if st.Visited(AgentOfferings) {
		a.logger.Printf("run %s: offerings already ran, skipping", st.RunID)
		st.route(Terminal)
		return nil
	}
	st.markVisited(AgentOfferings)
	st.Emit(AgentOfferings, PhaseStarted, "Adding relevant offerings...")
	st.Next = Terminal

	if st.ActiveRecommendationID == "" {
		return nil
	}
	tc := st.ToolContext()
	rec, err := a.tools.RetrieveRecommendation(ctx, tc, st.ActiveRecommendationID)
	if err != nil {
		return err
	}

	reflection := tools.ReflectOnOfferings(rec.OfferingIDs, st.UserContext)
	if reflection.AreSufficient {
		st.Emit(AgentOfferings, PhaseCompleted, "Current offerings cover your needs")
		return nil
	}

	ids := append([]string(nil), rec.OfferingIDs...)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	added := 0
	for _, need := range reflection.Needed {
		hits := a.tools.SearchOfferings(ctx, tc, need, offeringsPerNeed)
		if len(hits) == 0 || seen[hits[0].ID] {
			continue
		}
		seen[hits[0].ID] = true
		ids = append(ids, hits[0].ID)
		added++
	}
	if err := a.tools.UpdateRecommendationOfferings(ctx, tc, rec.ID, ids); err != nil {
		return err
	}
	for i := range st.Recommendations {
		if st.Recommendations[i].ID == rec.ID {
			st.Recommendations[i].OfferingIDs = ids
		}
	}
	st.Emit(AgentOfferings, PhaseCompleted, fmt.Sprintf("Added %d offerings", added))
	return nil
}
