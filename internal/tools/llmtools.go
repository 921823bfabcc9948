package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/store"
)

// Tool names exposed to the tool-calling recommendation loop.
const (
	ToolSearchActivities     = "search_activities"
	ToolReflectOnActivity    = "reflect_on_activity"
	ToolCreateRecommendation = "create_recommendation"
)

// Definitions returns the JSON-schema tool definitions for the recommendation loop.
func Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name: ToolSearchActivities,
			Description: "Search for activities using semantic search based on a natural language query. " +
				"The query should include all requirements: location, group size, budget, preferences. " +
				"Returns matching activities ranked by similarity.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Natural language description of the desired activities"},
					"limit": map[string]interface{}{"type": "integer", "description": "Maximum number of results to return", "default": 5},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolReflectOnActivity,
			Description: "Evaluate how well an activity matches user requirements. Returns a match score and reasons.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"activity_id": map[string]interface{}{"type": "string", "description": "ID of the activity to evaluate"},
					"user_requirements": map[string]interface{}{
						"type":        "object",
						"description": "User requirements such as groupSize, location and budget",
					},
				},
				"required": []string{"activity_id", "user_requirements"},
			},
		},
		{
			Name:        ToolCreateRecommendation,
			Description: "Create a recommendation for an activity and add it to the current project.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"activity_id":            map[string]interface{}{"type": "string", "description": "ID of the activity to recommend"},
					"reason":                 map[string]interface{}{"type": "string", "description": "Why this activity is recommended"},
					"score":                  map[string]interface{}{"type": "number", "description": "Match score between 0 and 1"},
					"customized_title":       map[string]interface{}{"type": "string", "description": "Title tailored to the user's use case"},
					"customized_description": map[string]interface{}{"type": "string", "description": "Description of how the activity meets the user's needs"},
				},
				"required": []string{"activity_id", "reason", "score"},
			},
		},
	}
}

// Session executes tool calls for one run. It remembers activities returned by searches
// so later calls can refer to them by id, and records the recommendations it creates.
type Session struct {
	toolset    *Toolset
	tc         ToolContext
	activities map[string]store.Activity
	created    []store.Recommendation
	// requirements merges the user_requirements of every reflection, later calls winning.
	requirements map[string]interface{}
}

func (t *Toolset) NewSession(tc ToolContext) *Session {
	return &Session{toolset: t, tc: tc, activities: map[string]store.Activity{}, requirements: map[string]interface{}{}}
}

// Requirements returns what the model stated about the user across its reflections.
func (s *Session) Requirements() map[string]interface{} {
	return s.requirements
}

// Created returns the recommendations created so far, in order, one per id.
func (s *Session) Created() []store.Recommendation {
	return s.created
}

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type reflectArgs struct {
	ActivityID       string                 `json:"activity_id"`
	UserRequirements map[string]interface{} `json:"user_requirements"`
}

type createArgs struct {
	ActivityID            string  `json:"activity_id"`
	Reason                string  `json:"reason"`
	Score                 float64 `json:"score"`
	CustomizedTitle       string  `json:"customized_title"`
	CustomizedDescription string  `json:"customized_description"`
}

// Dispatch runs one tool call and returns the text handed back to the model. Errors are
// reported in the text so the loop can continue.
func (s *Session) Dispatch(ctx context.Context, call llm.ToolCall) string {
	out, err := s.dispatch(ctx, call)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", call.Name, err)
	}
	return out
}

func (s *Session) dispatch(ctx context.Context, call llm.ToolCall) (string, error) {
	args := call.Arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	switch call.Name {
	case ToolSearchActivities:
		var a searchArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if a.Limit <= 0 {
			a.Limit = 5
		}
		results := s.toolset.SearchActivities(ctx, s.tc, a.Query, store.ActivityFilters{}, a.Limit)
		for _, act := range results {
			s.activities[act.ID] = act
		}
		return FormatSearchResults(a.Query, results), nil
	case ToolReflectOnActivity:
		var a reflectArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		for k, v := range a.UserRequirements {
			s.requirements[k] = v
		}
		act, err := s.activity(ctx, a.ActivityID)
		if err != nil {
			return "", err
		}
		return FormatReflection(act, Reflect(act, a.UserRequirements)), nil
	case ToolCreateRecommendation:
		var a createArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		act, err := s.activity(ctx, a.ActivityID)
		if err != nil {
			return "", err
		}
		rec, err := s.toolset.CreateRecommendation(ctx, s.tc, act, a.Reason, a.Score, a.CustomizedTitle, a.CustomizedDescription)
		if err != nil {
			return "", err
		}
		s.remember(rec)
		return fmt.Sprintf("✓ Created recommendation: %s (ID: %s)", rec.Title, rec.ID), nil
	}
	return fmt.Sprintf("Tool %s not found", call.Name), nil
}

func (s *Session) remember(rec store.Recommendation) {
	for i, existing := range s.created {
		if existing.ID == rec.ID {
			s.created[i] = rec
			return
		}
	}
	s.created = append(s.created, rec)
}

func (s *Session) activity(ctx context.Context, id string) (store.Activity, error) {
	if id == "" {
		return store.Activity{}, fmt.Errorf("activity_id required")
	}
	if act, ok := s.activities[id]; ok {
		return act, nil
	}
	act, err := s.toolset.GetActivity(ctx, s.tc, id)
	if err != nil {
		return store.Activity{}, fmt.Errorf("activity with ID %s not found: %w", id, err)
	}
	s.activities[id] = act
	return act, nil
}

// FormatSearchResults renders activities as the numbered list the model reads.
func FormatSearchResults(query string, activities []store.Activity) string {
	if len(activities) == 0 {
		return fmt.Sprintf("No activities found for query: %s. Try broadening your search criteria.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d activities:\n\n", len(activities))
	for i, a := range activities {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, a.Title)
		fmt.Fprintf(&b, "   ID: %s\n", a.ID)
		fmt.Fprintf(&b, "   Description: %s\n", orNA(a.ShortDescription))
		fmt.Fprintf(&b, "   Location: %s, %s\n", orNA(a.City), orNA(a.State))
		fmt.Fprintf(&b, "   Price: $%s\n", formatPrice(a.Price))
		fmt.Fprintf(&b, "   Group Size: %d-%d people\n", a.MinParticipants, a.MaxParticipants)
		fmt.Fprintf(&b, "   Duration: %d hours\n", a.PreferredDuration/60)
		if a.Score != 0 {
			fmt.Fprintf(&b, "   Match Score: %.2f\n", a.Score)
		}
	}
	return b.String()
}

// FormatReflection renders a reflection for the model.
func FormatReflection(a store.Activity, r ReflectionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Activity: %s\n", a.Title)
	fmt.Fprintf(&b, "Match Score: %.2f\n", r.Score)
	fmt.Fprintf(&b, "Is Good Fit: %t\n", r.IsFit)
	if len(r.MatchedCriteria) > 0 {
		b.WriteString("\n✓ Strengths:\n")
		for _, c := range r.MatchedCriteria {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}
	if len(r.Concerns) > 0 {
		b.WriteString("\n⚠ Concerns:\n")
		for _, c := range r.Concerns {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
