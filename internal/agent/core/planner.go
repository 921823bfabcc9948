package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/store"
)

// PlanResult is what the planning call extracted from the user's request.
type PlanResult struct {
	ProjectName        string
	ProjectDescription string
	SearchQuery        string
	Filters            store.ActivityFilters
	UserContext        map[string]interface{}
	// FailedFields names every plan field that was present but could not be parsed.
	FailedFields []string
}

const planningInstructions = `You are an activity planning assistant. Analyze the conversation and extract what the user is looking for.

Respond using exactly these lines:
PROJECT_NAME: <short name for this activity project>
PROJECT_DESCRIPTION: <one sentence describing the project>
SEARCH_QUERY: <natural language search query for activities>
FILTERS: <json object with optional keys location, minParticipants, maxParticipants, priceMax, category>
CONTEXT: <json object with optional keys groupSize, budget, occasion, preferences, location, preferredDuration, pace>

You may also add LOCATION: <city, state>, PARTICIPANTS: <min-max>, PRICE: <min-max> and CATEGORY: <category> lines.
Omit any line you cannot fill.`

func createPlanningMessages(history []llm.Message) []llm.Message {
	var b strings.Builder
	b.WriteString("Conversation:\n")
	for _, m := range history {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: planningInstructions},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// ParsePlan reads the line-prefixed planning response. Each field is parsed on its own;
// a malformed field is skipped and recorded in FailedFields. The search query falls back
// to prompt.
func ParsePlan(content, prompt string) PlanResult {
	plan := PlanResult{UserContext: map[string]interface{}{}}
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(strings.Trim(key, "*- ")))
		value = strings.TrimSpace(strings.Trim(value, "* "))
		if value == "" {
			continue
		}
		switch key {
		case "PROJECT_NAME":
			plan.ProjectName = value
		case "PROJECT_DESCRIPTION":
			plan.ProjectDescription = value
		case "SEARCH_QUERY":
			plan.SearchQuery = strings.Trim(value, `"`)
		case "FILTERS":
			plan.parseFilters(value)
		case "CONTEXT":
			var ctx map[string]interface{}
			if err := json.Unmarshal([]byte(extractFirstJSON(value)), &ctx); err != nil {
				plan.fail("CONTEXT")
				continue
			}
			for k, v := range ctx {
				if v != nil {
					plan.UserContext[k] = v
				}
			}
		case "LOCATION":
			plan.Filters.City, plan.Filters.State = splitLocation(value)
		case "PARTICIPANTS":
			lo, hi, err := parseRange(value)
			if err != nil {
				plan.fail("PARTICIPANTS")
				continue
			}
			plan.Filters.MinGroup, plan.Filters.MaxGroup = int(lo), int(hi)
		case "PRICE":
			lo, hi, err := parseRange(value)
			if err != nil {
				plan.fail("PRICE")
				continue
			}
			if lo != hi {
				plan.Filters.MinPrice = lo
			}
			plan.Filters.MaxPrice = hi
		case "CATEGORY":
			plan.Filters.Category = value
		}
	}
	if plan.SearchQuery == "" {
		plan.SearchQuery = prompt
	}
	if _, ok := plan.UserContext["location"]; !ok && plan.Filters.City != "" {
		plan.UserContext["location"] = plan.Filters.City
	}
	return plan
}

func (p *PlanResult) fail(field string) {
	p.FailedFields = append(p.FailedFields, field)
}

func (p *PlanResult) parseFilters(value string) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(extractFirstJSON(value)), &raw); err != nil {
		p.fail("FILTERS")
		return
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		switch k {
		case "location":
			s, ok := v.(string)
			if !ok {
				p.fail("FILTERS.location")
				continue
			}
			p.Filters.City, p.Filters.State = splitLocation(s)
		case "city", "state", "category":
			s, ok := v.(string)
			if !ok {
				p.fail("FILTERS." + k)
				continue
			}
			switch k {
			case "city":
				p.Filters.City = s
			case "state":
				p.Filters.State = s
			default:
				p.Filters.Category = s
			}
		case "minParticipants", "maxParticipants", "maxDuration":
			n, ok := toFloat(v)
			if !ok {
				p.fail("FILTERS." + k)
				continue
			}
			switch k {
			case "minParticipants":
				p.Filters.MinGroup = int(n)
			case "maxParticipants":
				p.Filters.MaxGroup = int(n)
			default:
				p.Filters.MaxDuration = int(n)
			}
		case "priceMin", "priceMax":
			n, ok := toFloat(v)
			if !ok {
				p.fail("FILTERS." + k)
				continue
			}
			if k == "priceMin" {
				p.Filters.MinPrice = n
			} else {
				p.Filters.MaxPrice = n
			}
		}
	}
}

func splitLocation(s string) (city, state string) {
	city, state, _ = strings.Cut(s, ",")
	return strings.TrimSpace(city), strings.TrimSpace(state)
}

// parseRange accepts "a-b" or a single number; "$" and "," are ignored.
func parseRange(s string) (float64, float64, error) {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	lo, hi, found := strings.Cut(s, "-")
	a, err := strconv.ParseFloat(lo, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse range %q: %w", s, err)
	}
	if !found {
		return a, a, nil
	}
	b, err := strconv.ParseFloat(hi, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse range %q: %w", s, err)
	}
	if b < a {
		a, b = b, a
	}
	return a, b, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// ParseItinerary reads the itinerary the model produced. Markdown code fences are
// stripped, and both a bare array and an {"itinerary": [...]} object are accepted.
func ParseItinerary(content string) ([]store.ItineraryItem, error) {
	body := stripFences(content)
	if i := strings.Index(body, "["); i >= 0 {
		if j := strings.LastIndex(body, "]"); j > i {
			body = body[i : j+1]
		}
	}
	var raw []map[string]interface{}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		var wrapped struct {
			Itinerary []map[string]interface{} `json:"itinerary"`
		}
		if err2 := json.Unmarshal([]byte(extractFirstJSON(stripFences(content))), &wrapped); err2 != nil || len(wrapped.Itinerary) == 0 {
			return nil, fmt.Errorf("parse itinerary: %w", err)
		}
		raw = wrapped.Itinerary
	}
	items := make([]store.ItineraryItem, 0, len(raw))
	for _, r := range raw {
		item := store.ItineraryItem{}
		if d, ok := toFloat(r["duration"]); ok {
			item.Duration = int(d)
		}
		item.Title, _ = r["title"].(string)
		item.Description, _ = r["description"].(string)
		item.Image, _ = r["image"].(string)
		if item.Title == "" && item.Description == "" {
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("parse itinerary: no items")
	}
	return items, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// extractFirstJSON returns the first balanced {...} block in s, or s itself.
func extractFirstJSON(s string) string {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
