package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/drew/internal/store"
)

const fitThreshold = 0.5

// ReflectionResult is the fit assessment of one activity.
type ReflectionResult struct {
	IsFit           bool     `json:"isFit"`
	MatchedCriteria []string `json:"matchedCriteria"`
	Concerns        []string `json:"concerns"`
	Score           float64  `json:"score"`
}

// ItineraryReflection assesses an itinerary against the user's expectations.
type ItineraryReflection struct {
	IsGoodFit   bool     `json:"isGoodFit"`
	Strengths   []string `json:"strengths"`
	Suggestions []string `json:"suggestions"`
	Confidence  float64  `json:"confidence"`
}

// OfferingsReflection lists what the user needs that offerings should cover.
type OfferingsReflection struct {
	AreSufficient bool     `json:"areSufficient"`
	Needed        []string `json:"needed"`
	Optional      []string `json:"optional"`
	Confidence    float64  `json:"confidence"`
}

// Reflect scores activity against the user's requirements. The score starts at 0.8,
// gains 0.1 per satisfied constraint, loses 0.2 per violated one and is clamped to [0,1].
// Values that are missing or cannot be parsed are skipped.
func Reflect(activity store.Activity, requirements map[string]interface{}) ReflectionResult {
	res := ReflectionResult{MatchedCriteria: []string{}, Concerns: []string{}, Score: 0.8}

	if size, ok := asInt(requirements["groupSize"]); ok && size > 0 {
		upper := activity.MaxParticipants
		if upper <= 0 {
			upper = math.MaxInt32
		}
		if activity.MinParticipants <= size && size <= upper {
			res.MatchedCriteria = append(res.MatchedCriteria, fmt.Sprintf("Suitable for %d participants", size))
			res.Score += 0.1
		} else {
			res.Concerns = append(res.Concerns, fmt.Sprintf("Activity designed for %d-%d people", activity.MinParticipants, activity.MaxParticipants))
			res.Score -= 0.2
		}
	}

	if loc := preferredLocation(requirements); loc != "" {
		if strings.Contains(strings.ToLower(activity.City), strings.ToLower(loc)) {
			res.MatchedCriteria = append(res.MatchedCriteria, "In preferred location")
			res.Score += 0.1
		} else {
			res.Concerns = append(res.Concerns, "Not in preferred location")
			res.Score -= 0.2
		}
	}

	if budget, ok := asFloat(requirements["budget"]); ok && budget > 0 {
		if activity.Price <= budget {
			res.MatchedCriteria = append(res.MatchedCriteria, "Within budget")
			res.Score += 0.1
		} else {
			res.Concerns = append(res.Concerns, fmt.Sprintf("Price $%s exceeds budget", formatPrice(activity.Price)))
			res.Score -= 0.2
		}
	}

	res.Score = clamp(res.Score)
	res.IsFit = res.Score >= fitThreshold
	return res
}

// ReflectOnItinerary compares total duration with preferredDuration (30 minutes of slack)
// and checks the requested pace.
func ReflectOnItinerary(items []store.ItineraryItem, expectations map[string]interface{}) ItineraryReflection {
	res := ItineraryReflection{Strengths: []string{}, Suggestions: []string{}, Confidence: 0.8}
	total := TotalDuration(items)

	if expected, ok := asInt(expectations["preferredDuration"]); ok && expected > 0 {
		diff := total - expected
		if diff < 0 {
			diff = -diff
		}
		if diff <= 30 {
			res.Strengths = append(res.Strengths, "Duration matches expectations")
		} else {
			res.Suggestions = append(res.Suggestions, fmt.Sprintf("Consider adjusting duration (current: %dmin, expected: %dmin)", total, expected))
		}
	}

	if pace, ok := expectations["pace"].(string); ok {
		switch strings.ToLower(strings.TrimSpace(pace)) {
		case "relaxed":
			if total > 180 {
				res.Suggestions = append(res.Suggestions, "Consider breaking into smaller segments for a more relaxed pace")
			}
		case "intensive":
			if total < 120 {
				res.Suggestions = append(res.Suggestions, "Could add more activities for a more intensive experience")
			}
		}
	}

	res.IsGoodFit = len(res.Suggestions) == 0
	return res
}

var offeringNeeds = []struct {
	flag string
	item string
}{
	{"requiresFood", "Refreshments or catering"},
	{"requiresCertificate", "Certificate of completion"},
	{"requiresTransport", "Transportation service"},
	{"requiresMaterials", "Materials and supplies"},
}

// ReflectOnOfferings lists the offerings the user's needs call for.
func ReflectOnOfferings(current []string, needs map[string]interface{}) OfferingsReflection {
	res := OfferingsReflection{Needed: []string{}, Optional: []string{}, Confidence: 0.7}
	for _, n := range offeringNeeds {
		if truthy(needs[n.flag]) {
			res.Needed = append(res.Needed, n.item)
		}
	}
	res.AreSufficient = len(res.Needed) == 0
	return res
}

// TotalDuration sums the item durations in minutes.
func TotalDuration(items []store.ItineraryItem) int {
	total := 0
	for _, it := range items {
		total += it.Duration
	}
	return total
}

func preferredLocation(req map[string]interface{}) string {
	for _, key := range []string{"location", "preferredLocation"} {
		if s, ok := req[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func asInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			if f, ferr := strconv.ParseFloat(strings.TrimSpace(x), 64); ferr == nil {
				return int(f), true
			}
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b
	case float64:
		return x != 0
	case int:
		return x != 0
	}
	return false
}
