package search

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/drew/internal/store"
)

// BuildSearchableText renders the text an activity is embedded from. Field order is
// fixed so the same activity always produces the same text.
func BuildSearchableText(a store.Activity) string {
	var parts []string
	add := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			parts = append(parts, label+": "+v)
		}
	}

	add("Title", a.Title)
	add("Description", a.ShortDescription)
	add("Details", a.LongDescription)
	switch {
	case a.City != "" && a.State != "":
		add("Location", a.City+", "+a.State)
	case a.Location != "":
		add("Location", a.Location)
	}
	add("Category", a.Category)
	add("Host", a.HostName)
	add("Host title", a.HostTitle)
	add("Includes", joinNonEmpty(a.OfferingTexts))
	add("Requirements", joinNonEmpty(a.PrerequisiteNames))
	switch {
	case a.MinParticipants > 0 && a.MaxParticipants > 0:
		parts = append(parts, fmt.Sprintf("Participants: %d-%d people", a.MinParticipants, a.MaxParticipants))
	case a.MaxParticipants > 0:
		parts = append(parts, fmt.Sprintf("Up to %d participants", a.MaxParticipants))
	}
	if a.PreferredDuration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %.1f hours", float64(a.PreferredDuration)/60))
	}
	return strings.Join(parts, " | ")
}

func joinNonEmpty(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, ", ")
}
