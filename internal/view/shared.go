package view

import (
	"fmt"
	"time"

	"dmterm/internal/models"
)

// ago renders a timestamp the way the conversation list shows it.
func ago(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	diff := time.Since(t)
	if diff <= time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		return fmt.Sprintf("%dm", int(diff.Minutes()))
	}
	if diff < 24*time.Hour {
		return fmt.Sprintf("%dh", int(diff.Hours()))
	}
	if diff < 7*24*time.Hour {
		return fmt.Sprintf("%dd", int(diff.Hours()/24))
	}
	if time.Now().Year() != t.Year() {
		return t.Format("Jan 2, 2006")
	}
	return t.Format("Jan 2")
}

// preview renders a conversation's last message for the list, with the
// "You: " prefix on own messages.
func preview(m *models.Message) string {
	if m == nil {
		return ""
	}
	text := m.Content
	if m.Mine {
		text = "You: " + text
	}
	if len([]rune(text)) > 50 {
		text = string([]rune(text)[:47]) + "..."
	}
	return text
}

// reverse flips a newest-first API page into display order, oldest
// first. Returns a copy; pages are merged, never mutated.
func reverse(mm []models.Message) []models.Message {
	out := make([]models.Message, len(mm))
	for i, m := range mm {
		out[len(mm)-1-i] = m
	}
	return out
}

// containsMessage reports whether id is already in the display list, to
// keep a push event from double-appending.
func containsMessage(mm []models.Message, id string) bool {
	for i := len(mm) - 1; i >= 0; i-- {
		if mm[i].ID == id {
			return true
		}
	}
	return false
}
