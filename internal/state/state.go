package state

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Turn roles. The store persists what the user said and what the model
// answered; tool traffic stays in the in-memory session only.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one persisted exchange entry.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Conversation is the persisted record of a chat with the agent.
type Conversation struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TitleFor derives a conversation title from the first user message. Long
// messages are cut at 40 characters; blank ones fall back to a timestamp.
func TitleFor(message string, at time.Time) string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "Chat " + at.Format("2006-01-02 15:04")
	}
	if utf8.RuneCountInString(trimmed) <= 40 {
		return trimmed
	}
	runes := []rune(trimmed)
	return string(runes[:40])
}
