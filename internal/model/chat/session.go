package chat

import "time"

// DefaultTitle labels a session that has not completed its first exchange.
const DefaultTitle = "New conversation"

// Session is a persisted conversation scoped to a single document.
type Session struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	Session
	MessageCount int `json:"messageCount"`
}
