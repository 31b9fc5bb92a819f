package model

import "time"

// ChatResponse is one SSE frame of a streaming turn. Content always carries
// the full running buffer for MessageID, so the client overwrites rather
// than appends; out-of-order delivery can never duplicate text.
type ChatResponse struct {
	SessionID string        `json:"session_id"`
	MessageID string        `json:"message_id"`
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	Parts     []MessagePart `json:"parts,omitempty"`
	First     bool          `json:"first,omitempty"`
	Phase     string        `json:"phase,omitempty"` // user, thinking, streaming, tool, final, error
	Timestamp int64         `json:"timestamp"`
}

type SessionResponse struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	Mode         string    `json:"mode,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type ProfileResponse struct {
	Profile     *UserProfile `json:"profile"`
	TopInterest string       `json:"top_interest,omitempty"`
}
