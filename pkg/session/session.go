package session

import "time"

// ConversationEntry is one exchange inside a session. Entries are
// append-only and never mutated.
type ConversationEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	AgentType     string    `json:"agent_type"`
	UserInput     string    `json:"user_input"`
	AgentResponse string    `json:"agent_response"`
}

// Session is one conversation context. Idle expiry purges History while
// the session itself survives until the absolute lifetime runs out.
type Session struct {
	ID           string              `json:"session_id"`
	UserID       string              `json:"user_id,omitempty"`
	RoomID       string              `json:"room_id,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
	LastAgent    string              `json:"last_agent,omitempty"`
	History      []ConversationEntry `json:"history,omitempty"`
}

// RoomInfo summarizes one room for the room-listing interface.
type RoomInfo struct {
	RoomID       string    `json:"room_id"`
	SessionID    string    `json:"session_id"`
	LastMessage  string    `json:"last_message,omitempty"`
	LastAgent    string    `json:"last_agent,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}
