// Package domain defines the core records persisted by the conversation engine.
package domain

import "time"

// Role identifies the author of a conversation event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Session represents one conversation session. EndTime, DurationSeconds and
// Summary are written together by the post-session summarizer, or not at all.
type Session struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	// StartTime is kept verbatim as persisted. Rows written by this engine
	// use RFC 3339; rows written by other tooling may lack an offset marker
	// and are interpreted as UTC by the summarizer.
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time,omitempty"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Summarized reports whether the post-session summarizer has run.
func (s *Session) Summarized() bool {
	return s.EndTime != "" && s.DurationSeconds != nil && s.Summary != ""
}

// Event is the durable record of one conversation turn. Events are appended
// once and never mutated; retrieval order is insertion order.
type Event struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
