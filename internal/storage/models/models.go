package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultMaxHistory = 10
)

type ConversationTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID            string             `json:"session_id"`
	CreatedAt     time.Time          `json:"created_at"`
	LastActivity  time.Time          `json:"last_activity"`
	AccountID     string             `json:"account_id,omitempty"`
	CustomerName  string             `json:"customer_name,omitempty"`
	BillingPeriod string             `json:"billing_period,omitempty"`
	CurrentTopic  string             `json:"current_topic,omitempty"`
	LastQuery     string             `json:"last_query,omitempty"`
	LastResponse  string             `json:"last_response,omitempty"`
	History       []ConversationTurn `json:"conversation_history"`
}

// SessionUpdate carries new field values. Empty strings leave the stored
// value untouched.
type SessionUpdate struct {
	AccountID     string
	CustomerName  string
	BillingPeriod string
	CurrentTopic  string
	LastQuery     string
	LastResponse  string
}

func (u SessionUpdate) IsEmpty() bool {
	return u == SessionUpdate{}
}

// ContextSummary renders the known entities as one line for prompt
// injection, or "" when nothing is known.
func (s *Session) ContextSummary() string {
	if s == nil {
		return ""
	}
	var parts []string
	if s.AccountID != "" {
		parts = append(parts, "Account: "+s.AccountID)
	}
	if s.CustomerName != "" {
		parts = append(parts, "Customer: "+s.CustomerName)
	}
	if s.BillingPeriod != "" {
		parts = append(parts, "Discussing: "+s.BillingPeriod)
	}
	if s.CurrentTopic != "" {
		parts = append(parts, "Topic: "+s.CurrentTopic)
	}
	if len(parts) == 0 {
		return ""
	}
	return "Session Context: " + strings.Join(parts, " | ")
}

// ConversationForPrompt formats the last n turns, truncating long turns.
func (s *Session) ConversationForPrompt(n int) string {
	if s == nil || len(s.History) == 0 || n <= 0 {
		return ""
	}
	recent := s.History
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}

	lines := []string{"Recent conversation:"}
	for _, t := range recent {
		prefix := "Assistant"
		if t.Role == RoleUser {
			prefix = "User"
		}
		content := t.Content
		if r := []rune(content); len(r) > 200 {
			content = string(r[:200]) + "..."
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", prefix, content))
	}
	return strings.Join(lines, "\n")
}

type SessionStats struct {
	TotalSessions int `json:"total_sessions"`
	TotalTurns    int `json:"total_turns"`
}

type QueryRecord struct {
	ID        string
	SessionID string
	QueryText string
	Intent    string
	Response  string
	Approved  *bool
	TopScore  float64
	LatencyMS int64
	CreatedAt time.Time
	Sources   []QuerySource
}

type QuerySource struct {
	ID      int
	QueryID string
	DocID   string
	ChunkID int
	Quote   string
}
