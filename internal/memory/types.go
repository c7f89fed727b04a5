package memory

import "time"

// ConversationRecord is one append-only log entry, created exactly once per
// completed assistant turn and never mutated.
type ConversationRecord struct {
	ID                int64
	SessionID         string
	Timestamp         time.Time
	UserMessage       string
	AssistantResponse string
	ContentType       string
	Topics            []string
}

// ScoredRecord pairs a record with its retrieval score. Scores above 1.0 are
// possible when situational boosts apply; they order candidates and are not
// probabilities.
type ScoredRecord struct {
	Record ConversationRecord
	Score  float64
}

// ArtifactRef identifies a retrieved record in a ContextResult.
type ArtifactRef struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Relevance float64   `json:"relevance"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextResult is the assembled, prompt-ready context block.
type ContextResult struct {
	ContextText           string        `json:"contextText"`
	Summary               string        `json:"summary"`
	Artifacts             []ArtifactRef `json:"artifacts"`
	RelevantConversations int           `json:"relevantConversations"`
}

// SessionInfo is the per-session slice of the session index.
type SessionInfo struct {
	LastActivity      time.Time `json:"lastActivity"`
	ConversationCount int       `json:"conversationCount"`
}
