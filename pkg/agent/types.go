package agent

import "time"

// Profile controls verbosity and result caps per user class.
type Profile string

const (
	ProfileResearcher Profile = "researcher"
	ProfilePatient    Profile = "patient"
	ProfileGeneral    Profile = "general"
)

// Status is the outcome classification of an agent response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPartial Status = "partial"
)

// ChunkStatus classifies a streamed chunk.
type ChunkStatus string

const (
	ChunkProcessing   ChunkStatus = "processing"
	ChunkStreaming    ChunkStatus = "streaming"
	ChunkNewMessage   ChunkStatus = "new_message"
	ChunkPartial      ChunkStatus = "partial"
	ChunkSynthesizing ChunkStatus = "synthesizing"
	ChunkComplete     ChunkStatus = "complete"
	ChunkCancelled    ChunkStatus = "cancelled"
	ChunkError        ChunkStatus = "error"
)

// Context keys recognized in Request.Context.
const (
	ContextTargetAgent = "target_agent"
	ContextUserHistory = "user_history"
	ContextHasImage    = "has_image"
	ContextImageData   = "image_data"
)

// Request is the uniform call into any agent.
type Request struct {
	Query     string         `json:"query"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Profile   Profile        `json:"profile,omitempty"`
	Language  string         `json:"language,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SourceRef points at a knowledge-store record that contributed to an answer.
type SourceRef struct {
	ID         string  `json:"id"`
	Title      string  `json:"title,omitempty"`
	Collection string  `json:"collection,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// PaperRef points at a literature record.
type PaperRef struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Journal string `json:"journal,omitempty"`
	Year    string `json:"year,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Response is the uniform return value from any agent.
type Response struct {
	Answer     string         `json:"answer"`
	Sources    []SourceRef    `json:"sources,omitempty"`
	Papers     []PaperRef     `json:"papers,omitempty"`
	TokensUsed int            `json:"tokens_used"`
	Status     Status         `json:"status"`
	AgentType  string         `json:"agent_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StreamChunk is one element of a streamed agent response. Either Content is
// a partial text with a progress status, or Response carries the final value.
type StreamChunk struct {
	Content   string      `json:"content,omitempty"`
	Status    ChunkStatus `json:"status"`
	AgentType string      `json:"agent_type"`
	Response  *Response   `json:"response,omitempty"`
}

// ExecutionType distinguishes in-process agents from server-fronted ones.
type ExecutionType string

const (
	ExecutionLocal  ExecutionType = "local"
	ExecutionRemote ExecutionType = "remote"
)

// Metadata describes a registered agent.
type Metadata struct {
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Version       string        `json:"version"`
	Capabilities  []string      `json:"capabilities"`
	ExecutionType ExecutionType `json:"execution_type"`
}
