package llms

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StreamChunk is one element of a streamed generation.
type StreamChunk struct {
	Text   string
	Tokens int
	Done   bool
	Error  error
}

// Provider is the uniform interface over LLM generation endpoints.
type Provider interface {
	// Generate performs a non-streaming request. Returns the generated text
	// and the total tokens consumed.
	Generate(ctx context.Context, messages []Message) (string, int, error)

	// GenerateJSON performs a request constrained to emit a single JSON
	// object. Used by the intent classifier.
	GenerateJSON(ctx context.Context, messages []Message) (string, int, error)

	// GenerateStreaming emits text deltas as they arrive. The channel is
	// closed after the Done chunk.
	GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	ModelName() string

	Close() error
}
