package agent

import "context"

// Agent is the uniform capability every registered agent satisfies.
// Local agents run in-process; remote agents dial their server.
type Agent interface {
	// Process turns a request into a complete response.
	Process(ctx context.Context, req *Request) (*Response, error)

	// ProcessStream emits partial chunks as they are produced. The returned
	// channel is closed by the agent after the terminal chunk.
	ProcessStream(ctx context.Context, req *Request) (<-chan StreamChunk, error)

	// Metadata describes the agent for registry listings.
	Metadata() Metadata

	// EstimateContextUsage approximates the token cost of processing text,
	// used for pre-dispatch admission control.
	EstimateContextUsage(text string) int
}
