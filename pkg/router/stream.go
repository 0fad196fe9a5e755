package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/renalworks/nefro/pkg/agent"
)

// ProcessStream emits routing progress as it happens: a pre-dispatch notice
// naming the targets, each agent's answer as a partial chunk the moment it
// completes, a synthesizing notice, then the final complete chunk. A single
// target that streams itself is forwarded verbatim.
func (r *Router) ProcessStream(ctx context.Context, req *agent.Request) (<-chan agent.StreamChunk, error) {
	cls := r.classifier.Classify(ctx, req)
	r.logger.Info("stream routed",
		"session_id", req.SessionID, "targets", cls.AgentTags, "method", cls.Method)

	if len(cls.AgentTags) == 1 {
		return r.streamSingle(ctx, req, cls.AgentTags[0])
	}
	return r.streamMulti(ctx, req, cls.AgentTags), nil
}

func (r *Router) streamSingle(ctx context.Context, req *agent.Request, tag string) (<-chan agent.StreamChunk, error) {
	target, err := r.registry.CreateAgent(tag)
	if err != nil {
		return errorStream(tag, err), nil
	}

	inner, err := target.ProcessStream(ctx, req)
	if err != nil {
		r.logger.Error("agent stream failed to start", "agent", tag, "error", err)
		return errorStream(tag, err), nil
	}

	out := make(chan agent.StreamChunk, 16)
	go func() {
		defer close(out)
		for chunk := range inner {
			if chunk.Response != nil {
				if chunk.Response.Metadata == nil {
					chunk.Response.Metadata = make(map[string]any)
				}
				chunk.Response.Metadata["routed_to"] = []string{tag}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *Router) streamMulti(ctx context.Context, req *agent.Request, tags []string) <-chan agent.StreamChunk {
	out := make(chan agent.StreamChunk, 16)
	go func() {
		defer close(out)

		out <- agent.StreamChunk{
			Content:   fmt.Sprintf("분석 중입니다 (%s)", strings.Join(tags, ", ")),
			Status:    agent.ChunkProcessing,
			AgentType: "router",
		}

		// First-completed semantics: partials surface as soon as any
		// agent answers, not in dispatch order.
		done := make(chan agentResult, len(tags))
		for _, tag := range tags {
			go func() {
				target, err := r.registry.CreateAgent(tag)
				if err != nil {
					done <- agentResult{tag: tag, err: err}
					return
				}
				resp, err := target.Process(ctx, req)
				done <- agentResult{tag: tag, resp: resp, err: err}
			}()
		}

		var succeeded []agentResult
		for range tags {
			res := <-done
			if res.err != nil {
				r.logger.Error("agent call failed", "agent", res.tag, "error", res.err)
				continue
			}
			succeeded = append(succeeded, res)
			out <- agent.StreamChunk{
				Content:   res.resp.Answer,
				Status:    agent.ChunkPartial,
				AgentType: res.tag,
			}
		}

		if len(succeeded) == 0 {
			resp := errorResponse(strings.Join(tags, ","),
				agent.NewError(agent.CodeAggregation, "every target agent failed", nil))
			out <- agent.StreamChunk{
				Content:   resp.Answer,
				Status:    agent.ChunkError,
				AgentType: "router",
				Response:  resp,
			}
			return
		}

		out <- agent.StreamChunk{Status: agent.ChunkSynthesizing, AgentType: "router"}

		resp := r.synthesize(ctx, req, tags, succeeded)
		out <- agent.StreamChunk{
			Status:    agent.ChunkComplete,
			AgentType: "router",
			Response:  resp,
		}
	}()
	return out
}

func errorStream(tag string, err error) <-chan agent.StreamChunk {
	resp := errorResponse(tag, err)
	out := make(chan agent.StreamChunk, 1)
	out <- agent.StreamChunk{
		Content:   resp.Answer,
		Status:    agent.ChunkError,
		AgentType: "router",
		Response:  resp,
	}
	close(out)
	return out
}
