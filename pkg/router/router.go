package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/llms"
	"github.com/renalworks/nefro/pkg/logger"
)

// Router is the synthesis core: it classifies a request onto one or more
// target agents, fans out concurrently and composes a single response.
// It satisfies the Agent capability itself and registers under "router".
type Router struct {
	registry          *agent.Registry
	classifier        *Classifier
	llm               llms.Provider
	synthesisOverhead int
	logger            *slog.Logger
}

func New(registry *agent.Registry, llm llms.Provider, synthesisOverhead int) *Router {
	return &Router{
		registry:          registry,
		classifier:        NewClassifier(llm, registry.HasAgent),
		llm:               llm,
		synthesisOverhead: synthesisOverhead,
		logger:            logger.GetLogger(),
	}
}

func (r *Router) Metadata() agent.Metadata {
	return agent.Metadata{
		Name:          "router",
		Description:   "Routes questions to specialist agents and synthesizes their answers",
		Version:       "1.0.0",
		Capabilities:  []string{"classification", "dispatch", "synthesis"},
		ExecutionType: agent.ExecutionLocal,
	}
}

func (r *Router) EstimateContextUsage(text string) int {
	return len([]rune(text)) / 4
}

func (r *Router) Process(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	cls := r.classifier.Classify(ctx, req)
	r.logger.Info("request routed",
		"session_id", req.SessionID, "targets", cls.AgentTags, "method", cls.Method)

	if len(cls.AgentTags) == 1 {
		return r.dispatchSingle(ctx, req, cls.AgentTags[0])
	}
	return r.dispatchMulti(ctx, req, cls.AgentTags)
}

// dispatchSingle forwards the request to one agent and annotates the route.
func (r *Router) dispatchSingle(ctx context.Context, req *agent.Request, tag string) (*agent.Response, error) {
	target, err := r.registry.CreateAgent(tag)
	if err != nil {
		return errorResponse(tag, err), nil
	}

	resp, err := target.Process(ctx, req)
	if err != nil {
		r.logger.Error("agent call failed", "agent", tag, "error", err)
		return errorResponse(tag, err), nil
	}

	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata["routed_to"] = []string{tag}
	return resp, nil
}

type agentResult struct {
	tag  string
	resp *agent.Response
	err  error
}

// dispatchMulti fans out to every target concurrently and synthesizes the
// survivors. Individual failures never fail the whole request; only a
// total loss does.
func (r *Router) dispatchMulti(ctx context.Context, req *agent.Request, tags []string) (*agent.Response, error) {
	results := r.fanOut(ctx, req, tags)

	var succeeded []agentResult
	for _, res := range results {
		if res.err != nil {
			r.logger.Error("agent call failed", "agent", res.tag, "error", res.err)
			continue
		}
		succeeded = append(succeeded, res)
	}

	if len(succeeded) == 0 {
		return errorResponse(strings.Join(tags, ","),
			agent.NewError(agent.CodeAggregation, "every target agent failed", nil)), nil
	}

	return r.synthesize(ctx, req, tags, succeeded), nil
}

func (r *Router) fanOut(ctx context.Context, req *agent.Request, tags []string) []agentResult {
	results := make([]agentResult, len(tags))
	var wg sync.WaitGroup
	for i, tag := range tags {
		wg.Add(1)
		go func() {
			defer wg.Done()

			target, err := r.registry.CreateAgent(tag)
			if err != nil {
				results[i] = agentResult{tag: tag, err: err}
				return
			}
			resp, err := target.Process(ctx, req)
			results[i] = agentResult{tag: tag, resp: resp, err: err}
		}()
	}
	wg.Wait()
	return results
}

// synthesize combines the successful answers into one response. The LLM
// consolidation degrades to plain concatenation when it fails.
func (r *Router) synthesize(ctx context.Context, req *agent.Request, routedTo []string, succeeded []agentResult) *agent.Response {
	answer := r.synthesizeLLM(ctx, req.Query, succeeded)
	if answer == "" {
		parts := make([]string, 0, len(succeeded))
		for _, res := range succeeded {
			parts = append(parts, res.resp.Answer)
		}
		answer = strings.Join(parts, "\n\n")
	}

	totalTokens := r.synthesisOverhead
	var sources []agent.SourceRef
	var papers []agent.PaperRef
	individual := make(map[string]string, len(succeeded))
	for _, res := range succeeded {
		totalTokens += res.resp.TokensUsed
		sources = append(sources, res.resp.Sources...)
		papers = append(papers, res.resp.Papers...)
		individual[res.tag] = res.resp.Answer
	}

	return &agent.Response{
		Answer:     answer,
		Sources:    sources,
		Papers:     papers,
		TokensUsed: totalTokens,
		Status:     agent.StatusSuccess,
		AgentType:  "router",
		Metadata: map[string]any{
			"routed_to":            routedTo,
			"synthesis":            true,
			"individual_responses": individual,
		},
	}
}

const synthesisPrompt = `You consolidate answers from several specialist assistants into one reply for a chronic kidney disease patient or researcher.
Write a single coherent answer in the user's language. Do not mention the assistants or that the answer was assembled.`

func (r *Router) synthesizeLLM(ctx context.Context, query string, succeeded []agentResult) string {
	if r.llm == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	for i, res := range succeeded {
		fmt.Fprintf(&b, "Answer %d:\n%s\n\n", i+1, res.resp.Answer)
	}

	answer, _, err := r.llm.Generate(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: synthesisPrompt},
		{Role: llms.RoleUser, Content: b.String()},
	})
	if err != nil {
		r.logger.Warn("synthesis failed, concatenating answers", "error", err)
		return ""
	}
	return strings.TrimSpace(answer)
}

// errorResponse maps a failure to a user-facing response. The answer stays
// friendly; the stable code travels in metadata.
func errorResponse(tag string, err error) *agent.Response {
	return &agent.Response{
		Answer:    "죄송합니다. 지금은 답변을 드릴 수 없습니다. 잠시 후 다시 시도해 주세요.",
		Status:    agent.StatusError,
		AgentType: "router",
		Metadata: map[string]any{
			"error_code":   agent.CodeOf(err),
			"failed_agent": tag,
		},
	}
}
