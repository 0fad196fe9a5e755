package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/llms"
	"github.com/renalworks/nefro/pkg/logger"
	"github.com/renalworks/nefro/pkg/retrieval"
)

// KnowledgeAgent answers from one retrieval collection: it searches,
// builds a grounded prompt and generates. The specialist agents embed it
// and differ in collection, prompt and post-processing.
type KnowledgeAgent struct {
	name        string
	description string
	collection  string
	system      string

	engine *retrieval.Engine
	llm    llms.Provider
	logger *slog.Logger
}

func NewKnowledgeAgent(name, description, collection, system string, engine *retrieval.Engine, llm llms.Provider) *KnowledgeAgent {
	return &KnowledgeAgent{
		name:        name,
		description: description,
		collection:  collection,
		system:      system,
		engine:      engine,
		llm:         llm,
		logger:      logger.GetLogger(),
	}
}

func (a *KnowledgeAgent) Metadata() agent.Metadata {
	return agent.Metadata{
		Name:          a.name,
		Description:   a.description,
		Version:       "1.0.0",
		Capabilities:  []string{"retrieval", "generation"},
		ExecutionType: agent.ExecutionLocal,
	}
}

func (a *KnowledgeAgent) EstimateContextUsage(text string) int {
	return len([]rune(text)) / 4
}

// resultLimit caps retrieved documents per user class.
func resultLimit(profile agent.Profile) int {
	switch profile {
	case agent.ProfileResearcher:
		return 8
	case agent.ProfilePatient:
		return 4
	default:
		return 5
	}
}

func (a *KnowledgeAgent) Process(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	results, status, err := a.engine.Search(ctx, a.collection, req.Query, nil, resultLimit(req.Profile))
	if err != nil {
		return nil, agent.NewError(agent.CodeExternalService,
			fmt.Sprintf("search failed for %s", a.name), err)
	}
	if status != retrieval.SemanticSuccess {
		a.logger.Warn("answering with degraded retrieval",
			"agent", a.name, "status", string(status))
	}

	answer, tokens, err := a.generate(ctx, req, results)
	if err != nil {
		return nil, agent.NewError(agent.CodeAgentExecution,
			fmt.Sprintf("generation failed for %s", a.name), err)
	}

	return &agent.Response{
		Answer:     answer,
		Sources:    sourceRefs(results),
		TokensUsed: tokens,
		Status:     agent.StatusSuccess,
		AgentType:  a.name,
	}, nil
}

// ProcessStream retrieves first, then forwards LLM deltas as streaming
// chunks with a final complete chunk carrying the assembled response.
func (a *KnowledgeAgent) ProcessStream(ctx context.Context, req *agent.Request) (<-chan agent.StreamChunk, error) {
	out := make(chan agent.StreamChunk, 16)
	go func() {
		defer close(out)

		out <- agent.StreamChunk{Status: agent.ChunkProcessing, AgentType: a.name}

		results, _, err := a.engine.Search(ctx, a.collection, req.Query, nil, resultLimit(req.Profile))
		if err != nil {
			out <- agent.StreamChunk{Content: err.Error(), Status: agent.ChunkError, AgentType: a.name}
			return
		}

		stream, err := a.llm.GenerateStreaming(ctx, a.messages(req, results))
		if err != nil {
			out <- agent.StreamChunk{Content: err.Error(), Status: agent.ChunkError, AgentType: a.name}
			return
		}

		var b strings.Builder
		tokens := 0
		for chunk := range stream {
			if chunk.Error != nil {
				out <- agent.StreamChunk{Content: chunk.Error.Error(), Status: agent.ChunkError, AgentType: a.name}
				return
			}
			if chunk.Tokens > 0 {
				tokens = chunk.Tokens
			}
			if chunk.Done {
				break
			}
			if chunk.Text == "" {
				continue
			}
			b.WriteString(chunk.Text)
			select {
			case out <- agent.StreamChunk{Content: chunk.Text, Status: agent.ChunkStreaming, AgentType: a.name}:
			case <-ctx.Done():
				return
			}
		}

		answer := b.String()
		if tokens == 0 {
			tokens = a.EstimateContextUsage(answer)
		}
		out <- agent.StreamChunk{
			Status:    agent.ChunkComplete,
			AgentType: a.name,
			Response: &agent.Response{
				Answer:     answer,
				Sources:    sourceRefs(results),
				TokensUsed: tokens,
				Status:     agent.StatusSuccess,
				AgentType:  a.name,
			},
		}
	}()
	return out, nil
}

func (a *KnowledgeAgent) generate(ctx context.Context, req *agent.Request, results []retrieval.SearchResult) (string, int, error) {
	answer, tokens, err := a.llm.Generate(ctx, a.messages(req, results))
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(answer), tokens, nil
}

func (a *KnowledgeAgent) messages(req *agent.Request, results []retrieval.SearchResult) []llms.Message {
	var b strings.Builder
	if len(results) > 0 {
		b.WriteString("Reference material:\n")
		for i, r := range results {
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, r.Payload.Title, r.Payload.Content)
		}
	}
	if history, ok := req.Context[agent.ContextUserHistory].(string); ok && history != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(history)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(req.Query)

	return []llms.Message{
		{Role: llms.RoleSystem, Content: a.system},
		{Role: llms.RoleUser, Content: b.String()},
	}
}

func sourceRefs(results []retrieval.SearchResult) []agent.SourceRef {
	refs := make([]agent.SourceRef, 0, len(results))
	for _, r := range results {
		refs = append(refs, agent.SourceRef{
			ID:         r.DocID,
			Title:      r.Payload.Title,
			Collection: r.Payload.Collection,
			Score:      r.HybridScore,
		})
	}
	return refs
}
