package agents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/llms"
	"github.com/renalworks/nefro/pkg/logger"
)

const quizSystem = `You create short learning quizzes about chronic kidney disease self-management.
Produce one multiple-choice question in the user's language with four options (A-D), then the correct answer and a one-paragraph explanation.
Adjust difficulty to the requested topic. Keep the medical content accurate.`

// QuizAgent generates learning quizzes. It is LLM-only; no retrieval.
type QuizAgent struct {
	llm    llms.Provider
	logger *slog.Logger
}

func NewQuizAgent(llm llms.Provider) *QuizAgent {
	return &QuizAgent{llm: llm, logger: logger.GetLogger()}
}

func (a *QuizAgent) Metadata() agent.Metadata {
	return agent.Metadata{
		Name:          "quiz",
		Description:   "Learning quizzes for CKD self-management",
		Version:       "1.0.0",
		Capabilities:  []string{"generation"},
		ExecutionType: agent.ExecutionLocal,
	}
}

func (a *QuizAgent) EstimateContextUsage(text string) int {
	return len([]rune(text)) / 4
}

func (a *QuizAgent) Process(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	answer, tokens, err := a.llm.Generate(ctx, a.messages(req))
	if err != nil {
		return nil, agent.NewError(agent.CodeAgentExecution, "quiz generation failed", err)
	}

	return &agent.Response{
		Answer:     strings.TrimSpace(answer),
		TokensUsed: tokens,
		Status:     agent.StatusSuccess,
		AgentType:  "quiz",
	}, nil
}

func (a *QuizAgent) ProcessStream(ctx context.Context, req *agent.Request) (<-chan agent.StreamChunk, error) {
	out := make(chan agent.StreamChunk, 16)
	go func() {
		defer close(out)

		out <- agent.StreamChunk{Status: agent.ChunkProcessing, AgentType: "quiz"}

		stream, err := a.llm.GenerateStreaming(ctx, a.messages(req))
		if err != nil {
			out <- agent.StreamChunk{Content: err.Error(), Status: agent.ChunkError, AgentType: "quiz"}
			return
		}

		var b strings.Builder
		for chunk := range stream {
			if chunk.Error != nil {
				out <- agent.StreamChunk{Content: chunk.Error.Error(), Status: agent.ChunkError, AgentType: "quiz"}
				return
			}
			if chunk.Done {
				break
			}
			if chunk.Text == "" {
				continue
			}
			b.WriteString(chunk.Text)
			select {
			case out <- agent.StreamChunk{Content: chunk.Text, Status: agent.ChunkStreaming, AgentType: "quiz"}:
			case <-ctx.Done():
				return
			}
		}

		answer := b.String()
		out <- agent.StreamChunk{
			Status:    agent.ChunkComplete,
			AgentType: "quiz",
			Response: &agent.Response{
				Answer:     answer,
				TokensUsed: a.EstimateContextUsage(answer),
				Status:     agent.StatusSuccess,
				AgentType:  "quiz",
			},
		}
	}()
	return out, nil
}

func (a *QuizAgent) messages(req *agent.Request) []llms.Message {
	topic := req.Query
	if strings.TrimSpace(topic) == "" {
		topic = "chronic kidney disease self-management"
	}
	return []llms.Message{
		{Role: llms.RoleSystem, Content: quizSystem},
		{Role: llms.RoleUser, Content: "Topic: " + topic},
	}
}
