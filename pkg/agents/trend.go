package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/docstore"
	"github.com/renalworks/nefro/pkg/llms"
	"github.com/renalworks/nefro/pkg/logger"
)

const trendSystem = `You summarize lab-value trends for a chronic kidney disease patient.
Given dated health records, describe how the values moved, flag readings outside reference ranges and suggest what to discuss with the nephrologist.
Answer in the user's language. Never diagnose.`

const trendRecordLimit = 50

// TrendAgent reads the user's health records and narrates how their lab
// values are moving.
type TrendAgent struct {
	store  docstore.Store
	llm    llms.Provider
	logger *slog.Logger
}

func NewTrendAgent(store docstore.Store, llm llms.Provider) *TrendAgent {
	return &TrendAgent{store: store, llm: llm, logger: logger.GetLogger()}
}

func (a *TrendAgent) Metadata() agent.Metadata {
	return agent.Metadata{
		Name:          "trend_visualization",
		Description:   "Lab-value trends from personal health records",
		Version:       "1.0.0",
		Capabilities:  []string{"records", "generation"},
		ExecutionType: agent.ExecutionLocal,
	}
}

func (a *TrendAgent) EstimateContextUsage(text string) int {
	return len([]rune(text)) / 4
}

func (a *TrendAgent) Process(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	if req.UserID == "" {
		return &agent.Response{
			Answer:    "건강 기록을 조회하려면 로그인이 필요합니다.",
			Status:    agent.StatusError,
			AgentType: "trend_visualization",
			Metadata:  map[string]any{"error_code": agent.CodeSessionNotFound},
		}, nil
	}

	records, err := a.store.FilterScan(ctx, "health_records",
		map[string]any{"user_id": req.UserID}, trendRecordLimit)
	if err != nil {
		return nil, agent.NewError(agent.CodeDatabaseConnection, "failed to load health records", err)
	}
	if len(records) == 0 {
		return &agent.Response{
			Answer:    "등록된 건강 기록이 없습니다. 검사 결과를 먼저 등록해 주세요.",
			Status:    agent.StatusPartial,
			AgentType: "trend_visualization",
		}, nil
	}

	answer, tokens, err := a.llm.Generate(ctx, a.messages(req, records))
	if err != nil {
		return nil, agent.NewError(agent.CodeAgentExecution, "trend summary failed", err)
	}

	return &agent.Response{
		Answer:     strings.TrimSpace(answer),
		Sources:    recordRefs(records),
		TokensUsed: tokens,
		Status:     agent.StatusSuccess,
		AgentType:  "trend_visualization",
	}, nil
}

func (a *TrendAgent) ProcessStream(ctx context.Context, req *agent.Request) (<-chan agent.StreamChunk, error) {
	out := make(chan agent.StreamChunk, 2)
	go func() {
		defer close(out)

		out <- agent.StreamChunk{Status: agent.ChunkProcessing, AgentType: "trend_visualization"}

		resp, err := a.Process(ctx, req)
		if err != nil {
			out <- agent.StreamChunk{Content: err.Error(), Status: agent.ChunkError, AgentType: "trend_visualization"}
			return
		}
		out <- agent.StreamChunk{
			Status:    agent.ChunkComplete,
			AgentType: "trend_visualization",
			Response:  resp,
		}
	}()
	return out, nil
}

func (a *TrendAgent) messages(req *agent.Request, records []docstore.Document) []llms.Message {
	var b strings.Builder
	b.WriteString("Health records, oldest first:\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "- %s: %s\n", rec.Title, rec.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(req.Query)

	return []llms.Message{
		{Role: llms.RoleSystem, Content: trendSystem},
		{Role: llms.RoleUser, Content: b.String()},
	}
}

func recordRefs(records []docstore.Document) []agent.SourceRef {
	refs := make([]agent.SourceRef, 0, len(records))
	for _, rec := range records {
		refs = append(refs, agent.SourceRef{
			ID:         rec.ID,
			Title:      rec.Title,
			Collection: rec.Collection,
		})
	}
	return refs
}
