package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalworks/nefro/pkg/agent"
)

type scriptedAgent struct {
	name   string
	answer string
	tokens int
	err    error
}

func (s *scriptedAgent) Process(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &agent.Response{
		Answer:     s.answer,
		TokensUsed: s.tokens,
		Status:     agent.StatusSuccess,
		AgentType:  s.name,
	}, nil
}

func (s *scriptedAgent) ProcessStream(ctx context.Context, req *agent.Request) (<-chan agent.StreamChunk, error) {
	out := make(chan agent.StreamChunk, 2)
	resp, err := s.Process(ctx, req)
	if err != nil {
		out <- agent.StreamChunk{Content: err.Error(), Status: agent.ChunkError, AgentType: s.name}
	} else {
		out <- agent.StreamChunk{Status: agent.ChunkComplete, AgentType: s.name, Response: resp}
	}
	close(out)
	return out, nil
}

func (s *scriptedAgent) Metadata() agent.Metadata {
	return agent.Metadata{Name: s.name, ExecutionType: agent.ExecutionLocal}
}

func (s *scriptedAgent) EstimateContextUsage(text string) int { return len(text) / 4 }

func registryWith(t *testing.T, stubs ...*scriptedAgent) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry()
	for _, stub := range stubs {
		require.NoError(t, reg.RegisterType(stub.name, stub.Metadata(),
			func() (agent.Agent, error) { return stub, nil }))
	}
	return reg
}

func TestRouter_SingleTargetAnnotatesRoute(t *testing.T) {
	reg := registryWith(t, &scriptedAgent{name: "nutrition", answer: "바나나는 칼륨이 높습니다", tokens: 120})
	r := New(reg, &fakeLLM{jsonOut: `{"intents":["diet_info"],"confidence":0.9}`}, 500)

	resp, err := r.Process(context.Background(), request("바나나 먹어도 되나요", nil))
	require.NoError(t, err)
	assert.Equal(t, agent.StatusSuccess, resp.Status)
	assert.Equal(t, "nutrition", resp.AgentType)
	assert.Equal(t, 120, resp.TokensUsed, "single-target dispatch carries no synthesis overhead")
	assert.Equal(t, []string{"nutrition"}, resp.Metadata["routed_to"])
}

func TestRouter_TwoAgentFanOutOneFails(t *testing.T) {
	welfare := &scriptedAgent{name: "medical_welfare", answer: "A", tokens: 80}
	research := &scriptedAgent{name: "research_paper", err: errors.New("boom")}
	reg := registryWith(t, welfare, research)

	llm := &fakeLLM{
		jsonOut: `{"intents":["welfare_info","research"],"confidence":0.85}`,
		genOut:  "복지 혜택 안내: A",
	}
	r := New(reg, llm, 500)

	resp, err := r.Process(context.Background(),
		request("당뇨병 환자 복지 혜택과 최신 연구", nil))
	require.NoError(t, err)

	assert.Equal(t, agent.StatusSuccess, resp.Status)
	assert.Contains(t, resp.Answer, "복지 혜택")
	assert.Equal(t, []string{"medical_welfare", "research_paper"}, resp.Metadata["routed_to"])
	assert.Equal(t, true, resp.Metadata["synthesis"])

	individual := resp.Metadata["individual_responses"].(map[string]string)
	assert.Equal(t, map[string]string{"medical_welfare": "A"}, individual,
		"only successful contributions appear")

	assert.Equal(t, 80+500, resp.TokensUsed, "tokens are the surviving agents plus overhead")
}

func TestRouter_SynthesisFallsBackToConcatenation(t *testing.T) {
	a := &scriptedAgent{name: "medical_welfare", answer: "복지 답변", tokens: 10}
	b := &scriptedAgent{name: "research_paper", answer: "연구 답변", tokens: 20}
	reg := registryWith(t, a, b)

	llm := &fakeLLM{
		jsonOut: `{"intents":["welfare_info","research"],"confidence":0.8}`,
		genErr:  errors.New("llm down"),
	}
	r := New(reg, llm, 500)

	resp, err := r.Process(context.Background(), request("질문", nil))
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "복지 답변")
	assert.Contains(t, resp.Answer, "연구 답변")
	assert.Equal(t, 10+20+500, resp.TokensUsed)
}

func TestRouter_AllAgentsFail(t *testing.T) {
	reg := registryWith(t,
		&scriptedAgent{name: "medical_welfare", err: errors.New("down")},
		&scriptedAgent{name: "research_paper", err: errors.New("down too")},
	)
	r := New(reg, &fakeLLM{jsonOut: `{"intents":["welfare_info","research"],"confidence":0.8}`}, 500)

	resp, err := r.Process(context.Background(), request("질문", nil))
	require.NoError(t, err)
	assert.Equal(t, agent.StatusError, resp.Status)
	assert.NotContains(t, resp.Answer, "boom", "user-facing answer carries no internals")
	assert.Equal(t, agent.CodeAggregation, resp.Metadata["error_code"])
}

func TestRouter_ForcedTargetIdempotence(t *testing.T) {
	quiz := &scriptedAgent{name: "quiz", answer: "Q1", tokens: 5}
	reg := registryWith(t, quiz, &scriptedAgent{name: "nutrition", answer: "N", tokens: 5})
	r := New(reg, &fakeLLM{jsonOut: `{"intents":["diet_info"],"confidence":0.9}`}, 500)

	for _, query := range []string{"식단", "논문", "complete nonsense"} {
		resp, err := r.Process(context.Background(),
			request(query, map[string]any{agent.ContextTargetAgent: "quiz"}))
		require.NoError(t, err)
		assert.Equal(t, "quiz", resp.AgentType)
	}
}

func TestRouter_StreamEmitsProgressAndCompleteLast(t *testing.T) {
	welfare := &scriptedAgent{name: "medical_welfare", answer: "A", tokens: 10}
	research := &scriptedAgent{name: "research_paper", answer: "B", tokens: 10}
	reg := registryWith(t, welfare, research)
	r := New(reg, &fakeLLM{
		jsonOut: `{"intents":["welfare_info","research"],"confidence":0.8}`,
		genOut:  "합쳐진 답변",
	}, 500)

	stream, err := r.ProcessStream(context.Background(), request("질문", nil))
	require.NoError(t, err)

	var chunks []agent.StreamChunk
	for chunk := range stream {
		chunks = append(chunks, chunk)
	}
	require.NotEmpty(t, chunks)

	assert.Equal(t, agent.ChunkProcessing, chunks[0].Status)
	last := chunks[len(chunks)-1]
	assert.Equal(t, agent.ChunkComplete, last.Status)
	require.NotNil(t, last.Response)
	assert.Equal(t, "합쳐진 답변", last.Response.Answer)

	partials := 0
	synthesizing := 0
	for _, c := range chunks[1 : len(chunks)-1] {
		switch c.Status {
		case agent.ChunkPartial:
			partials++
		case agent.ChunkSynthesizing:
			synthesizing++
		}
	}
	assert.Equal(t, 2, partials)
	assert.Equal(t, 1, synthesizing)
}
