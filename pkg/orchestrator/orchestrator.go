package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/logger"
	"github.com/renalworks/nefro/pkg/observability"
	"github.com/renalworks/nefro/pkg/session"
)

const historyContextEntries = 5

// ChatRequest is the inbound contract for one question.
type ChatRequest struct {
	Query     string         `json:"query"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	RoomID    string         `json:"room_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	AgentType string         `json:"agent_type,omitempty"`
	Profile   agent.Profile  `json:"profile,omitempty"`
	Language  string         `json:"language,omitempty"`
}

// Orchestrator validates the session, enforces the token ceiling, hands the
// request to the router and does the post-response bookkeeping. Per session,
// history and ledger updates land before the next request is admitted.
type Orchestrator struct {
	registry *agent.Registry
	sessions *session.Manager
	policy   *session.Policy
	streams  *session.ActiveStreams
	logger   *slog.Logger
}

func New(registry *agent.Registry, sessions *session.Manager, policy *session.Policy, streams *session.ActiveStreams) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		sessions: sessions,
		policy:   policy,
		streams:  streams,
		logger:   logger.GetLogger(),
	}
}

// Chat answers one request synchronously.
func (o *Orchestrator) Chat(ctx context.Context, req *ChatRequest) (*agent.Response, error) {
	sess, agentReq, refusal := o.admit(ctx, req)
	if refusal != nil {
		return refusal, nil
	}

	router, err := o.registry.CreateAgent("router")
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := router.Process(ctx, agentReq)
	observability.GetMetrics().RecordAgentCall(ctx, "router", time.Since(start), tokensOf(resp), err)
	if err != nil {
		return nil, err
	}

	o.bookkeep(sess.ID, req.Query, resp)
	return resp, nil
}

// ChatStream answers one request as a chunk stream. Cancellation is
// cooperative: the flag raised through CancelStream is observed between
// chunks, producing exactly one cancelled chunk and nothing after it.
func (o *Orchestrator) ChatStream(ctx context.Context, req *ChatRequest) (<-chan agent.StreamChunk, error) {
	sess, agentReq, refusal := o.admit(ctx, req)
	if refusal != nil {
		out := make(chan agent.StreamChunk, 1)
		out <- agent.StreamChunk{
			Content:   refusal.Answer,
			Status:    agent.ChunkError,
			AgentType: "router",
			Response:  refusal,
		}
		close(out)
		return out, nil
	}

	router, err := o.registry.CreateAgent("router")
	if err != nil {
		return nil, err
	}

	inner, err := router.ProcessStream(ctx, agentReq)
	if err != nil {
		return nil, err
	}

	state := o.streams.Register(sess.ID)
	out := make(chan agent.StreamChunk, 16)
	go func() {
		defer close(out)
		defer o.streams.Remove(sess.ID)

		for chunk := range inner {
			if state.CancelRequested() {
				observability.GetMetrics().RecordStreamCancelled(ctx)
				out <- agent.StreamChunk{Status: agent.ChunkCancelled, AgentType: "router"}
				return
			}

			if chunk.Content != "" {
				state.AppendPartial(chunk.Content)
			}
			if chunk.Status == agent.ChunkComplete && chunk.Response != nil {
				o.bookkeep(sess.ID, req.Query, chunk.Response)
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

// CancelStream raises the cancel flag for a session's live stream.
func (o *Orchestrator) CancelStream(sessionID string) bool {
	return o.streams.RequestCancel(sessionID)
}

// admit resolves the session, runs admission control and builds the agent
// request. A non-nil refusal response means no agent call may happen.
func (o *Orchestrator) admit(ctx context.Context, req *ChatRequest) (*session.Session, *agent.Request, *agent.Response) {
	sess := o.resolveSession(req)

	estimate := o.policy.EstimateTokens(req.Query)
	check := o.policy.CheckLimit(sess.ID, estimate)
	if check.WouldExceed {
		observability.GetMetrics().RecordTokenRefusal(ctx)
		o.logger.Warn("request refused by token ceiling",
			"session_id", sess.ID, "current", check.CurrentUsage, "requested", estimate)
		return nil, nil, &agent.Response{
			Answer:    "대화가 너무 길어졌습니다. 새로운 대화를 시작해 주세요.",
			Status:    agent.StatusError,
			AgentType: "router",
			Metadata: map[string]any{
				"error_code":    agent.CodeTokenLimitExceeded,
				"current_usage": check.CurrentUsage,
				"max_limit":     check.MaxLimit,
				"requested":     estimate,
			},
		}
	}

	return sess, o.buildAgentRequest(req, sess), nil
}

func (o *Orchestrator) resolveSession(req *ChatRequest) *session.Session {
	if req.SessionID != "" {
		if sess := o.sessions.GetSession(req.SessionID, true); sess != nil {
			return sess
		}
	}
	sess := o.sessions.CreateSession(req.UserID, req.RoomID)
	req.SessionID = sess.ID
	return sess
}

func (o *Orchestrator) buildAgentRequest(req *ChatRequest, sess *session.Session) *agent.Request {
	reqCtx := make(map[string]any, len(req.Context)+2)
	for k, v := range req.Context {
		reqCtx[k] = v
	}
	if req.AgentType != "" {
		reqCtx[agent.ContextTargetAgent] = req.AgentType
	}
	if history := formatHistory(sess.History); history != "" {
		reqCtx[agent.ContextUserHistory] = history
	}

	return &agent.Request{
		Query:     req.Query,
		SessionID: sess.ID,
		UserID:    req.UserID,
		Context:   reqCtx,
		Profile:   req.Profile,
		Language:  req.Language,
		Timestamp: time.Now(),
	}
}

// bookkeep lands the ledger and history updates for a finished response.
func (o *Orchestrator) bookkeep(sessionID, query string, resp *agent.Response) {
	if resp.Status == agent.StatusError {
		return
	}
	o.policy.TrackUsage(sessionID, resp.AgentType, resp.TokensUsed)
	o.sessions.AddToHistory(sessionID, resp.AgentType, query, resp.Answer)
}

// formatHistory renders the most recent exchanges for prompt context.
func formatHistory(entries []session.ConversationEntry) string {
	if len(entries) > historyContextEntries {
		entries = entries[len(entries)-historyContextEntries:]
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "user: %s\nassistant: %s\n", e.UserInput, e.AgentResponse)
	}
	return b.String()
}

func tokensOf(resp *agent.Response) int {
	if resp == nil {
		return 0
	}
	return resp.TokensUsed
}
