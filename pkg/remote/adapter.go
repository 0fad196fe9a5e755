package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/config"
	"github.com/renalworks/nefro/pkg/logger"
)

// Adapter fronts a remote agent server speaking the event-polling protocol
// as a local registry entry. One adapter instance owns one server: its
// circuit breaker, its session handles and its polling offsets.
type Adapter struct {
	name        string
	description string
	baseURL     string
	client      *http.Client
	circuit     *CircuitBreaker
	logger      *slog.Logger

	maxRetries     int
	retryBaseDelay time.Duration
	maxPolling     time.Duration
	pollWaitMin    time.Duration
	pollWaitMax    time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState is the cached remote handle for one local session. The
// offset survives across calls so a second question resumes after the
// events already consumed.
type sessionState struct {
	remoteID string
	offset   int64
}

func NewAdapter(name, description string, cfg config.RemoteAgentConfig) *Adapter {
	return &Adapter{
		name:        name,
		description: description,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		client:      &http.Client{Timeout: time.Duration(cfg.PollWaitMax)*time.Millisecond + 10*time.Second},
		circuit:     NewCircuitBreaker(cfg.FailureThreshold, time.Duration(cfg.RecoveryTimeout)*time.Second),
		logger:      logger.GetLogger(),

		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: time.Duration(cfg.RetryBaseDelay) * time.Millisecond,
		maxPolling:     time.Duration(cfg.MaxPolling) * time.Second,
		pollWaitMin:    time.Duration(cfg.PollWaitMin) * time.Millisecond,
		pollWaitMax:    time.Duration(cfg.PollWaitMax) * time.Millisecond,

		sessions: make(map[string]*sessionState),
	}
}

func (a *Adapter) Metadata() agent.Metadata {
	return agent.Metadata{
		Name:          a.name,
		Description:   a.description,
		Version:       "1.0.0",
		Capabilities:  []string{"remote"},
		ExecutionType: agent.ExecutionRemote,
	}
}

func (a *Adapter) EstimateContextUsage(text string) int {
	return len([]rune(text)) / 4
}

// Process sends the query to the remote server and assembles the answer
// from polled events. Failures, including timeouts, are charged to the
// circuit breaker.
func (a *Adapter) Process(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	if err := a.circuit.Allow(); err != nil {
		return nil, agent.NewError(agent.CodeCircuitOpen,
			fmt.Sprintf("agent %s is temporarily unavailable", a.name), err)
	}

	resp, err := a.process(ctx, req)
	if err != nil {
		a.circuit.RecordFailure()
		return nil, err
	}
	a.circuit.RecordSuccess()
	return resp, nil
}

func (a *Adapter) process(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	sess, err := a.ensureSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if err := a.sendMessage(ctx, sess, req.Query); err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		// Remote session handles are a cache; rebuild once on 404.
		sess, err = a.rebuildSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if err := a.sendMessage(ctx, sess, req.Query); err != nil {
			return nil, err
		}
	}

	return a.collectResponse(ctx, sess)
}

// collectResponse polls events until the server reports ready and every
// observed agent trace has completed.
func (a *Adapter) collectResponse(ctx context.Context, sess *sessionState) (*agent.Response, error) {
	deadline := time.Now().Add(a.maxPolling)
	start := time.Now()

	activeTraces := make(map[string]struct{})
	var messages []string
	var papers []agent.PaperRef
	var eventCount, messageCount, toolCount int

	for {
		if time.Now().After(deadline) {
			return nil, agent.NewError(agent.CodeRemoteTimeout,
				fmt.Sprintf("agent %s did not answer within %s", a.name, a.maxPolling), ErrPollTimeout)
		}

		wait := a.pollWait(time.Since(start))
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}

		events, err := a.fetchEvents(ctx, sess, wait)
		if err != nil {
			return nil, err
		}

		sawReady := false
		for _, ev := range events {
			eventCount++
			if ev.Offset >= sess.offset {
				sess.offset = ev.Offset + 1
			}

			switch ev.Kind {
			case EventStatus:
				switch ev.Status() {
				case StatusError:
					return nil, agent.NewError(agent.CodeAgentExecution,
						fmt.Sprintf("agent %s reported an execution error", a.name), nil)
				case StatusReady:
					delete(activeTraces, ev.BaseCorrelation())
					sawReady = true
				}
			case EventMessage:
				if !ev.FromAgent() {
					continue
				}
				activeTraces[ev.BaseCorrelation()] = struct{}{}
				if text := ev.Message(); text != "" {
					messages = append(messages, text)
					messageCount++
				}
			case EventTool:
				toolCount++
				papers = append(papers, papersFromTool(ev.Data)...)
			}
		}

		if sawReady && len(activeTraces) == 0 {
			break
		}
	}

	return &agent.Response{
		Answer:     strings.Join(messages, "\n"),
		Papers:     papers,
		TokensUsed: 0,
		Status:     agent.StatusSuccess,
		AgentType:  a.name,
		Metadata: map[string]any{
			"event_count":   eventCount,
			"message_count": messageCount,
			"tool_count":    toolCount,
		},
	}, nil
}

// pollWait grows the long-poll hint from the minimum toward the cap as
// wall-clock time elapses, easing pressure on slow answers.
func (a *Adapter) pollWait(elapsed time.Duration) time.Duration {
	const rampUp = 30 * time.Second
	if elapsed >= rampUp {
		return a.pollWaitMax
	}
	span := float64(a.pollWaitMax - a.pollWaitMin)
	return a.pollWaitMin + time.Duration(span*float64(elapsed)/float64(rampUp))
}

// ProcessStream wraps Process: the remote protocol delivers whole answers,
// so the stream is a processing marker followed by the final response.
func (a *Adapter) ProcessStream(ctx context.Context, req *agent.Request) (<-chan agent.StreamChunk, error) {
	out := make(chan agent.StreamChunk, 2)
	go func() {
		defer close(out)

		out <- agent.StreamChunk{Status: agent.ChunkProcessing, AgentType: a.name}

		resp, err := a.Process(ctx, req)
		if err != nil {
			out <- agent.StreamChunk{
				Content:   err.Error(),
				Status:    agent.ChunkError,
				AgentType: a.name,
			}
			return
		}
		out <- agent.StreamChunk{
			Status:    agent.ChunkComplete,
			AgentType: a.name,
			Response:  resp,
		}
	}()
	return out, nil
}

// Health probes the server's health endpoint without touching the circuit.
func (a *Adapter) Health(ctx context.Context) error {
	resp, err := a.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (a *Adapter) ensureSession(ctx context.Context, sessionID string) (*sessionState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sess, ok := a.sessions[sessionID]; ok {
		return sess, nil
	}
	sess, err := a.createOrGetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	a.sessions[sessionID] = sess
	return sess, nil
}

func (a *Adapter) rebuildSession(ctx context.Context, sessionID string) (*sessionState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.sessions, sessionID)
	sess, err := a.createOrGetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	a.sessions[sessionID] = sess
	return sess, nil
}

func (a *Adapter) createOrGetSession(ctx context.Context, sessionID string) (*sessionState, error) {
	resp, err := a.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil)
	if err == nil {
		resp.Body.Close()
		return &sessionState{remoteID: sessionID}, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return nil, agent.NewError(agent.CodeRemoteUnavailable, "failed to encode session request", err)
	}
	resp, err = a.do(ctx, http.MethodPost, "/sessions", body)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return &sessionState{remoteID: sessionID}, nil
}

func (a *Adapter) sendMessage(ctx context.Context, sess *sessionState, text string) error {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return agent.NewError(agent.CodeRemoteUnavailable, "failed to encode message", err)
	}

	resp, err := a.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sess.remoteID)+"/messages", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (a *Adapter) fetchEvents(ctx context.Context, sess *sessionState, wait time.Duration) ([]Event, error) {
	params := url.Values{
		"min_offset":    {fmt.Sprintf("%d", sess.offset)},
		"wait_for_data": {fmt.Sprintf("%.1f", wait.Seconds())},
	}

	resp, err := a.do(ctx, http.MethodGet,
		"/sessions/"+url.PathEscape(sess.remoteID)+"/events?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Events []Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// A malformed body indicates a server defect; never retried.
		return nil, agent.NewError(agent.CodeResponseParse,
			fmt.Sprintf("agent %s returned an undecodable event batch", a.name), ErrResponseParse)
	}
	return parsed.Events, nil
}

// do issues one request with the retry envelope: transport errors and 5xx
// answers back off base*2^i plus up to 25% jitter, up to maxRetries times.
// A 404 maps to ErrSessionNotFound and is not retried.
func (a *Adapter) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
		if err != nil {
			return nil, agent.NewError(agent.CodeRemoteUnavailable, "failed to create request", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.client.Do(req)
		if err == nil {
			switch {
			case resp.StatusCode == http.StatusNotFound:
				resp.Body.Close()
				return nil, agent.NewError(agent.CodeSessionNotFound,
					fmt.Sprintf("agent %s has no such session", a.name), ErrSessionNotFound)
			case resp.StatusCode >= 500:
				resp.Body.Close()
				lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			case resp.StatusCode >= 400:
				resp.Body.Close()
				return nil, agent.NewError(agent.CodeRemoteUnavailable,
					fmt.Sprintf("agent %s rejected the request with status %d", a.name, resp.StatusCode), nil)
			default:
				return resp, nil
			}
		} else {
			lastErr = err
		}

		if attempt >= a.maxRetries {
			return nil, agent.NewError(agent.CodeRemoteUnavailable,
				fmt.Sprintf("agent %s unreachable after %d attempts", a.name, attempt+1),
				fmt.Errorf("%w: %v", ErrServerUnavailable, lastErr))
		}

		delay := a.retryBaseDelay * time.Duration(1<<attempt)
		delay += time.Duration(rand.Float64() * 0.25 * float64(delay))
		a.logger.Debug("retrying remote call",
			"agent", a.name, "attempt", attempt+1, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return nil, agent.NewError(agent.CodeRemoteUnavailable, "request cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// papersFromTool converts tool-call output payloads to literature refs.
func papersFromTool(data map[string]any) []agent.PaperRef {
	raw, ok := data["papers"].([]any)
	if !ok {
		if p, ok := paperFromMap(data); ok {
			return []agent.PaperRef{p}
		}
		return nil
	}

	papers := make([]agent.PaperRef, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := paperFromMap(m); ok {
			papers = append(papers, p)
		}
	}
	return papers
}

func paperFromMap(m map[string]any) (agent.PaperRef, bool) {
	str := func(key string) string {
		if v, ok := m[key].(string); ok {
			return v
		}
		return ""
	}

	p := agent.PaperRef{
		ID:      str("id"),
		Title:   str("title"),
		Journal: str("journal"),
		Year:    str("year"),
		URL:     str("url"),
	}
	return p, p.Title != "" || p.ID != ""
}
