package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/config"
	"github.com/renalworks/nefro/pkg/databases"
	"github.com/renalworks/nefro/pkg/docstore"
	"github.com/renalworks/nefro/pkg/orchestrator"
	"github.com/renalworks/nefro/pkg/retrieval"
	"github.com/renalworks/nefro/pkg/session"
)

type routerStub struct{}

func (routerStub) Process(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	return &agent.Response{
		Answer:     "답변입니다",
		TokensUsed: 42,
		Status:     agent.StatusSuccess,
		AgentType:  "router",
	}, nil
}

func (r routerStub) ProcessStream(ctx context.Context, req *agent.Request) (<-chan agent.StreamChunk, error) {
	out := make(chan agent.StreamChunk, 2)
	out <- agent.StreamChunk{Status: agent.ChunkProcessing, AgentType: "router"}
	resp, _ := r.Process(ctx, req)
	out <- agent.StreamChunk{Status: agent.ChunkComplete, AgentType: "router", Response: resp}
	close(out)
	return out, nil
}

func (routerStub) Metadata() agent.Metadata {
	return agent.Metadata{Name: "router", Description: "routing", ExecutionType: agent.ExecutionLocal}
}

func (routerStub) EstimateContextUsage(text string) int { return len(text) / 4 }

type healthyStore struct{}

func (healthyStore) TextSearch(ctx context.Context, collection, query string, filters map[string]any, limit int) ([]docstore.Document, error) {
	return nil, nil
}

func (healthyStore) FilterScan(ctx context.Context, collection string, filters map[string]any, limit int) ([]docstore.Document, error) {
	return nil, nil
}

func (healthyStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	return nil, nil
}

func (healthyStore) GetMany(ctx context.Context, collection string, ids []string) ([]docstore.Document, error) {
	return nil, nil
}

func (healthyStore) Upsert(ctx context.Context, doc docstore.Document) error { return nil }
func (healthyStore) Delete(ctx context.Context, collection, id string) error { return nil }
func (healthyStore) Ping(ctx context.Context) error                          { return nil }
func (healthyStore) Close() error                                            { return nil }

type healthyVector struct{}

func (healthyVector) Upsert(ctx context.Context, namespace string, points []databases.Point) error {
	return nil
}

func (healthyVector) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]databases.Match, error) {
	return nil, nil
}

func (healthyVector) Ping(ctx context.Context) error { return nil }
func (healthyVector) Close() error                   { return nil }

type testAPI struct {
	base     string
	sessions *session.Manager
	policy   *session.Policy
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	reg := agent.NewRegistry()
	require.NoError(t, reg.RegisterType("router", routerStub{}.Metadata(),
		func() (agent.Agent, error) { return routerStub{}, nil }))

	cfg := config.Default()
	sessions := session.NewManager(&cfg.Session)
	policy := session.NewPolicy(&cfg.Session)
	orch := orchestrator.New(reg, sessions, policy, session.NewActiveStreams())
	health := retrieval.NewHealthSupervisor(healthyStore{}, healthyVector{}, time.Minute)

	s := New(cfg, orch, sessions, policy, reg, health)
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)

	return &testAPI{base: srv.URL, sessions: sessions, policy: policy}
}

func (a *testAPI) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(a.base+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (a *testAPI) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(a.base + path)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestServer_Chat(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post(t, "/api/chat", map[string]string{"query": "저칼륨 식단", "user_id": "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body agent.Response
	decode(t, resp, &body)
	assert.Equal(t, "답변입니다", body.Answer)
	assert.Equal(t, "router", body.AgentType)
}

func TestServer_ChatRequiresQuery(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post(t, "/api/chat", map[string]string{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_ChatStreamSSE(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post(t, "/api/chat/stream", map[string]string{"query": "질문"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	body := buf.String()
	assert.Contains(t, body, `data: {`)
	assert.Contains(t, body, `"status":"complete"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestServer_SessionLifecycle(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post(t, "/api/sessions", map[string]string{"user_id": "u1", "room_id": "r1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sess session.Session
	decode(t, resp, &sess)
	require.NotEmpty(t, sess.ID)

	api.policy.TrackUsage(sess.ID, "nutrition", 700)

	resp = api.get(t, "/api/sessions/"+sess.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail struct {
		TokenUsage  map[string]int `json:"token_usage"`
		TotalTokens int            `json:"total_tokens"`
	}
	decode(t, resp, &detail)
	assert.Equal(t, 700, detail.TotalTokens)
	assert.Equal(t, 700, detail.TokenUsage["nutrition"])

	resp = api.post(t, "/api/sessions/"+sess.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Zero(t, api.policy.TotalUsage(sess.ID))

	resp = api.get(t, "/api/sessions/does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_RoomsAndHistory(t *testing.T) {
	api := newTestAPI(t)

	sess := api.sessions.CreateSession("u1", "room-1")
	api.sessions.AddToHistory(sess.ID, "nutrition", "질문", "답변")

	resp := api.get(t, "/api/rooms?user_id=u1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rooms struct {
		Rooms []session.RoomInfo `json:"rooms"`
	}
	decode(t, resp, &rooms)
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, "room-1", rooms.Rooms[0].RoomID)

	resp = api.get(t, "/api/rooms/room-1/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		SessionID string                      `json:"session_id"`
		History   []session.ConversationEntry `json:"history"`
	}
	decode(t, resp, &history)
	assert.Equal(t, sess.ID, history.SessionID)
	require.Len(t, history.History, 1)

	resp = api.get(t, "/api/rooms")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = api.get(t, "/api/rooms/no-such-room/history")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_AgentHistoryAcrossRooms(t *testing.T) {
	api := newTestAPI(t)

	a := api.sessions.CreateSession("u1", "room-a")
	b := api.sessions.CreateSession("u1", "room-b")
	api.sessions.AddToHistory(a.ID, "quiz", "q1", "a1")
	api.sessions.AddToHistory(b.ID, "quiz", "q2", "a2")
	api.sessions.AddToHistory(b.ID, "nutrition", "q3", "a3")

	resp := api.get(t, "/api/history/quiz?user_id=u1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		History []session.ConversationEntry `json:"history"`
	}
	decode(t, resp, &body)
	assert.Len(t, body.History, 2, "quiz entries from every room, other agents excluded")
}

func TestServer_ListAgents(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get(t, "/api/agents")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Agents []agent.Metadata `json:"agents"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "router", body.Agents[0].Name)
}

func TestServer_Health(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}
