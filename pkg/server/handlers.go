package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/orchestrator"
	"github.com/renalworks/nefro/pkg/session"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := s.orch.Chat(r.Context(), &req)
	if err != nil {
		s.logger.Error("chat failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatStream emits server-sent events: one data line per chunk and a
// final [DONE] sentinel. Client disconnect cancels the request context and
// terminates the generator.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	chunks, err := s.orch.ChatStream(r.Context(), &req)
	if err != nil {
		s.logger.Error("stream failed to start", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	cancelled := s.orch.CancelStream(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"cancelled":  cancelled,
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	rooms := s.sessions.ListRooms(userID)
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].LastActivity.After(rooms[j].LastActivity)
	})
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Server) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	entries, sessionID := s.sessions.RoomHistory(roomID, queryLimit(r))
	if sessionID == "" {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":    roomID,
		"session_id": sessionID,
		"history":    entries,
	})
}

func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	agentType := chi.URLParam(r, "agent_type")
	limit := queryLimit(r)

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		entries := s.sessions.HistoryByAgent(sessionID, agentType, limit)
		writeJSON(w, http.StatusOK, map[string]any{"agent_type": agentType, "history": entries})
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "session_id or user_id is required")
		return
	}

	var entries []session.ConversationEntry
	for _, room := range s.sessions.ListRooms(userID) {
		entries = append(entries, s.sessions.HistoryByAgent(room.SessionID, agentType, 0)...)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_type": agentType, "history": entries})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		RoomID string `json:"room_id"`
	}
	if r.Body != nil {
		// Body is optional; an anonymous session has no user.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sess := s.sessions.CreateSession(req.UserID, req.RoomID)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	sess := s.sessions.GetSession(sessionID, true)
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":      sess,
		"token_usage":  s.policy.UsageByAgent(sessionID),
		"total_tokens": s.policy.TotalUsage(sessionID),
	})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if !s.sessions.ResetContext(sessionID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.policy.Reset(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "reset": true})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	info := s.registry.AgentsInfo()
	agents := make([]agent.Metadata, 0, len(info))
	for _, tag := range s.registry.ListAgents() {
		agents = append(agents, info[tag])
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.health.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
