package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renalworks/nefro/pkg/config"
)

// Manager owns all live sessions. Sessions are sharded by id hash so
// unrelated conversations never contend on one lock.
type Manager struct {
	shards         []*shard
	sessionTimeout time.Duration
	idleTimeout    time.Duration

	roomMu sync.RWMutex
	rooms  map[string]map[string]string // user_id -> room_id -> session_id
	byRoom map[string]string            // room_id -> session_id

	now func() time.Time
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg *config.SessionConfig) *Manager {
	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return &Manager{
		shards:         shards,
		sessionTimeout: time.Duration(cfg.SessionTimeout) * time.Minute,
		idleTimeout:    time.Duration(cfg.IdleTimeout) * time.Minute,
		rooms:          make(map[string]map[string]string),
		byRoom:         make(map[string]string),
		now:            time.Now,
	}
}

func (m *Manager) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// CreateSession makes a new session and registers its room under the user.
// An empty roomID gets a generated one.
func (m *Manager) CreateSession(userID, roomID string) *Session {
	if roomID == "" {
		roomID = uuid.NewString()
	}

	now := m.now()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		RoomID:       roomID,
		CreatedAt:    now,
		LastActivity: now,
	}

	sh := m.shardFor(sess.ID)
	sh.mu.Lock()
	sh.sessions[sess.ID] = sess
	sh.mu.Unlock()

	m.roomMu.Lock()
	if userID != "" {
		if m.rooms[userID] == nil {
			m.rooms[userID] = make(map[string]string)
		}
		m.rooms[userID][roomID] = sess.ID
	}
	m.byRoom[roomID] = sess.ID
	m.roomMu.Unlock()

	return sess
}

// GetSession returns a copy of the session, or nil when it does not exist
// or its absolute lifetime has run out. With checkIdle set, an idle
// session keeps its identity but loses its history.
func (m *Manager) GetSession(sessionID string, checkIdle bool) *Session {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess := m.live(sh, sessionID, checkIdle)
	if sess == nil {
		return nil
	}

	copied := *sess
	copied.History = append([]ConversationEntry(nil), sess.History...)
	return &copied
}

// live applies expiry to the stored session and returns it, or nil when it
// is gone. An idle purge drops the history and counts as activity, so the
// purged session reports a fresh LastActivity. Caller holds the shard lock.
func (m *Manager) live(sh *shard, sessionID string, checkIdle bool) *Session {
	sess, ok := sh.sessions[sessionID]
	if !ok {
		return nil
	}

	now := m.now()
	if now.Sub(sess.CreatedAt) > m.sessionTimeout {
		delete(sh.sessions, sessionID)
		m.unregisterRoom(sess)
		return nil
	}
	if checkIdle && now.Sub(sess.LastActivity) > m.idleTimeout {
		sess.History = nil
		sess.LastActivity = now
	}
	return sess
}

func (m *Manager) unregisterRoom(sess *Session) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()
	if rooms, ok := m.rooms[sess.UserID]; ok {
		delete(rooms, sess.RoomID)
	}
	delete(m.byRoom, sess.RoomID)
}

// UpdateActivity stamps the session and optionally the last agent used.
func (m *Manager) UpdateActivity(sessionID, agentType string) bool {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[sessionID]
	if !ok {
		return false
	}
	sess.LastActivity = m.now()
	if agentType != "" {
		sess.LastAgent = agentType
	}
	return true
}

// AddToHistory appends one exchange. History is append-only.
func (m *Manager) AddToHistory(sessionID, agentType, userInput, agentResponse string) bool {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[sessionID]
	if !ok {
		return false
	}
	sess.History = append(sess.History, ConversationEntry{
		Timestamp:     m.now(),
		AgentType:     agentType,
		UserInput:     userInput,
		AgentResponse: agentResponse,
	})
	sess.LastActivity = m.now()
	sess.LastAgent = agentType
	return true
}

// History returns the most recent limit entries in chronological order.
// A non-positive limit returns everything.
func (m *Manager) History(sessionID string, limit int) []ConversationEntry {
	sess := m.GetSession(sessionID, true)
	if sess == nil {
		return nil
	}
	return tail(sess.History, limit)
}

// HistoryByAgent filters the history to one agent type.
func (m *Manager) HistoryByAgent(sessionID, agentType string, limit int) []ConversationEntry {
	sess := m.GetSession(sessionID, true)
	if sess == nil {
		return nil
	}

	filtered := make([]ConversationEntry, 0, len(sess.History))
	for _, entry := range sess.History {
		if entry.AgentType == agentType {
			filtered = append(filtered, entry)
		}
	}
	return tail(filtered, limit)
}

func tail(entries []ConversationEntry, limit int) []ConversationEntry {
	if limit > 0 && len(entries) > limit {
		return entries[len(entries)-limit:]
	}
	return entries
}

// ListRooms returns the user's rooms. Ordering is unspecified; callers
// sort by last activity as needed.
func (m *Manager) ListRooms(userID string) []RoomInfo {
	m.roomMu.RLock()
	roomMap := make(map[string]string, len(m.rooms[userID]))
	for roomID, sessionID := range m.rooms[userID] {
		roomMap[roomID] = sessionID
	}
	m.roomMu.RUnlock()

	infos := make([]RoomInfo, 0, len(roomMap))
	for roomID, sessionID := range roomMap {
		if info, ok := m.peekRoom(roomID, sessionID); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// peekRoom reads the listing fields in place, without copying the history.
func (m *Manager) peekRoom(roomID, sessionID string) (RoomInfo, bool) {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess := m.live(sh, sessionID, true)
	if sess == nil {
		return RoomInfo{}, false
	}

	info := RoomInfo{
		RoomID:       roomID,
		SessionID:    sessionID,
		LastAgent:    sess.LastAgent,
		LastActivity: sess.LastActivity,
	}
	if n := len(sess.History); n > 0 {
		info.LastMessage = sess.History[n-1].UserInput
	}
	return info, true
}

// RoomHistory resolves a room to its session and returns its history.
func (m *Manager) RoomHistory(roomID string, limit int) ([]ConversationEntry, string) {
	m.roomMu.RLock()
	sessionID, ok := m.byRoom[roomID]
	m.roomMu.RUnlock()
	if !ok {
		return nil, ""
	}
	return m.History(sessionID, limit), sessionID
}

// ResetContext drops the history while keeping the session alive.
func (m *Manager) ResetContext(sessionID string) bool {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[sessionID]
	if !ok {
		return false
	}
	sess.History = nil
	sess.LastActivity = m.now()
	return true
}

// CloseSession removes the session entirely.
func (m *Manager) CloseSession(sessionID string) bool {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	sess, ok := sh.sessions[sessionID]
	if ok {
		delete(sh.sessions, sessionID)
	}
	sh.mu.Unlock()

	if ok {
		m.unregisterRoom(sess)
	}
	return ok
}

// Count reports live sessions across all shards.
func (m *Manager) Count() int {
	total := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		total += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return total
}
