package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalworks/nefro/pkg/config"
)

func newTestManager() (*Manager, *time.Time) {
	m := NewManager(&config.SessionConfig{
		SessionTimeout: 30, // minutes
		IdleTimeout:    10, // minutes
		Shards:         16,
	})
	now := time.Unix(10000, 0)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestManager_CreateAndGet(t *testing.T) {
	m, _ := newTestManager()

	sess := m.CreateSession("user-1", "room-1")
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, "room-1", sess.RoomID)

	got := m.GetSession(sess.ID, false)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, 1, m.Count())
}

func TestManager_EmptyRoomGetsGenerated(t *testing.T) {
	m, _ := newTestManager()

	a := m.CreateSession("user-1", "")
	b := m.CreateSession("user-1", "")
	assert.NotEmpty(t, a.RoomID)
	assert.NotEqual(t, a.RoomID, b.RoomID)
}

func TestManager_AbsoluteTimeoutEvicts(t *testing.T) {
	m, now := newTestManager()

	sess := m.CreateSession("user-1", "room-1")

	*now = now.Add(30 * time.Minute)
	assert.NotNil(t, m.GetSession(sess.ID, false), "still alive at the boundary")

	*now = now.Add(time.Second)
	assert.Nil(t, m.GetSession(sess.ID, false))
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.ListRooms("user-1"), "eviction unregisters the room")
}

func TestManager_IdlePurgeKeepsSessionDropsHistory(t *testing.T) {
	m, now := newTestManager()

	sess := m.CreateSession("user-1", "room-1")
	require.True(t, m.AddToHistory(sess.ID, "nutrition", "질문", "답변"))

	*now = now.Add(11 * time.Minute)
	got := m.GetSession(sess.ID, true)
	require.NotNil(t, got, "idle sessions keep their identity")
	assert.Empty(t, got.History, "idle sessions lose their history")
	assert.Equal(t, *now, got.LastActivity, "the purge counts as activity")

	// A skipped idle check leaves the already-purged history alone but the
	// session stays addressable either way.
	assert.True(t, m.UpdateActivity(sess.ID, "quiz"))
}

func TestManager_HistoryAppendOnlyAndTail(t *testing.T) {
	m, _ := newTestManager()
	sess := m.CreateSession("user-1", "room-1")

	for _, q := range []string{"q1", "q2", "q3"} {
		require.True(t, m.AddToHistory(sess.ID, "nutrition", q, "a"))
	}
	require.True(t, m.AddToHistory(sess.ID, "quiz", "q4", "a"))

	full := m.History(sess.ID, 0)
	require.Len(t, full, 4)
	assert.Equal(t, "q1", full[0].UserInput)
	assert.Equal(t, "q4", full[3].UserInput)

	last2 := m.History(sess.ID, 2)
	require.Len(t, last2, 2)
	assert.Equal(t, "q3", last2[0].UserInput)

	quizOnly := m.HistoryByAgent(sess.ID, "quiz", 0)
	require.Len(t, quizOnly, 1)
	assert.Equal(t, "q4", quizOnly[0].UserInput)
}

func TestManager_GetSessionReturnsCopy(t *testing.T) {
	m, _ := newTestManager()
	sess := m.CreateSession("user-1", "room-1")
	require.True(t, m.AddToHistory(sess.ID, "nutrition", "q1", "a1"))

	got := m.GetSession(sess.ID, false)
	got.History[0].UserInput = "tampered"
	got.History = append(got.History, ConversationEntry{UserInput: "injected"})

	fresh := m.History(sess.ID, 0)
	require.Len(t, fresh, 1)
	assert.Equal(t, "q1", fresh[0].UserInput)
}

func TestManager_RoomsListingAndHistory(t *testing.T) {
	m, _ := newTestManager()

	a := m.CreateSession("user-1", "room-a")
	m.CreateSession("user-1", "room-b")
	m.CreateSession("user-2", "room-c")

	require.True(t, m.AddToHistory(a.ID, "nutrition", "마지막 질문", "답"))

	rooms := m.ListRooms("user-1")
	require.Len(t, rooms, 2)
	byRoom := make(map[string]RoomInfo, len(rooms))
	for _, r := range rooms {
		byRoom[r.RoomID] = r
	}
	assert.Equal(t, a.ID, byRoom["room-a"].SessionID)
	assert.Equal(t, "마지막 질문", byRoom["room-a"].LastMessage)
	assert.Equal(t, "nutrition", byRoom["room-a"].LastAgent)

	entries, sessionID := m.RoomHistory("room-a", 0)
	assert.Equal(t, a.ID, sessionID)
	require.Len(t, entries, 1)

	entries, sessionID = m.RoomHistory("no-such-room", 0)
	assert.Nil(t, entries)
	assert.Empty(t, sessionID)
}

func TestManager_RoomListingAfterIdlePurge(t *testing.T) {
	m, now := newTestManager()
	sess := m.CreateSession("user-1", "room-1")
	require.True(t, m.AddToHistory(sess.ID, "nutrition", "질문", "답변"))

	*now = now.Add(11 * time.Minute)
	rooms := m.ListRooms("user-1")
	require.Len(t, rooms, 1)
	assert.Equal(t, sess.ID, rooms[0].SessionID)
	assert.Empty(t, rooms[0].LastMessage, "purged history leaves no last message")
	assert.Equal(t, *now, rooms[0].LastActivity)
}

func TestManager_ResetContextKeepsSession(t *testing.T) {
	m, _ := newTestManager()
	sess := m.CreateSession("user-1", "room-1")
	require.True(t, m.AddToHistory(sess.ID, "nutrition", "q", "a"))

	require.True(t, m.ResetContext(sess.ID))
	assert.Empty(t, m.History(sess.ID, 0))
	assert.NotNil(t, m.GetSession(sess.ID, false))
}

func TestManager_CloseSession(t *testing.T) {
	m, _ := newTestManager()
	sess := m.CreateSession("user-1", "room-1")

	require.True(t, m.CloseSession(sess.ID))
	assert.Nil(t, m.GetSession(sess.ID, false))
	assert.Empty(t, m.ListRooms("user-1"))
	assert.False(t, m.CloseSession(sess.ID), "double close reports false")
}
