package session

import (
	"sync"
	"time"
)

// StreamState tracks one in-flight streaming response. Cancellation is
// cooperative: a control endpoint raises the flag, the streaming loop
// observes it between chunks.
type StreamState struct {
	mu              sync.Mutex
	cancelRequested bool
	partialResponse string
	startedAt       time.Time
}

func (s *StreamState) RequestCancel() {
	s.mu.Lock()
	s.cancelRequested = true
	s.mu.Unlock()
}

func (s *StreamState) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

func (s *StreamState) AppendPartial(content string) {
	s.mu.Lock()
	s.partialResponse += content
	s.mu.Unlock()
}

func (s *StreamState) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partialResponse
}

func (s *StreamState) StartedAt() time.Time {
	return s.startedAt
}

// ActiveStreams maps session ids to their in-flight stream.
type ActiveStreams struct {
	mu      sync.Mutex
	streams map[string]*StreamState
}

func NewActiveStreams() *ActiveStreams {
	return &ActiveStreams{streams: make(map[string]*StreamState)}
}

// Register opens stream tracking for a session, replacing any stale entry.
func (a *ActiveStreams) Register(sessionID string) *StreamState {
	state := &StreamState{startedAt: time.Now()}
	a.mu.Lock()
	a.streams[sessionID] = state
	a.mu.Unlock()
	return state
}

// Get returns the live stream for a session, if any.
func (a *ActiveStreams) Get(sessionID string) (*StreamState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.streams[sessionID]
	return state, ok
}

// RequestCancel raises the cancel flag. It reports whether a stream was
// actually live.
func (a *ActiveStreams) RequestCancel(sessionID string) bool {
	a.mu.Lock()
	state, ok := a.streams[sessionID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	state.RequestCancel()
	return true
}

// Remove drops the tracking entry once the stream finishes.
func (a *ActiveStreams) Remove(sessionID string) {
	a.mu.Lock()
	delete(a.streams, sessionID)
	a.mu.Unlock()
}
