package session

import (
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/renalworks/nefro/pkg/config"
)

// Policy is the token-accounting and admission-control layer. It keeps a
// per-session ledger of tokens used per agent, refuses requests that would
// push a session past its ceiling, and garbage-collects ledgers whose
// sessions have expired.
type Policy struct {
	maxTokens int
	expiry    time.Duration

	mu      sync.Mutex
	ledgers map[string]*ledger

	encoder *tiktoken.Tiktoken
	now     func() time.Time
}

type ledger struct {
	usage      map[string]int // agent_type -> tokens
	lastAccess time.Time
}

// LimitCheck is the admission verdict for one prospective request.
type LimitCheck struct {
	WithinLimit  bool `json:"within_limit"`
	CurrentUsage int  `json:"current_usage"`
	MaxLimit     int  `json:"max_limit"`
	Remaining    int  `json:"remaining"`
	WouldExceed  bool `json:"would_exceed"`
}

func NewPolicy(cfg *config.SessionConfig) *Policy {
	// Encoder load can fail offline; the estimator then falls back to a
	// character heuristic.
	encoder, _ := tiktoken.GetEncoding("cl100k_base")

	return &Policy{
		maxTokens: cfg.MaxContextTokens,
		expiry:    time.Duration(cfg.SessionExpiry) * time.Hour,
		ledgers:   make(map[string]*ledger),
		encoder:   encoder,
		now:       time.Now,
	}
}

// EstimateTokens counts tokens for admission control.
func (p *Policy) EstimateTokens(text string) int {
	if p.encoder != nil {
		return len(p.encoder.Encode(text, nil, nil))
	}
	return len([]rune(text)) / 4
}

// TrackUsage records actual tokens consumed by one agent call.
func (p *Policy) TrackUsage(sessionID, agentType string, tokens int) {
	if tokens <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.gcLocked()

	l, ok := p.ledgers[sessionID]
	if !ok {
		l = &ledger{usage: make(map[string]int)}
		p.ledgers[sessionID] = l
	}
	l.usage[agentType] += tokens
	l.lastAccess = p.now()
}

// TotalUsage sums tokens across agents for one session.
func (p *Policy) TotalUsage(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gcLocked()

	l, ok := p.ledgers[sessionID]
	if !ok {
		return 0
	}
	l.lastAccess = p.now()
	return l.totalLocked()
}

// UsageByAgent returns a copy of the per-agent ledger.
func (p *Policy) UsageByAgent(sessionID string) map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.ledgers[sessionID]
	if !ok {
		return map[string]int{}
	}
	usage := make(map[string]int, len(l.usage))
	for agent, tokens := range l.usage {
		usage[agent] = tokens
	}
	return usage
}

// CheckLimit decides whether a request estimated at estimatedTokens may be
// dispatched. The check runs before dispatch; the ledger is updated with
// actual usage afterwards.
func (p *Policy) CheckLimit(sessionID string, estimatedTokens int) LimitCheck {
	current := p.TotalUsage(sessionID)
	remaining := p.maxTokens - current
	if remaining < 0 {
		remaining = 0
	}

	return LimitCheck{
		WithinLimit:  current < p.maxTokens,
		CurrentUsage: current,
		MaxLimit:     p.maxTokens,
		Remaining:    remaining,
		WouldExceed:  current+estimatedTokens > p.maxTokens,
	}
}

// Reset drops the ledger for one session.
func (p *Policy) Reset(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ledgers, sessionID)
}

// gcLocked removes ledgers untouched for longer than the expiry window.
func (p *Policy) gcLocked() {
	cutoff := p.now().Add(-p.expiry)
	for id, l := range p.ledgers {
		if l.lastAccess.Before(cutoff) {
			delete(p.ledgers, id)
		}
	}
}

func (l *ledger) totalLocked() int {
	total := 0
	for _, tokens := range l.usage {
		total += tokens
	}
	return total
}
