package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalworks/nefro/pkg/config"
)

func newTestPolicy(maxTokens int) (*Policy, *time.Time) {
	p := NewPolicy(&config.SessionConfig{
		MaxContextTokens: maxTokens,
		SessionExpiry:    24, // hours
	})
	now := time.Unix(10000, 0)
	p.now = func() time.Time { return now }
	return p, &now
}

func TestPolicy_TrackAndTotal(t *testing.T) {
	p, _ := newTestPolicy(20000)

	p.TrackUsage("s1", "nutrition", 120)
	p.TrackUsage("s1", "nutrition", 80)
	p.TrackUsage("s1", "research_paper", 300)
	p.TrackUsage("s1", "quiz", 0)
	p.TrackUsage("s1", "quiz", -5)
	p.TrackUsage("s2", "quiz", 40)

	assert.Equal(t, 500, p.TotalUsage("s1"))
	assert.Equal(t, 40, p.TotalUsage("s2"))
	assert.Equal(t, 0, p.TotalUsage("unknown"))

	usage := p.UsageByAgent("s1")
	assert.Equal(t, map[string]int{"nutrition": 200, "research_paper": 300}, usage)
}

func TestPolicy_CheckLimitBoundary(t *testing.T) {
	p, _ := newTestPolicy(20000)
	p.TrackUsage("s1", "nutrition", 19999)

	check := p.CheckLimit("s1", 1)
	assert.True(t, check.WithinLimit)
	assert.False(t, check.WouldExceed, "landing exactly on the ceiling is admitted")
	assert.Equal(t, 1, check.Remaining)

	check = p.CheckLimit("s1", 2)
	assert.True(t, check.WouldExceed)

	p.TrackUsage("s1", "nutrition", 1)
	check = p.CheckLimit("s1", 1)
	assert.False(t, check.WithinLimit)
	assert.True(t, check.WouldExceed)
	assert.Equal(t, 0, check.Remaining)
	assert.Equal(t, 20000, check.CurrentUsage)
	assert.Equal(t, 20000, check.MaxLimit)
}

func TestPolicy_ResetDropsLedger(t *testing.T) {
	p, _ := newTestPolicy(20000)
	p.TrackUsage("s1", "nutrition", 500)

	p.Reset("s1")
	assert.Equal(t, 0, p.TotalUsage("s1"))
	assert.Empty(t, p.UsageByAgent("s1"))
}

func TestPolicy_ExpiredLedgersAreCollected(t *testing.T) {
	p, now := newTestPolicy(20000)

	p.TrackUsage("stale", "nutrition", 500)

	*now = now.Add(12 * time.Hour)
	p.TrackUsage("fresh", "quiz", 100)

	// The stale ledger's last access was 25h ago, past the 24h window; the
	// fresh one was touched 13h ago and survives.
	*now = now.Add(13 * time.Hour)
	p.TrackUsage("trigger", "quiz", 1)

	assert.Equal(t, 0, p.TotalUsage("stale"))
	assert.Equal(t, 100, p.TotalUsage("fresh"))
}

func TestPolicy_EstimateTokens(t *testing.T) {
	p, _ := newTestPolicy(20000)

	assert.Zero(t, p.EstimateTokens(""))
	assert.Greater(t, p.EstimateTokens("투석 환자의 저칼륨 식단을 알려주세요"), 0)
	assert.Greater(t, p.EstimateTokens("long question about chronic kidney disease staging"), 4)
}

func TestPolicy_FallbackEstimatorWithoutEncoder(t *testing.T) {
	p, _ := newTestPolicy(20000)
	p.encoder = nil

	require.Equal(t, 0, p.EstimateTokens("abc"))
	assert.Equal(t, 4, p.EstimateTokens("sixteen chars ab"))
}
