package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingCountingStore struct {
	fakeStore
	pings   int
	pingErr error
}

func (p *pingCountingStore) Ping(ctx context.Context) error {
	p.pings++
	return p.pingErr
}

func TestHealthSupervisor_CachesVerdictPerInterval(t *testing.T) {
	store := &pingCountingStore{}
	h := NewHealthSupervisor(store, &fakeVector{}, time.Minute)

	require.NoError(t, h.Check(context.Background()))
	require.NoError(t, h.Check(context.Background()))
	assert.Equal(t, 1, store.pings, "callers inside the interval share one probe")
}

func TestHealthSupervisor_ReportsUnreachableStore(t *testing.T) {
	store := &pingCountingStore{pingErr: errors.New("connection refused")}
	h := NewHealthSupervisor(store, &fakeVector{}, time.Minute)

	// A cancelled context cuts the reconnect backoff short.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Check(ctx)
	require.Error(t, err)
	assert.Error(t, h.Check(context.Background()), "the cached verdict stays until the next interval")
}
