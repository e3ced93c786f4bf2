package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var anon = model.Identity{Kind: model.KindAnonymous, Tier: model.TierFor(model.KindAnonymous), Token: "s1"}

func newLedger(start time.Time) (*Ledger, *fakeClock) {
	clk := &fakeClock{t: start}
	l := NewLedger(memstore.NewQuota(memstore.NewAPIKeys())).WithClock(clk.Now)
	return l, clk
}

func consumeN(t *testing.T, l *Ledger, id model.Identity, limit, n int) Result {
	t.Helper()
	var r Result
	var err error
	for i := 0; i < n; i++ {
		r, err = l.CheckAndConsume(context.Background(), id, limit)
		require.NoError(t, err)
	}
	return r
}

func TestCheckAndConsumeStopsAtLimit(t *testing.T) {
	l, _ := newLedger(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	r := consumeN(t, l, anon, 3, 3)
	assert.True(t, r.Allowed)
	assert.Equal(t, 3, r.Used)
	assert.Equal(t, 0, r.Remaining)

	r, err := l.CheckAndConsume(context.Background(), anon, 3)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Equal(t, 3, r.Used, "used must not grow past limit")
	assert.Equal(t, 0, r.Remaining)
}

func TestNinetyNineToHundredScenario(t *testing.T) {
	l, _ := newLedger(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	consumeN(t, l, anon, 100, 99)

	r, err := l.CheckAndConsume(context.Background(), anon, 100)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, 100, r.Used)

	r, err = l.CheckAndConsume(context.Background(), anon, 100)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Equal(t, 0, r.Remaining)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), r.ResetTime)
}

func TestResetsAtUTCMidnight(t *testing.T) {
	l, clk := newLedger(time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC))
	consumeN(t, l, anon, 5, 5)

	clk.Set(time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC))
	peek, err := l.Peek(context.Background(), anon, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, peek.Used, "lazy reset on read")

	r, err := l.CheckAndConsume(context.Background(), anon, 5)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, 1, r.Used, "only the post-midnight request counts")
}

func TestDayBoundaryIgnoresCallerZone(t *testing.T) {
	tehran := time.FixedZone("IRST", 3*3600+1800)
	// 01:00 local on the 2nd is still the 1st in UTC.
	local := time.Date(2026, 3, 2, 1, 0, 0, 0, tehran)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), DayStart(local))
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), NextReset(local))
}

func TestConcurrentLastSlotOnlyOneWins(t *testing.T) {
	l, _ := newLedger(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	consumeN(t, l, anon, 10, 9)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.CheckAndConsume(context.Background(), anon, 10)
			if err == nil && r.Allowed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	peek, _ := l.Peek(context.Background(), anon, 10)
	assert.Equal(t, 10, peek.Used)
}

func TestExceededErrorDetails(t *testing.T) {
	e := ExceededError(Result{Limit: 100, Used: 100, ResetTime: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)})
	v, _ := e.Detail("remaining")
	assert.Equal(t, 0, v)
	v, _ = e.Detail("resetTime")
	assert.Equal(t, "2026-03-02T00:00:00Z", v)
}
