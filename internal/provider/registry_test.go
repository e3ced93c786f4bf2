package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(memstore.NewProviders(), Config{RetryAfter: 15 * time.Second})
}

func register(t *testing.T, r *Registry, name, cred string) *model.Provider {
	t.Helper()
	p, err := r.Register(context.Background(), Registration{Name: name, Address: "http://" + name + ".local/v1", Credential: cred})
	require.NoError(t, err)
	return p
}

func TestRegisterStartsActive(t *testing.T) {
	r := newRegistry(t)
	p := register(t, r, "alpha", "sk-1")
	assert.True(t, p.Active)
	assert.Zero(t, p.ConsecutiveFailures)
	assert.Equal(t, "http://alpha.local/v1", p.Address)
}

func TestRegisterValidation(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Register(context.Background(), Registration{Name: "x", Address: "not a url"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	register(t, r, "dup", "k")
	_, err = r.Register(context.Background(), Registration{Name: "dup", Address: "http://dup.local"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestTwoConsecutiveFailuresDeactivate(t *testing.T) {
	r := newRegistry(t)
	p := register(t, r, "alpha", "sk-1")
	ctx := context.Background()

	got, err := r.MarkFailure(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, 1, got.ConsecutiveFailures)
	assert.Nil(t, got.MarkedInactiveAt)

	got, err = r.MarkFailure(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.NotNil(t, got.MarkedInactiveAt)

	_, err = r.Select(ctx)
	assert.True(t, apperr.Is(err, apperr.KindNoProvidersAvailable))
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	r := newRegistry(t)
	p := register(t, r, "alpha", "sk-1")
	ctx := context.Background()

	_, _ = r.MarkFailure(ctx, p.ID)
	require.NoError(t, r.MarkSuccess(ctx, p.ID, 200*time.Millisecond))
	got, _ := r.MarkFailure(ctx, p.ID)
	assert.True(t, got.Active, "streak restarted after success")
	assert.Equal(t, 1, got.ConsecutiveFailures)
}

func TestPointsAreMonotonic(t *testing.T) {
	r := newRegistry(t)
	p := register(t, r, "alpha", "sk-1")
	ctx := context.Background()

	n, err := r.AwardPoints(ctx, p.ID, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, _ = r.MarkFailure(ctx, p.ID)
	_, _ = r.MarkFailure(ctx, p.ID)
	n, _ = r.AwardPoints(ctx, p.ID, 99)
	assert.Zero(t, n)

	got, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Points)
}

func TestReactivateRotatesCredential(t *testing.T) {
	r := newRegistry(t)
	p := register(t, r, "alpha", "sk-old")
	ctx := context.Background()
	_, _ = r.MarkFailure(ctx, p.ID)
	_, _ = r.MarkFailure(ctx, p.ID)

	got, err := r.Reactivate(ctx, p.ID, "sk-new")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.Equal(t, "sk-new", got.Credential)

	_, err = r.Reactivate(ctx, "missing", "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSelectEmptySetCarriesRetryAfter(t *testing.T) {
	r := newRegistry(t)
	register(t, r, "nokey", "")

	_, err := r.Select(context.Background())
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, 503, e.Status())
	v, _ := e.Detail("retryAfter")
	assert.Equal(t, 15, v)
}

func TestSelectHonoursExclusions(t *testing.T) {
	r := newRegistry(t)
	a := register(t, r, "alpha", "k1")
	b := register(t, r, "beta", "k2")

	for i := 0; i < 20; i++ {
		got, err := r.Select(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)
	}
	_, err := r.Select(context.Background(), a.ID, b.ID)
	assert.True(t, apperr.Is(err, apperr.KindNoProvidersAvailable))
}

type checkerFunc func(context.Context, model.Provider) error

func (f checkerFunc) Check(ctx context.Context, p model.Provider) error { return f(ctx, p) }

func TestHealthCheckOnlyRecovers(t *testing.T) {
	r := newRegistry(t)
	down := register(t, r, "down", "k1")
	up := register(t, r, "up", "k2")
	ctx := context.Background()
	_, _ = r.MarkFailure(ctx, up.ID)
	_, _ = r.MarkFailure(ctx, up.ID)

	pr := &Prober{Registry: r, Checker: checkerFunc(func(_ context.Context, p model.Provider) error {
		if p.ID == down.ID {
			return errors.New("connection refused")
		}
		return nil
	})}

	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, pr.ProbeOnce(ctx))
	}

	got, _ := r.Get(ctx, up.ID)
	assert.True(t, got.Active)
	assert.Zero(t, got.ConsecutiveFailures)

	got, _ = r.Get(ctx, down.ID)
	assert.True(t, got.Active, "failed probes never deactivate")
	assert.Zero(t, got.ConsecutiveFailures)
	assert.Zero(t, got.TotalRequests)
	assert.Nil(t, got.MarkedInactiveAt)
}

func TestHealthCheckKeepsDispatchFailureStreak(t *testing.T) {
	r := newRegistry(t)
	p := register(t, r, "alpha", "k1")
	ctx := context.Background()

	_, _ = r.MarkFailure(ctx, p.ID)
	require.NoError(t, r.ApplyProbe(ctx, p.ID, false))
	require.NoError(t, r.ApplyProbe(ctx, p.ID, true))

	got, _ := r.Get(ctx, p.ID)
	assert.True(t, got.Active)
	assert.Equal(t, 1, got.ConsecutiveFailures)
}

func TestNoProvidersRetryAfterRoundsUp(t *testing.T) {
	r := NewRegistry(memstore.NewProviders(), Config{RetryAfter: 400 * time.Millisecond})
	v, _ := r.NoProvidersError().Detail("retryAfter")
	assert.Equal(t, 1, v)

	r = NewRegistry(memstore.NewProviders(), Config{RetryAfter: 2500 * time.Millisecond})
	v, _ = r.NoProvidersError().Detail("retryAfter")
	assert.Equal(t, 3, v)
}

func TestWeightedPolicyPrefersReputation(t *testing.T) {
	cands := []model.Provider{{ID: "a", Points: 0}, {ID: "b", Points: 999}}
	hits := 0
	for i := 0; i < 200; i++ {
		if WeightedByReputation(cands).ID == "b" {
			hits++
		}
	}
	assert.Greater(t, hits, 150)

	_, err := PolicyByName("round-robin")
	assert.Error(t, err)
}

func TestApplySuccessRollingLatency(t *testing.T) {
	p := model.Provider{}
	ApplySuccess(&p, 100*time.Millisecond)
	assert.InDelta(t, 100, p.AvgResponseMs, 0.001)
	ApplySuccess(&p, 200*time.Millisecond)
	assert.InDelta(t, 120, p.AvgResponseMs, 0.001)
}
