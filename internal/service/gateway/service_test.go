package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/accounting"
	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/dispatcher"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/provider"
	"github.com/jmehdipour/inference-gateway/internal/quota"
	"github.com/jmehdipour/inference-gateway/internal/ratelimit"
	"github.com/jmehdipour/inference-gateway/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDispatcher fails for provider names in fail and reports health the
// way the real dispatcher does.
type scriptedDispatcher struct {
	registry *provider.Registry
	fail     map[string]bool

	mu    sync.Mutex
	calls []string
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, p model.Provider, req model.InferenceRequest) (model.DispatchResult, error) {
	d.mu.Lock()
	d.calls = append(d.calls, p.Name)
	d.mu.Unlock()

	if d.fail[p.Name] {
		_, _ = d.registry.MarkFailure(ctx, p.ID)
		return model.DispatchResult{}, &dispatcher.DispatchError{ProviderID: p.ID, Reason: dispatcher.ReasonUpstreamStatus, Err: errors.New("500")}
	}
	_ = d.registry.MarkSuccess(ctx, p.ID, 10*time.Millisecond)
	return model.DispatchResult{ProviderID: p.ID, Model: "llama", Content: "ok", TotalTokens: 300}, nil
}

type fixture struct {
	svc      *Service
	registry *provider.Registry
	limiter  *ratelimit.Limiter
	disp     *scriptedDispatcher
	usage    *memstore.Usage
}

func firstCandidate(c []model.Provider) model.Provider { return c[0] }

func newFixture(t *testing.T, burstCap int, providers ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	reg := provider.NewRegistry(memstore.NewProviders(), provider.Config{Policy: firstCandidate, RetryAfter: 20 * time.Second})
	for _, name := range providers {
		_, err := reg.Register(ctx, provider.Registration{Name: name, Address: "http://" + name + ".local", Credential: "k-" + name})
		require.NoError(t, err)
	}

	usage := memstore.NewUsage()
	ledger := quota.NewLedger(memstore.NewQuota(memstore.NewAPIKeys()))
	limiter := ratelimit.New(ratelimit.Config{Window: time.Minute, Cap: burstCap}, memstore.NewWindows())
	limiter.OnExceeded(nil)
	disp := &scriptedDispatcher{registry: reg, fail: map[string]bool{}}

	svc := New(Deps{
		Ledger:     ledger,
		Limiter:    limiter,
		Registry:   reg,
		Dispatcher: disp,
		Catalog:    dispatcher.NewCatalog(nil, time.Minute),
		Accountant: accounting.New(usage, ledger, reg, nil),
		Reports:    usage,
		Retries:    1,
	})
	return &fixture{svc: svc, registry: reg, limiter: limiter, disp: disp, usage: usage}
}

func anon(token string) model.Identity {
	return model.Identity{Kind: model.KindAnonymous, Tier: model.TierFor(model.KindAnonymous), Token: token}
}

var chat = model.InferenceRequest{Intent: model.IntentChat, Messages: []model.Message{{Role: "user", Content: "hi"}}}

func TestInferSuccessConsumesQuota(t *testing.T) {
	f := newFixture(t, 50, "alpha")
	out, err := f.svc.Infer(context.Background(), anon("s"), "s", chat)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Result.Content)
	assert.Equal(t, 1, out.Quota.Used)
	assert.Equal(t, 99, out.Quota.Remaining)

	bal, err := f.svc.Balance(context.Background(), anon("s"))
	require.NoError(t, err)
	assert.Equal(t, 1, bal.Used)
}

func TestInferRetriesOnDifferentProvider(t *testing.T) {
	f := newFixture(t, 50, "bad", "good")
	f.disp.fail["bad"] = true

	out, err := f.svc.Infer(context.Background(), anon("s"), "s", chat)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad", "good"}, f.disp.calls)
	assert.Equal(t, 1, out.Quota.Used, "retry never consumes quota twice")

	d, _ := f.limiter.Admit(context.Background(), "s", time.Now())
	assert.Equal(t, 2, d.Count, "the retry charged one burst slot")

	var failed, ok int
	for _, r := range f.usage.All() {
		if r.Status == model.UsageFailed {
			failed++
		} else {
			ok++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, ok)
}

func TestInferSurfacesUpstreamErrorAfterRetry(t *testing.T) {
	f := newFixture(t, 50, "a", "b", "c")
	f.disp.fail["a"] = true
	f.disp.fail["b"] = true

	_, err := f.svc.Infer(context.Background(), anon("s"), "s", chat)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindUpstream, e.Kind)
	assert.Equal(t, 502, e.Status())
	assert.Len(t, f.disp.calls, 2, "exactly one retry")

	bal, _ := f.svc.Balance(context.Background(), anon("s"))
	assert.Zero(t, bal.Used)
}

func TestInferLastProviderGoingDownIsNoProviders(t *testing.T) {
	f := newFixture(t, 50, "only")
	f.disp.fail["only"] = true
	ps, _ := f.registry.List(context.Background())
	_, _ = f.registry.MarkFailure(context.Background(), ps[0].ID)

	_, err := f.svc.Infer(context.Background(), anon("s"), "s", chat)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNoProvidersAvailable, e.Kind)
	v, _ := e.Detail("retryAfter")
	assert.Equal(t, 20, v)
}

func TestInferNoProviders(t *testing.T) {
	f := newFixture(t, 50)
	_, err := f.svc.Infer(context.Background(), anon("s"), "s", chat)
	assert.True(t, apperr.Is(err, apperr.KindNoProvidersAvailable))
	assert.Empty(t, f.disp.calls)
}

func TestInferRetryStopsWhenBurstExhausted(t *testing.T) {
	f := newFixture(t, 1, "bad", "good")
	f.disp.fail["bad"] = true
	_, _ = f.limiter.Admit(context.Background(), "s", time.Now())

	_, err := f.svc.Infer(context.Background(), anon("s"), "s", chat)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindUpstream, e.Kind)
	assert.Equal(t, []string{"bad"}, f.disp.calls)

	why, _ := e.Detail("retry")
	assert.Equal(t, "burst_limited", why)
	after, ok := e.Detail("retryAfter")
	require.True(t, ok)
	assert.Greater(t, after, 0)
}

func TestInferUpstreamErrorWithoutBurstCutHasNoRetryHint(t *testing.T) {
	f := newFixture(t, 50, "a", "b")
	f.disp.fail["a"] = true
	f.disp.fail["b"] = true

	_, err := f.svc.Infer(context.Background(), anon("s"), "s", chat)
	e, ok := apperr.As(err)
	require.True(t, ok)
	_, has := e.Detail("retry")
	assert.False(t, has)
	_, has = e.Detail("retryAfter")
	assert.False(t, has)
}

func TestInferQuotaPrecheck(t *testing.T) {
	f := newFixture(t, 50, "alpha")
	id := anon("s")
	id.Tier.DailyLimit = 1

	_, err := f.svc.Infer(context.Background(), id, "s", chat)
	require.NoError(t, err)
	_, err = f.svc.Infer(context.Background(), id, "s", chat)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindQuotaExceeded, e.Kind)
	v, _ := e.Detail("remaining")
	assert.Equal(t, 0, v)
	assert.Len(t, f.disp.calls, 1, "no dispatch once the quota is spent")
}

func TestUsageRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, 50, "alpha")
	_, err := f.svc.Usage(context.Background(), anon("s"), "pending", 10, 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, _ = f.svc.Infer(context.Background(), anon("s"), "s", chat)
	recs, err := f.svc.Usage(context.Background(), anon("s"), model.UsageSuccess, 10, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
