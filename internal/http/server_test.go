package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/accounting"
	"github.com/jmehdipour/inference-gateway/internal/dispatcher"
	"github.com/jmehdipour/inference-gateway/internal/identity"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/provider"
	"github.com/jmehdipour/inference-gateway/internal/quota"
	"github.com/jmehdipour/inference-gateway/internal/ratelimit"
	"github.com/jmehdipour/inference-gateway/internal/repository/memstore"
	"github.com/jmehdipour/inference-gateway/internal/service/gateway"
	"github.com/jmehdipour/inference-gateway/internal/service/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "test-admin"

func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"llama-3.3-70b","type":"text"},{"id":"flux-dev","type":"image"}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"llama-3.3-70b",
			"choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`))
	})
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[{"url":"https://img.local/a.png"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	handler  http.Handler
	registry *provider.Registry
	keys     *memstore.APIKeys
	upstream *httptest.Server
}

func newEnv(t *testing.T, burstCap int, withProvider bool) *testEnv {
	t.Helper()
	apiKeys := memstore.NewAPIKeys()
	usage := memstore.NewUsage()
	ledger := quota.NewLedger(memstore.NewQuota(apiKeys))
	limiter := ratelimit.New(ratelimit.Config{Window: time.Minute, Cap: burstCap}, memstore.NewWindows())
	limiter.OnExceeded(nil)
	reg := provider.NewRegistry(memstore.NewProviders(), provider.Config{RetryAfter: 30 * time.Second})

	up := fakeUpstream(t)
	if withProvider {
		_, err := reg.Register(context.Background(), provider.Registration{Name: "fake", Address: up.URL + "/v1", Credential: "sk"})
		require.NoError(t, err)
	}

	upstream := dispatcher.NewOpenAIUpstream(up.Client())
	catalog := dispatcher.NewCatalog(upstream, time.Minute)
	disp := dispatcher.New(upstream, catalog, reg, dispatcher.Config{Timeout: 5 * time.Second})

	svc := gateway.New(gateway.Deps{
		Ledger:     ledger,
		Limiter:    limiter,
		Registry:   reg,
		Dispatcher: disp,
		Catalog:    catalog,
		Accountant: accounting.New(usage, ledger, reg, nil),
		Reports:    usage,
		Retries:    1,
	})
	srv := NewServer(Deps{
		Gateway:    svc,
		Keys:       keys.New(apiKeys),
		Registry:   reg,
		Resolver:   identity.NewResolver(apiKeys),
		Limiter:    limiter,
		AdminToken: adminToken,
	})
	return &testEnv{handler: srv.Handler(), registry: reg, keys: apiKeys, upstream: up}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func errBody(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "error envelope expected, got %v", body)
	return e
}

const chatBody = `{"messages":[{"role":"user","content":"ping"}]}`

var session = map[string]string{"X-Session-ID": "sess-123"}

func TestChatAnonymousSuccess(t *testing.T) {
	env := newEnv(t, 50, true)
	rec, body := env.do(t, http.MethodPost, "/v1/chat/completions", chatBody, session)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "chat.completion", body["object"])
	assert.True(t, strings.HasPrefix(body["id"].(string), "chatcmpl-"))
	choice := body["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "pong", choice["message"].(map[string]any)["content"])
	assert.Equal(t, float64(8), body["usage"].(map[string]any)["total_tokens"])
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))

	_, bal := env.do(t, http.MethodGet, "/v1/balance", "", session)
	assert.Equal(t, float64(1), bal["used"])
	assert.Equal(t, "anonymous", bal["keyType"])
}

func TestChatAuthErrors(t *testing.T) {
	env := newEnv(t, 50, true)

	rec, body := env.do(t, http.MethodPost, "/v1/chat/completions", chatBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_credential", errBody(t, body)["code"])

	rec, body = env.do(t, http.MethodPost, "/v1/chat/completions", chatBody, map[string]string{"Authorization": "Bearer sk-nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credential", errBody(t, body)["code"])

	rec, _ = env.do(t, http.MethodGet, "/v1/usage", "", session)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "usage needs a key")
}

func TestChatValidation(t *testing.T) {
	env := newEnv(t, 50, true)

	rec, body := env.do(t, http.MethodPost, "/v1/chat/completions", `{"messages":[]}`, session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errBody(t, body)["type"])

	rec, _ = env.do(t, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"robot","content":"x"}]}`, session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/v1/chat/completions", `{"messages":`, session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBurstLimitResponse(t *testing.T) {
	env := newEnv(t, 2, true)
	for i := 0; i < 2; i++ {
		rec, _ := env.do(t, http.MethodPost, "/v1/chat/completions", chatBody, session)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, body := env.do(t, http.MethodPost, "/v1/chat/completions", chatBody, session)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	e := errBody(t, body)
	assert.Equal(t, "rate_limited", e["type"])
	assert.Equal(t, float64(0), e["remaining"])
	assert.NotEmpty(t, e["resetTime"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
}

func TestQuotaExceededResponse(t *testing.T) {
	env := newEnv(t, 1000, true)
	k, err := keys.New(env.keys).Create(context.Background(), "0xowner", "dev", model.KindDeveloper)
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + k.Key}

	_, err = memstore.NewQuota(env.keys).Update(context.Background(),
		model.Identity{Kind: model.KindDeveloper, KeyID: k.ID},
		func(c *model.QuotaCounter) error {
			c.Used = 500
			c.LastResetAt = time.Now().UTC()
			return nil
		})
	require.NoError(t, err)

	rec, body := env.do(t, http.MethodPost, "/v1/chat/completions", chatBody, auth)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	e := errBody(t, body)
	assert.Equal(t, "quota_exceeded", e["type"])
	assert.Equal(t, float64(0), e["remaining"])
	assert.NotEmpty(t, e["resetTime"])
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestNoProvidersResponse(t *testing.T) {
	env := newEnv(t, 50, false)
	rec, body := env.do(t, http.MethodPost, "/v1/chat/completions", chatBody, session)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, float64(30), errBody(t, body)["retryAfter"])
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestImageGeneration(t *testing.T) {
	env := newEnv(t, 50, true)
	rec, body := env.do(t, http.MethodPost, "/v1/images/generations", `{"prompt":"a red fox"}`, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "flux-dev", body["model"])
	data := body["data"].([]any)
	assert.Equal(t, "https://img.local/a.png", data[0].(map[string]any)["url"])
}

func TestModelsListing(t *testing.T) {
	env := newEnv(t, 50, true)
	rec, body := env.do(t, http.MethodGet, "/v1/models", "", session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].([]any), 2)
}

func TestKeyLifecycle(t *testing.T) {
	env := newEnv(t, 50, true)
	owner := map[string]string{"X-Owner-Address": "0xowner"}

	rec, created := env.do(t, http.MethodPost, "/v1/keys", `{"name":"laptop","kind":"developer"}`, owner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	key := created["key"].(string)
	id := created["id"].(string)
	assert.True(t, strings.HasPrefix(key, "dk_"))

	_, list := env.do(t, http.MethodGet, "/v1/keys", "", owner)
	listed := list["keys"].([]any)[0].(map[string]any)
	assert.Equal(t, key[:8]+"..."+key[len(key)-4:], listed["preview"])
	assert.NotContains(t, listed, "key")

	rec, _ = env.do(t, http.MethodPost, "/v1/chat/completions", chatBody, map[string]string{"Authorization": "Bearer " + key})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/v1/keys/"+id+"/revoke", "", map[string]string{"X-Owner-Address": "0xsomeoneelse"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/v1/keys/"+id+"/revoke", "", owner)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/v1/chat/completions", chatBody, map[string]string{"Authorization": "Bearer " + key})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "inactive_credential", errBody(t, body)["code"])

	rec, usage := env.do(t, http.MethodGet, "/v1/usage", "", map[string]string{"Authorization": "Bearer " + key})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, usage)

	rec, _ = env.do(t, http.MethodPost, "/v1/keys/"+id+"/reactivate", "", owner)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, usage = env.do(t, http.MethodGet, "/v1/usage?status=success", "", map[string]string{"Authorization": "Bearer " + key})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), usage["count"])
}

func TestAdminProviders(t *testing.T) {
	env := newEnv(t, 50, false)

	rec, _ := env.do(t, http.MethodGet, "/admin/providers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := map[string]string{"X-Admin-Token": adminToken}
	rec, p := env.do(t, http.MethodPost, "/admin/providers",
		`{"name":"edge-1","address":"`+env.upstream.URL+`/v1","credential":"sk-1"}`, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "active", p["state"])
	assert.Equal(t, true, p["credential_set"])
	assert.NotContains(t, p, "credential")

	id := p["id"].(string)
	_, _ = env.registry.MarkFailure(context.Background(), id)
	_, _ = env.registry.MarkFailure(context.Background(), id)

	rec, p = env.do(t, http.MethodPost, "/admin/providers/"+id+"/reactivate", `{"credential":"sk-2"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", p["state"])

	got, _ := env.registry.Get(context.Background(), id)
	assert.Equal(t, "sk-2", got.Credential)

	_, list := env.do(t, http.MethodGet, "/admin/providers", "", admin)
	assert.Equal(t, float64(1), list["active"])
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, 50, false)
	rec, _ := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
