package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUpstream struct {
	Upstream
	calls  int
	models []model.CatalogModel
	err    error
}

func (s *stubUpstream) ListModels(context.Context, model.Provider) ([]model.CatalogModel, error) {
	s.calls++
	return s.models, s.err
}

func TestCatalogCachesUntilStale(t *testing.T) {
	up := &stubUpstream{models: []model.CatalogModel{{ID: "a", Type: "text"}}}
	c := NewCatalog(up, time.Minute)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	p := model.Provider{ID: "p1"}

	_, err := c.Models(context.Background(), p)
	require.NoError(t, err)
	_, _ = c.Models(context.Background(), p)
	assert.Equal(t, 1, up.calls)

	now = now.Add(2 * time.Minute)
	_, _ = c.Models(context.Background(), p)
	assert.Equal(t, 2, up.calls)
}

func TestCatalogServesStaleOnError(t *testing.T) {
	up := &stubUpstream{models: []model.CatalogModel{{ID: "a", Type: "text"}}}
	c := NewCatalog(up, time.Minute)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	p := model.Provider{ID: "p1"}

	_, err := c.Models(context.Background(), p)
	require.NoError(t, err)

	up.err = errors.New("down")
	up.models = nil
	now = now.Add(time.Hour)
	got, err := c.Models(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].ID)

	assert.Error(t, c.Check(context.Background(), p))
	_, err = c.Models(context.Background(), model.Provider{ID: "cold"})
	assert.Error(t, err, "nothing cached to fall back on")
}

func TestHeuristicRanker(t *testing.T) {
	catalog := []model.CatalogModel{
		{ID: "mistral-small", Type: "text", ContextLength: 32000},
		{ID: "deepseek-coder", Type: "text"},
		{ID: "big-context", Type: "text", ContextLength: 128000},
		{ID: "llama-3.3-70b", Type: "text"},
		{ID: "sdxl-turbo", Type: "image"},
	}

	cases := []struct {
		name      string
		intent    model.Intent
		requested string
		want      string
		ok        bool
	}{
		{"explicit in catalog", model.IntentChat, "mistral-small", "mistral-small", true},
		{"explicit missing falls back", model.IntentChat, "gpt-4", "llama-3.3-70b", true},
		{"auto-select", model.IntentChat, model.AutoSelectModel, "llama-3.3-70b", true},
		{"code", model.IntentCode, "", "deepseek-coder", true},
		{"analysis by context", model.IntentAnalysis, "", "big-context", true},
		{"image", model.IntentImage, "", "sdxl-turbo", true},
		{"explicit image model for chat ignored", model.IntentChat, "sdxl-turbo", "llama-3.3-70b", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := HeuristicRanker(tc.intent, tc.requested, catalog)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	_, ok := HeuristicRanker(model.IntentImage, "", catalog[:4])
	assert.False(t, ok)

	got, ok := HeuristicRanker(model.IntentChat, "", []model.CatalogModel{{ID: "plain", Type: "text"}})
	assert.True(t, ok)
	assert.Equal(t, "plain", got, "first text model is the fallback")
}
