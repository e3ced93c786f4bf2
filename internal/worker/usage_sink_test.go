package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/kafka"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
}

func (s *sliceSource) Fetch(ctx context.Context) (kafka.Message, error) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			m := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return m, nil
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *sliceSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	s.committed = append(s.committed, msgs...)
	s.mu.Unlock()
	return nil
}

func (s *sliceSource) committedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed)
}

func event(t *testing.T, id string, offset int64) kafka.Message {
	t.Helper()
	b, err := json.Marshal(model.UsageEvent{Version: 1, Record: model.UsageRecord{
		ID:          id,
		IdentityRef: "key:k1",
		Status:      model.UsageSuccess,
		TotalTokens: 10,
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestUsageSinkFlushesBySize(t *testing.T) {
	src := &sliceSource{pending: []kafka.Message{
		event(t, "u1", 1),
		{Offset: 2, Value: []byte("{not json")},
		event(t, "u2", 3),
	}}
	store := memstore.NewUsage()
	sink := NewUsageSink(src, store)
	sink.BatchSize = 3
	sink.BatchWait = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sink.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.committedCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	recs := store.All()
	require.Len(t, recs, 2)
	assert.Equal(t, "u1", recs[0].ID)
	assert.Equal(t, "u2", recs[1].ID)
}

func TestUsageSinkFlushesOnShutdown(t *testing.T) {
	src := &sliceSource{pending: []kafka.Message{event(t, "u1", 1)}}
	store := memstore.NewUsage()
	sink := NewUsageSink(src, store)
	sink.BatchWait = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sink.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.pending) == 0
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	assert.Len(t, store.All(), 1)
	assert.Equal(t, 1, src.committedCount())
}
