package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
)

// Quota keeps key counters on the APIKeys records and anonymous counters in
// its own map, mirroring the api_keys / anonymous_usage split.
type Quota struct {
	keys *APIKeys

	mu       sync.RWMutex
	sessions map[string]model.QuotaCounter
	rows     keyedMutex
}

func NewQuota(keys *APIKeys) *Quota {
	return &Quota{keys: keys, sessions: make(map[string]model.QuotaCounter)}
}

var (
	_ repository.QuotaRepository       = (*Quota)(nil)
	_ repository.SessionCountersPruner = (*Quota)(nil)
)

func (q *Quota) Get(_ context.Context, id model.Identity) (model.QuotaCounter, error) {
	if !id.Anonymous() {
		c, _ := q.keys.counter(id.KeyID)
		return c, nil
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.sessions[id.Token], nil
}

func (q *Quota) Update(_ context.Context, id model.Identity, fn func(*model.QuotaCounter) error) (model.QuotaCounter, error) {
	if !id.Anonymous() {
		return q.keys.updateCounter(id.KeyID, fn)
	}

	unlock := q.rows.lock(id.Token)
	defer unlock()

	q.mu.RLock()
	current := q.sessions[id.Token]
	q.mu.RUnlock()

	next := current
	if err := fn(&next); err != nil {
		return current, err
	}

	q.mu.Lock()
	q.sessions[id.Token] = next
	q.mu.Unlock()
	return next, nil
}

// DeleteStaleSessions drops anonymous counters last reset before cutoff.
// With cutoff at today's UTC midnight such a counter reads as zero anyway.
func (q *Quota) DeleteStaleSessions(_ context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for token, c := range q.sessions {
		if c.LastResetAt.Before(cutoff) {
			delete(q.sessions, token)
			n++
		}
	}
	return n, nil
}

// Sessions is the number of stored anonymous counters.
func (q *Quota) Sessions() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.sessions)
}
