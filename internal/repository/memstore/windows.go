package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
)

type Windows struct {
	mu   sync.RWMutex
	byID map[string]model.RateWindow
	rows keyedMutex
}

func NewWindows() *Windows {
	return &Windows{byID: make(map[string]model.RateWindow)}
}

var _ repository.WindowsRepository = (*Windows)(nil)

func (s *Windows) Update(_ context.Context, identifier string, fn func(w *model.RateWindow, found bool)) (model.RateWindow, error) {
	unlock := s.rows.lock(identifier)
	defer unlock()

	s.mu.RLock()
	w, found := s.byID[identifier]
	s.mu.RUnlock()
	if !found {
		w = model.RateWindow{Identifier: identifier}
	}
	fn(&w, found)

	s.mu.Lock()
	s.byID[identifier] = w
	s.mu.Unlock()
	return w, nil
}

func (s *Windows) DeleteStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, w := range s.byID {
		if w.LastRequest.Before(cutoff) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

// Len is the number of stored windows.
func (s *Windows) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
