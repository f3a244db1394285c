package convlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps turns in-process for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[string][]Turn)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns[turn.UserID] = append(s.turns[turn.UserID], turn)
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, userID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Turn, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
