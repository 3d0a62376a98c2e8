package store

import (
	"context"
	"sync"

	"github.com/dkeye/teamroom/internal/domain"
)

// MemoryStore keeps the slot for the lifetime of the process.
type MemoryStore struct {
	mu   sync.Mutex
	room *domain.RoomSnapshot
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(context.Context) (*domain.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, room *domain.RoomSnapshot) error {
	s.mu.Lock()
	s.room = room.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.room = nil
	s.mu.Unlock()
	return nil
}
