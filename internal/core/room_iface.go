package core

import (
	"context"

	"github.com/dkeye/teamroom/internal/domain"
)

// RoomStore is the durable single slot holding the last active room.
// Load returns (nil, nil) when the slot is empty; Clear on an empty slot is a no-op.
type RoomStore interface {
	Load(ctx context.Context) (*domain.RoomSnapshot, error)
	Save(ctx context.Context, room *domain.RoomSnapshot) error
	Clear(ctx context.Context) error
}
