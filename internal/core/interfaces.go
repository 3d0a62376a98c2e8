package core

import (
	"context"

	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

// MatchmakingAPI is the backend contract the room session depends on.
// Implementations return errors that satisfy StatusError for HTTP failures.
type MatchmakingAPI interface {
	// JoinQueue either returns a matched room (room_id set) or a waiting ack.
	JoinQueue(ctx context.Context) (*payload.Room, error)
	Status(ctx context.Context) (*payload.Room, error)
	MyRoom(ctx context.Context) (*payload.Room, error)
	ListRooms(ctx context.Context) ([]payload.Room, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*payload.Room, error)

	LeaveQueue(ctx context.Context) error
	LeaveRoom(ctx context.Context, id domain.RoomID) error
	EndRoom(ctx context.Context) error

	History(ctx context.Context) ([]payload.History, error)
}
