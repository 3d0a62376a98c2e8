package core

import (
	"context"

	"github.com/dkeye/teamroom/internal/domain"
)

type ChannelStatus int32

const (
	ChannelConnecting ChannelStatus = iota
	ChannelOpen
	ChannelClosed
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	default:
		return "closed"
	}
}

// PushDialer opens the per-room real-time channel.
type PushDialer interface {
	Dial(ctx context.Context, room domain.RoomID, token string) (PushChannel, error)
}

// PushChannel abstracts for a room messaging transport.
// Owned by the room session; Close is safe to call any number of times.
type PushChannel interface {
	// Events is closed when the channel goes down.
	Events() <-chan Event
	Send(text string) error
	Status() ChannelStatus
	Close()
}

// Event is one inbound push event: ChatEvent or UsersListEvent.
type Event interface {
	isEvent()
}

type ChatEvent struct {
	UserID   domain.UserID
	Username string
	Text     string
}

type UsersListEvent struct {
	Members []domain.MemberUpdate
}

func (ChatEvent) isEvent()      {}
func (UsersListEvent) isEvent() {}
