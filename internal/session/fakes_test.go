package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

type statusErr struct {
	code   int
	detail string
}

func (e *statusErr) Error() string {
	return http.StatusText(e.code) + ": " + e.detail
}

func (e *statusErr) StatusCode() int { return e.code }

func (e *statusErr) ServerDetail() string { return e.detail }

func notFound() error {
	return &statusErr{code: http.StatusNotFound, detail: "Not found"}
}

func waiting(msg string) *payload.Room {
	return &payload.Room{Status: payload.StatusWaiting, Message: msg}
}

// fakeAPI answers every call from a hook when one is set, otherwise with a
// harmless default.
type fakeAPI struct {
	mu         sync.Mutex
	join       func(ctx context.Context) (*payload.Room, error)
	status     func(ctx context.Context) (*payload.Room, error)
	myRoom     func(ctx context.Context) (*payload.Room, error)
	listRooms  func(ctx context.Context) ([]payload.Room, error)
	getRoom    func(ctx context.Context, id domain.RoomID) (*payload.Room, error)
	leaveRoom  func(ctx context.Context, id domain.RoomID) error
	endRoom    func(ctx context.Context) error
	history    func(ctx context.Context) ([]payload.History, error)
	leaveQueue atomic.Int32

	statusCalls    atomic.Int32
	getRoomCalls   atomic.Int32
	leaveRoomCalls atomic.Int32
	historyCalls   atomic.Int32
}

func (f *fakeAPI) setStatus(fn func(ctx context.Context) (*payload.Room, error)) {
	f.mu.Lock()
	f.status = fn
	f.mu.Unlock()
}

func (f *fakeAPI) JoinQueue(ctx context.Context) (*payload.Room, error) {
	f.mu.Lock()
	fn := f.join
	f.mu.Unlock()
	if fn == nil {
		return waiting(""), nil
	}
	return fn(ctx)
}

func (f *fakeAPI) Status(ctx context.Context) (*payload.Room, error) {
	f.statusCalls.Add(1)
	f.mu.Lock()
	fn := f.status
	f.mu.Unlock()
	if fn == nil {
		return waiting(""), nil
	}
	return fn(ctx)
}

func (f *fakeAPI) MyRoom(ctx context.Context) (*payload.Room, error) {
	f.mu.Lock()
	fn := f.myRoom
	f.mu.Unlock()
	if fn == nil {
		return nil, notFound()
	}
	return fn(ctx)
}

func (f *fakeAPI) ListRooms(ctx context.Context) ([]payload.Room, error) {
	f.mu.Lock()
	fn := f.listRooms
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (f *fakeAPI) GetRoom(ctx context.Context, id domain.RoomID) (*payload.Room, error) {
	f.getRoomCalls.Add(1)
	f.mu.Lock()
	fn := f.getRoom
	f.mu.Unlock()
	if fn == nil {
		return nil, notFound()
	}
	return fn(ctx, id)
}

func (f *fakeAPI) LeaveQueue(context.Context) error {
	f.leaveQueue.Add(1)
	return nil
}

func (f *fakeAPI) LeaveRoom(ctx context.Context, id domain.RoomID) error {
	f.leaveRoomCalls.Add(1)
	f.mu.Lock()
	fn := f.leaveRoom
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, id)
}

func (f *fakeAPI) EndRoom(ctx context.Context) error {
	f.mu.Lock()
	fn := f.endRoom
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (f *fakeAPI) History(ctx context.Context) ([]payload.History, error) {
	f.historyCalls.Add(1)
	f.mu.Lock()
	fn := f.history
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

type fakeChannel struct {
	room   domain.RoomID
	token  string
	events chan core.Event
	status atomic.Int32
	once   sync.Once

	mu   sync.Mutex
	sent []string
}

func newFakeChannel(room domain.RoomID, token string) *fakeChannel {
	c := &fakeChannel{room: room, token: token, events: make(chan core.Event, 16)}
	c.status.Store(int32(core.ChannelOpen))
	return c
}

func (c *fakeChannel) Events() <-chan core.Event { return c.events }

func (c *fakeChannel) Status() core.ChannelStatus { return core.ChannelStatus(c.status.Load()) }

func (c *fakeChannel) Send(text string) error {
	if c.Status() != core.ChannelOpen {
		return errors.New("closed")
	}
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Close() {
	c.once.Do(func() {
		c.status.Store(int32(core.ChannelClosed))
		close(c.events)
	})
}

func (c *fakeChannel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
}

func (d *fakeDialer) Dial(_ context.Context, room domain.RoomID, token string) (core.PushChannel, error) {
	c := newFakeChannel(room, token)
	d.mu.Lock()
	d.channels = append(d.channels, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

type fakeAuth struct {
	user *domain.User
}

func (a fakeAuth) CurrentUser(context.Context) (*domain.User, error) {
	if a.user == nil {
		return nil, core.ErrUnauthenticated
	}
	u := *a.user
	return &u, nil
}

func (a fakeAuth) Token() string { return "tok" }

type notices struct {
	mu   sync.Mutex
	list []Notice
}

func (n *notices) add(v Notice) {
	n.mu.Lock()
	n.list = append(n.list, v)
	n.mu.Unlock()
}

func (n *notices) kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NoticeKind, 0, len(n.list))
	for _, v := range n.list {
		out = append(out, v.Kind)
	}
	return out
}

func member(id, username string) payload.Member {
	return payload.Member{UserID: payload.ID(id), Username: username, Name: username}
}

func roomWith(id string, leader string, members ...payload.Member) *payload.Room {
	if members == nil {
		members = []payload.Member{}
	}
	return &payload.Room{ID: payload.ID(id), LeaderID: payload.ID(leader), Status: "active", Members: members}
}
