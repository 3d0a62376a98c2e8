// Package signal is the room push hub of the mock backend: one websocket
// per member, chat fan-out and member list updates.
package signal

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/teamroom/internal/app"
	"github.com/dkeye/teamroom/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	ChatLimit  int
	ChatWindow time.Duration
}

type Hub struct {
	rooms   *app.RoomManager
	limiter *RoomRateLimiter
	opts    Options

	mu    sync.RWMutex
	conns map[domain.RoomID]map[*memberConn]struct{}
}

func NewHub(rooms *app.RoomManager, opts Options) *Hub {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32 << 10
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.ChatLimit <= 0 {
		opts.ChatLimit = 10
	}
	if opts.ChatWindow <= 0 {
		opts.ChatWindow = 5 * time.Second
	}
	return &Hub{
		rooms:   rooms,
		limiter: NewRoomRateLimiter(opts.ChatLimit, opts.ChatWindow),
		opts:    opts,
		conns:   make(map[domain.RoomID]map[*memberConn]struct{}),
	}
}

type memberConn struct {
	conn *websocket.Conn
	send chan []byte
	user domain.User
	room domain.RoomID

	mu     sync.RWMutex
	closed bool
}

func (c *memberConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *memberConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve upgrades a member's request to the room channel. Non-members get 403.
func (h *Hub) Serve(c *gin.Context, user *domain.User, room domain.RoomID) {
	logger := log.With().Str("module", "signal").Str("room_id", string(room)).Str("user_id", string(user.ID)).Logger()
	if !h.rooms.IsMember(room, user.ID) {
		logger.Warn().Msg("ws rejected, not a member")
		c.JSON(http.StatusForbidden, gin.H{"detail": "Not a member of this room"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	conn := &memberConn{
		conn: ws,
		send: make(chan []byte, 32),
		user: *user,
		room: room,
	}
	h.register(conn)
	logger.Info().Msg("new WS connection")

	go h.writePump(conn)
	go h.readPump(conn)
	h.sendUsersList(room)
}

func (h *Hub) register(c *memberConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.room]
	if !ok {
		set = make(map[*memberConn]struct{})
		h.conns[c.room] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *memberConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[c.room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.room)
		}
	}
}

func (h *Hub) peers(room domain.RoomID) []*memberConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*memberConn, 0, len(h.conns[room]))
	for c := range h.conns[room] {
		out = append(out, c)
	}
	return out
}

// CloseRoom drops every connection of room. Wired as the room manager's end hook.
func (h *Hub) CloseRoom(room domain.RoomID) {
	h.mu.Lock()
	set := h.conns[room]
	delete(h.conns, room)
	h.mu.Unlock()
	for c := range set {
		c.Close()
	}
	log.Info().Str("module", "signal").Str("room_id", string(room)).Int("conns", len(set)).Msg("room channel closed")
}

// Connected reports how many members of room have a live channel.
func (h *Hub) Connected(room domain.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[room])
}
