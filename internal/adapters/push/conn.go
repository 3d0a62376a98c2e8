package push

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

// Conn is one open room channel. readPump owns events and closes it on
// exit; send is never closed, done signals shutdown to both pumps.
type Conn struct {
	ws     *websocket.Conn
	room   domain.RoomID
	events chan core.Event
	send   chan []byte
	done   chan struct{}
	status atomic.Int32
	once   sync.Once
	logger zerolog.Logger
}

func newConn(ws *websocket.Conn, room domain.RoomID) *Conn {
	c := &Conn{
		ws:     ws,
		room:   room,
		events: make(chan core.Event, eventBuffer),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: log.With().Str("module", "push").Str("room_id", string(room)).Logger(),
	}
	c.status.Store(int32(core.ChannelOpen))
	return c
}

func (c *Conn) Events() <-chan core.Event { return c.events }

func (c *Conn) Status() core.ChannelStatus { return core.ChannelStatus(c.status.Load()) }

// Send queues a chat line. It never blocks.
func (c *Conn) Send(text string) error {
	if c.Status() != core.ChannelOpen {
		return ErrClosed
	}
	b, err := json.Marshal(payload.OutboundChat{Type: payload.EventChat, Text: text})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Conn) Close() {
	c.once.Do(func() {
		c.status.Store(int32(core.ChannelClosed))
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
		c.logger.Info().Msg("channel closed")
	})
}

func (c *Conn) readPump() {
	defer func() {
		c.Close()
		close(c.events)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		ev, err := Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad frame")
			continue
		}
		if ev == nil {
			c.logger.Debug().RawJSON("frame", data).Msg("unknown event ignored")
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn().Err(err).Msg("ping failed")
				c.Close()
				return
			}
		}
	}
}
