// Package push is the websocket client for a room's live channel.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("push channel closed")
)

const (
	writeWait      = 5 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 32
	eventBuffer    = 64
)

// RoomURL builds {base}/ws/rooms/{room}?token={token}. http and https bases
// are mapped to ws and wss.
func RoomURL(base string, room domain.RoomID, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse push base %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported push scheme %q", u.Scheme)
	}
	u.Path += "/ws/rooms/" + string(room)
	u.RawPath = ""
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type Dialer struct {
	base   string
	dialer *websocket.Dialer
}

func NewDialer(base string) *Dialer {
	return &Dialer{
		base: base,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, room domain.RoomID, token string) (core.PushChannel, error) {
	u, err := RoomURL(d.base, room, token)
	if err != nil {
		return nil, err
	}
	ws, resp, err := d.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial room %s: %w (status %d)", room, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial room %s: %w", room, err)
	}
	c := newConn(ws, room)
	go c.writePump()
	go c.readPump()
	log.Info().Str("module", "push").Str("room_id", string(room)).Msg("channel open")
	return c, nil
}

// Decode maps one text frame to an event. Unknown types yield (nil, nil).
func Decode(data []byte) (core.Event, error) {
	var env payload.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case payload.EventChat:
		var c payload.Chat
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return nil, fmt.Errorf("decode chat: %w", err)
		}
		username := c.Username
		if username == "" {
			username = c.Name
		}
		return core.ChatEvent{UserID: domain.UserID(c.UserID), Username: username, Text: c.Text}, nil
	case payload.EventUsersList:
		var members []payload.Member
		if err := json.Unmarshal(env.Data, &members); err != nil {
			return nil, fmt.Errorf("decode users_list: %w", err)
		}
		ev := core.UsersListEvent{Members: make([]domain.MemberUpdate, 0, len(members))}
		for _, m := range members {
			if u := m.Update(); u.ID != "" {
				ev.Members = append(ev.Members, u)
			}
		}
		return ev, nil
	}
	return nil, nil
}
