package signal

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/teamroom/internal/domain"
)

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type chatData struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	Name     string        `json:"name"`
	Text     string        `json:"text"`
}

type memberData struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	Name     string        `json:"name"`
	Role     string        `json:"role"`
	Pict     string        `json:"pict"`
}

const maxChatLen = 2000

// handleChat fans a chat line out to the whole room, sender included.
func (h *Hub) handleChat(c *memberConn, data []byte) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad chat payload")
		h.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return
	}
	if len(text) > maxChatLen {
		text = text[:maxChatLen]
	}
	if !h.limiter.Allow(c.user.ID) {
		h.sendJSON(c, map[string]any{"type": "error", "error": "rate_limited"})
		return
	}

	h.broadcast(c, envelope{Type: "chat", Data: chatData{
		UserID:   c.user.ID,
		Username: c.user.Username,
		Name:     c.user.DisplayName,
		Text:     text,
	}})
}

// sendUsersList pushes the room's member profiles to every connection.
func (h *Hub) sendUsersList(room domain.RoomID) {
	snap, err := h.rooms.Room(room)
	if err != nil {
		return
	}
	list := make([]memberData, 0, len(snap.Members))
	for _, m := range snap.Members {
		list = append(list, memberData{
			UserID:   m.ID,
			Username: m.Username,
			Name:     m.Name,
			Role:     m.Role,
			Pict:     m.AvatarURL,
		})
	}
	msg := envelope{Type: "users_list", Data: list}
	for _, peer := range h.peers(room) {
		h.sendJSON(peer, msg)
	}
}
