package session

import (
	"strings"
	"time"

	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
)

// openChannel dials the push channel for the room resolved by a. A channel
// that comes up after a has ended is closed right away.
func (m *Manager) openChannel(a *attempt, id domain.RoomID) {
	m.mu.Lock()
	if !m.currentLocked(a) {
		m.mu.Unlock()
		return
	}
	prev := m.channel
	m.channel = nil
	m.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	logger := m.logger().With().Str("room_id", string(id)).Logger()
	ch, err := m.push.Dial(a.ctx, id, m.auth.Token())
	if err != nil {
		logger.Warn().Err(err).Msg("push channel unavailable")
		return
	}

	m.mu.Lock()
	if !m.currentLocked(a) || m.room == nil || m.room.ID != id {
		m.mu.Unlock()
		ch.Close()
		logger.Debug().Msg("push channel opened for a stale room, closed")
		return
	}
	m.channel = ch
	m.mu.Unlock()
	logger.Info().Msg("push channel attached")

	go m.dispatch(ch)
}

// dispatch folds events from ch into the room until ch closes or is replaced.
func (m *Manager) dispatch(ch core.PushChannel) {
	for ev := range ch.Events() {
		m.mu.Lock()
		if m.channel != ch {
			m.mu.Unlock()
			return
		}
		m.foldLocked(ev)
		m.mu.Unlock()
	}
	m.logger().Debug().Msg("push channel event stream ended")
}

func (m *Manager) foldLocked(ev core.Event) {
	switch e := ev.(type) {
	case core.ChatEvent:
		m.appendMessageLocked(e)
	case core.UsersListEvent:
		m.mergeMembersLocked(e.Members)
	}
}

// appendMessageLocked stores a chat line in receipt order and replaces a
// placeholder username of its author.
func (m *Manager) appendMessageLocked(e core.ChatEvent) {
	id := time.Now().UnixMilli()
	if id <= m.lastMsgID {
		id = m.lastMsgID + 1
	}
	m.lastMsgID = id
	m.messages = append(m.messages, domain.ChatMessage{
		ID:       id,
		UserID:   e.UserID,
		Username: e.Username,
		Text:     e.Text,
	})

	if m.room == nil || e.Username == "" {
		return
	}
	i := m.room.MemberIndex(e.UserID)
	if i < 0 || !m.room.Members[i].HasPlaceholderName() {
		return
	}
	m.room.Members[i].Username = e.Username
	m.room.Members[i].Name = e.Username
	m.syncStoreLocked(m.root)
}

// mergeMembersLocked applies live profile data to known members. Members
// absent from the list are kept.
func (m *Manager) mergeMembersLocked(updates []domain.MemberUpdate) {
	if m.room == nil {
		return
	}
	changed := 0
	for _, u := range updates {
		if i := m.room.MemberIndex(u.ID); i >= 0 {
			m.room.Members[i].Apply(u)
			changed++
		}
	}
	if changed > 0 {
		m.syncStoreLocked(m.root)
	}
	m.logger().Debug().Str("room_id", string(m.room.ID)).Int("updated", changed).Msg("members merged")
}

// SendMessage posts a chat line. It reports false, and drops the line, when
// the channel is not open.
func (m *Manager) SendMessage(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()

	if ch == nil || ch.Status() != core.ChannelOpen {
		m.logger().Debug().Msg("chat dropped, channel not open")
		return false
	}
	if err := ch.Send(text); err != nil {
		m.logger().Warn().Err(err).Msg("chat send failed")
		return false
	}
	return true
}
