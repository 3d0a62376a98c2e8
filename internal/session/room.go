package session

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

var errRoomEnded = errors.New("room has ended")

// Restore reattaches to the room persisted by a previous run. Any failure
// clears the slot and leaves the manager idle without a user facing error.
func (m *Manager) Restore(ctx context.Context) {
	m.mu.Lock()
	if m.me == nil || m.state != StateIdle || m.guardedLocked() {
		m.mu.Unlock()
		m.logger().Debug().Msg("restore skipped")
		return
	}
	m.mu.Unlock()

	saved, err := m.store.Load(ctx)
	if err != nil {
		m.logger().Warn().Err(err).Msg("room store unreadable, clearing")
	}
	if err != nil || saved == nil || saved.ID == "" {
		if err != nil {
			m.mu.Lock()
			if m.room == nil {
				m.syncStoreLocked(ctx)
			}
			m.mu.Unlock()
		}
		return
	}

	m.mu.Lock()
	if m.state != StateIdle || m.guardedLocked() {
		m.mu.Unlock()
		return
	}
	a := m.newAttemptLocked(true)
	m.reconnecting = true
	m.mu.Unlock()

	logger := m.logger().With().Uint64("attempt", a.id).Str("room_id", string(saved.ID)).Logger()
	logger.Info().Msg("restoring room")

	p, err := m.api.GetRoom(a.ctx, saved.ID)
	if err == nil && p.Ended() {
		err = errRoomEnded
	}
	if err == nil {
		if p.Identifier() == "" {
			p.ID = payload.ID(saved.ID)
		}
		err = m.resolveMatch(a, *p)
	}
	if err == nil {
		return
	}

	m.mu.Lock()
	if m.currentLocked(a) {
		m.endAttemptLocked()
		m.reconnecting = false
		m.room = nil
		m.syncStoreLocked(ctx)
	}
	m.mu.Unlock()
	logger.Info().Err(err).Msg("saved room not restored")
}

// Leave exits the current room or queue. The server call is best effort;
// local state is torn down whatever it returns.
func (m *Manager) Leave(ctx context.Context) {
	m.mu.Lock()
	switch {
	case m.state == StateSearching:
		m.mu.Unlock()
		m.CancelMatchmaking(ctx)
		return
	case m.state == StateIdle && m.room == nil, m.tearingDown:
		m.mu.Unlock()
		return
	}
	var roomID domain.RoomID
	if m.room != nil {
		roomID = m.room.ID
	}
	m.endAttemptLocked()
	m.tearingDown = true
	m.mu.Unlock()

	logger := m.logger().With().Str("room_id", string(roomID)).Logger()
	var err error
	if roomID != "" {
		err = m.api.LeaveRoom(ctx, roomID)
	} else {
		err = m.api.LeaveQueue(ctx)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("leave request failed")
	}

	m.teardown(ctx)
	logger.Info().Msg("left room")
	m.RefreshHistory(ctx)
}

// EndSession ends the room for everyone. Unlike Leave, a rejected request is
// returned and the room is kept.
func (m *Manager) EndSession(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateMatched || m.room == nil || m.tearingDown {
		m.mu.Unlock()
		return core.ErrNoActiveRoom
	}
	roomID := m.room.ID
	m.tearingDown = true
	m.mu.Unlock()

	logger := m.logger().With().Str("room_id", string(roomID)).Logger()
	if err := m.api.EndRoom(ctx); err != nil {
		m.mu.Lock()
		m.tearingDown = false
		m.mu.Unlock()
		fallback := "Failed to end session"
		if core.IsForbidden(err) {
			fallback = "Only the room leader can end the session"
		}
		reason := core.ErrorDetail(err, fallback)
		if core.IsForbidden(err) {
			logger.Warn().Err(err).Str("reason", reason).Msg("end room refused, not the leader")
		} else {
			logger.Error().Err(err).Str("reason", reason).Msg("end room failed")
		}
		m.notify(Notice{Kind: NoticeFailure, Title: "Failed", Detail: reason})
		return &ActionError{Op: "end", Reason: reason, Err: err}
	}

	m.teardown(ctx)
	logger.Info().Msg("room ended")
	m.notify(Notice{Kind: NoticeMessage, Title: "Session ended", Detail: "The room has been closed"})
	m.RefreshHistory(ctx)
	return nil
}

// teardown returns the manager to idle and opens the guard window.
func (m *Manager) teardown(ctx context.Context) {
	m.mu.Lock()
	m.endAttemptLocked()
	ch := m.channel
	m.channel = nil
	m.room = nil
	m.messages = nil
	m.state = StateIdle
	m.newMatch = false
	m.reconnecting = false
	m.syncStoreLocked(ctx)
	m.tearingDown = false
	m.guardUntil = time.Now().Add(m.opts.LeaveGuard)
	m.guardSeq = m.attemptSeq
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}

// RefreshHistory reloads finished rooms, newest first. A failed fetch
// yields an empty list.
func (m *Manager) RefreshHistory(ctx context.Context) []domain.HistoryEntry {
	raw, err := m.api.History(ctx)
	if err != nil {
		m.logger().Warn().Err(err).Msg("history unavailable")
		raw = nil
	}
	entries := make([]domain.HistoryEntry, 0, len(raw))
	for _, h := range raw {
		entries = append(entries, h.Normalize())
	}
	slices.SortStableFunc(entries, func(a, b domain.HistoryEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(entries) > m.opts.HistoryLimit {
		entries = entries[:m.opts.HistoryLimit]
	}

	m.mu.Lock()
	m.history = entries
	m.mu.Unlock()
	return slices.Clone(entries)
}
