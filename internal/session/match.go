package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

// StartMatchmaking joins the queue. A matched response resolves the room at
// once; anything else starts polling. Join failures return an *ActionError.
func (m *Manager) StartMatchmaking(ctx context.Context) error {
	m.mu.Lock()
	if m.me == nil {
		m.mu.Unlock()
		return core.ErrUnauthenticated
	}
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	a := m.newAttemptLocked(false)
	m.state = StateSearching
	m.messages = nil
	m.reconnecting = false
	m.mu.Unlock()

	logger := m.logger().With().Uint64("attempt", a.id).Logger()
	logger.Info().Msg("matchmaking started")

	res, err := m.api.JoinQueue(a.ctx)
	if err != nil {
		m.mu.Lock()
		live := m.currentLocked(a) && !a.resolved
		if live {
			m.endAttemptLocked()
			m.state = StateIdle
		}
		m.mu.Unlock()
		if !live {
			logger.Debug().Err(err).Msg("join failed after attempt ended")
			return nil
		}
		reason := core.ErrorDetail(err, "Matchmaking failed")
		logger.Error().Err(err).Str("reason", reason).Msg("join queue failed")
		m.notify(Notice{Kind: NoticeFailure, Title: "Failed", Detail: reason})
		return &ActionError{Op: "join", Reason: reason, Err: err}
	}

	if res.MatchedRoomID() != "" {
		if err := m.resolveMatch(a, *res); err != nil {
			m.notify(Notice{Kind: NoticeFailure, Title: "Failed", Detail: "Could not load the room"})
			return &ActionError{Op: "join", Reason: "Could not load the room", Err: err}
		}
		return nil
	}
	if !m.searching(a) {
		return nil
	}
	if strings.EqualFold(res.Status, payload.StatusWaiting) {
		detail := res.Message
		if detail == "" {
			detail = "Waiting for other users to join the queue..."
		}
		logger.Info().Int("queue_position", res.QueuePosition).Int("queue_size", res.QueueSize).Msg("queued")
		m.notify(Notice{Kind: NoticeWaiting, Title: "Waiting for other users", Detail: detail})
	} else {
		m.notify(Notice{Kind: NoticeSearching, Title: "Searching", Detail: "Looking for a team..."})
	}
	m.startPolling(a)
	return nil
}

// CancelMatchmaking leaves the queue. Late results of the cancelled attempt
// are ignored. The server call is best effort.
func (m *Manager) CancelMatchmaking(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateSearching {
		m.mu.Unlock()
		return
	}
	m.endAttemptLocked()
	m.state = StateIdle
	m.syncStoreLocked(ctx)
	m.mu.Unlock()
	m.logger().Info().Msg("matchmaking cancelled")

	if err := m.api.LeaveQueue(ctx); err != nil {
		m.logger().Warn().Err(err).Msg("leave queue failed")
	}
}

// claimLocked decides whether a may resolve its match. Only the first
// resolution of the live attempt wins.
func (m *Manager) claimLocked(a *attempt) bool {
	if !m.currentLocked(a) || a.resolved {
		return false
	}
	if m.tearingDown || (time.Now().Before(m.guardUntil) && a.id <= m.guardSeq) {
		return false
	}
	if a.reconnect {
		return m.state == StateIdle
	}
	return m.state == StateSearching
}

// resolveMatch runs match-found handling for a once: stop polling, mark
// matched, hydrate, persist and open the push channel.
func (m *Manager) resolveMatch(a *attempt, p payload.Room) error {
	roomID := p.Identifier()
	logger := m.logger().With().Uint64("attempt", a.id).Str("room_id", string(roomID)).Logger()

	m.mu.Lock()
	if roomID == "" || !m.claimLocked(a) {
		m.mu.Unlock()
		logger.Debug().Msg("stale match signal ignored")
		return nil
	}
	a.resolved = true
	m.stopPollingLocked()
	m.state = StateMatched
	m.reconnecting = false
	m.newMatch = !a.reconnect
	me := m.me.ID
	m.mu.Unlock()

	snap, err := m.hydrate(a, roomID, p, me)
	if err != nil {
		m.mu.Lock()
		if m.currentLocked(a) {
			m.endAttemptLocked()
			m.state = StateIdle
			m.newMatch = false
			m.room = nil
			m.syncStoreLocked(a.ctx)
		}
		m.mu.Unlock()
		logger.Error().Err(err).Msg("room hydration failed")
		return fmt.Errorf("hydrate room %s: %w", roomID, err)
	}

	m.mu.Lock()
	if !m.currentLocked(a) {
		m.mu.Unlock()
		logger.Debug().Msg("room hydrated after attempt ended, dropped")
		return nil
	}
	m.room = snap
	m.syncStoreLocked(a.ctx)
	m.mu.Unlock()

	logger.Info().
		Int("members", len(snap.Members)).
		Bool("reconnect", a.reconnect).
		Msg("match resolved")
	if a.reconnect {
		m.notify(Notice{Kind: NoticeReconnected, Title: "Reconnected", Detail: "Back in your room"})
	} else {
		m.notify(Notice{Kind: NoticeTeamFormed, Title: "Team formed", Detail: "You are in the workspace"})
	}
	go m.openChannel(a, snap.ID)
	return nil
}

// hydrate turns a match payload into a snapshot, fetching the room when the
// payload has no member list or when the list lacks the current user.
func (m *Manager) hydrate(a *attempt, id domain.RoomID, p payload.Room, me domain.UserID) (*domain.RoomSnapshot, error) {
	raw := p
	for i := 0; ; i++ {
		if i > 0 || !raw.HasMembers() {
			r, err := m.api.GetRoom(a.ctx, id)
			if err != nil {
				return nil, err
			}
			raw = *r
		}
		snap := raw.Normalize(id, m.opts.AvatarBase)
		if len(snap.Members) == 0 || snap.HasMember(me) {
			return snap, nil
		}
		if i+1 >= m.opts.HydrateAttempts {
			return nil, ErrIncompleteRoom
		}
		m.logger().Debug().Str("room_id", string(id)).Int("try", i+1).Msg("room detail lacks current user, refetching")
	}
}
