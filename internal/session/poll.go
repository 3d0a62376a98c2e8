package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

// startPolling replaces the polling loop with one bound to a.
func (m *Manager) startPolling(a *attempt) {
	m.mu.Lock()
	if !m.currentLocked(a) || a.resolved || m.state != StateSearching {
		m.mu.Unlock()
		return
	}
	m.stopPollingLocked()
	ctx, cancel := context.WithCancel(a.ctx)
	m.pollCancel = cancel
	m.mu.Unlock()

	go m.pollLoop(ctx, a)
}

// pollLoop fires a tick every interval. Ticks run independently so a slow
// request never delays the next check.
func (m *Manager) pollLoop(ctx context.Context, a *attempt) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go m.pollTick(ctx, a)
		}
	}
}

func (m *Manager) pollTick(ctx context.Context, a *attempt) {
	logger := m.logger().With().Uint64("attempt", a.id).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("poll tick panicked")
		}
	}()
	if !m.searching(a) {
		return
	}
	me := m.Me()
	if me == nil {
		return
	}

	room, err := m.checkMatch(ctx, me.ID, &logger)
	switch {
	case core.IsUnauthorized(err):
		m.abortAttempt(a, err)
	case room != nil:
		if err := m.resolveMatch(a, *room); err != nil {
			logger.Warn().Err(err).Msg("match from poll not resolved")
			m.notify(Notice{Kind: NoticeFailure, Title: "Failed", Detail: "Could not load the room"})
		}
	}
}

type matchStrategy struct {
	name  string
	check func(ctx context.Context, me domain.UserID) (*payload.Room, error)
}

func (m *Manager) strategies() []matchStrategy {
	return []matchStrategy{
		{"status", m.checkStatus},
		{"my_room", m.checkMyRoom},
		{"scan", m.scanRooms},
	}
}

// checkMatch runs the strategies in order and returns the first room found.
// Only an authorization failure is returned as an error.
func (m *Manager) checkMatch(ctx context.Context, me domain.UserID, logger *zerolog.Logger) (*payload.Room, error) {
	for _, s := range m.strategies() {
		room, err := s.check(ctx, me)
		switch {
		case err == nil && room != nil:
			logger.Info().Str("strategy", s.name).Str("room_id", string(room.Identifier())).Msg("match found by poll")
			return room, nil
		case err == nil, core.IsNotFound(err):
			logger.Debug().Str("strategy", s.name).Msg("no match yet")
		case core.IsUnauthorized(err):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			logger.Warn().Err(err).Str("strategy", s.name).Msg("match check failed")
		}
	}
	return nil, nil
}

func (m *Manager) checkStatus(ctx context.Context, _ domain.UserID) (*payload.Room, error) {
	st, err := m.api.Status(ctx)
	if err != nil || !st.Matched() {
		return nil, err
	}
	return st, nil
}

func (m *Manager) checkMyRoom(ctx context.Context, _ domain.UserID) (*payload.Room, error) {
	r, err := m.api.MyRoom(ctx)
	if err != nil || r == nil || r.Identifier() == "" || r.Ended() {
		return nil, err
	}
	return r, nil
}

func (m *Manager) scanRooms(ctx context.Context, me domain.UserID) (*payload.Room, error) {
	rooms, err := m.api.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		if rooms[i].Identifier() != "" && !rooms[i].Ended() && rooms[i].Includes(me) {
			return &rooms[i], nil
		}
	}
	return nil, nil
}

// abortAttempt ends a searching attempt after an authorization failure.
func (m *Manager) abortAttempt(a *attempt, err error) {
	m.mu.Lock()
	if !m.currentLocked(a) || a.resolved {
		m.mu.Unlock()
		return
	}
	m.endAttemptLocked()
	m.state = StateIdle
	m.syncStoreLocked(a.ctx)
	m.mu.Unlock()

	m.logger().Warn().Err(err).Uint64("attempt", a.id).Msg("session rejected, matchmaking stopped")
	m.notify(Notice{Kind: NoticeFailure, Title: "Session expired", Detail: "Please sign in again"})
}
