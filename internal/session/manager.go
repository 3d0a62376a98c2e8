// Package session drives one user's matchmaking and room lifecycle:
// queue join, polling fallback, match resolution, room hydration, the live
// push channel, leave/end and the persisted room slot.
//
// All state is owned by Manager and guarded by its mutex. Network calls run
// without the lock; every continuation re-checks the attempt it belongs to
// before touching state, so late responses cannot resurrect a room.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
)

type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateMatched   State = "matched"
)

var (
	ErrNotIdle        = errors.New("matchmaking already in progress")
	ErrIncompleteRoom = errors.New("room detail does not include the current user")
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultLeaveGuard      = 500 * time.Millisecond
	DefaultHistoryLimit    = 10
	DefaultHydrateAttempts = 3
)

type Options struct {
	PollInterval    time.Duration
	LeaveGuard      time.Duration
	HistoryLimit    int
	HydrateAttempts int
	AvatarBase      string
	// Notify receives user facing notices. Called without the lock held.
	Notify func(Notice)
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.LeaveGuard <= 0 {
		o.LeaveGuard = DefaultLeaveGuard
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.HydrateAttempts <= 0 {
		o.HydrateAttempts = DefaultHydrateAttempts
	}
	return o
}

// View is a read-only copy of the manager state.
type View struct {
	State        State
	Room         *domain.RoomSnapshot
	Messages     []domain.ChatMessage
	History      []domain.HistoryEntry
	Reconnecting bool
	NewMatch     bool
	Channel      core.ChannelStatus
}

// attempt is one matchmaking or restore run. A continuation acts only while
// its attempt is still the manager's current one and not yet resolved.
type attempt struct {
	id        uint64
	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool
	resolved  bool
}

type Manager struct {
	api   core.MatchmakingAPI
	push  core.PushDialer
	store core.RoomStore
	auth  core.SessionAccessor
	opts  Options

	root       context.Context
	rootCancel context.CancelFunc

	mu           sync.Mutex
	me           *domain.User
	state        State
	room         *domain.RoomSnapshot
	messages     []domain.ChatMessage
	history      []domain.HistoryEntry
	reconnecting bool
	newMatch     bool
	attempt      *attempt
	attemptSeq   uint64
	pollCancel   context.CancelFunc
	channel      core.PushChannel
	tearingDown  bool
	guardUntil   time.Time
	guardSeq     uint64
	lastMsgID    int64
}

func NewManager(
	api core.MatchmakingAPI,
	push core.PushDialer,
	store core.RoomStore,
	auth core.SessionAccessor,
	opts Options,
) *Manager {
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		api:        api,
		push:       push,
		store:      store,
		auth:       auth,
		opts:       opts.withDefaults(),
		root:       root,
		rootCancel: cancel,
		state:      StateIdle,
	}
}

func (m *Manager) logger() *zerolog.Logger {
	l := log.With().Str("module", "session.manager").Logger()
	return &l
}

// Start loads the session identity, restores a persisted room and fetches
// history. Without an authenticated user it does nothing.
func (m *Manager) Start(ctx context.Context) error {
	user, err := m.auth.CurrentUser(ctx)
	if errors.Is(err, core.ErrUnauthenticated) {
		m.logger().Info().Msg("no session, skipping restore")
		return nil
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.me = user
	m.mu.Unlock()
	m.logger().Info().Str("user_id", string(user.ID)).Msg("session started")

	m.Restore(ctx)
	m.RefreshHistory(ctx)
	return nil
}

// Close stops background work and the push channel. The persisted slot is
// kept so the next Start can restore the room.
func (m *Manager) Close() {
	m.rootCancel()
	m.mu.Lock()
	m.stopPollingLocked()
	if m.attempt != nil {
		m.attempt.cancel()
		m.attempt = nil
	}
	ch := m.channel
	m.channel = nil
	m.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

func (m *Manager) Me() *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.me == nil {
		return nil
	}
	u := *m.me
	return &u
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := View{
		State:        m.state,
		Room:         m.room.Clone(),
		Messages:     append([]domain.ChatMessage(nil), m.messages...),
		History:      append([]domain.HistoryEntry(nil), m.history...),
		Reconnecting: m.reconnecting,
		NewMatch:     m.newMatch,
		Channel:      core.ChannelClosed,
	}
	if m.channel != nil {
		v.Channel = m.channel.Status()
	}
	return v
}

// ChannelStatus reports whether chat can be sent right now.
func (m *Manager) ChannelStatus() core.ChannelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channel == nil {
		return core.ChannelClosed
	}
	return m.channel.Status()
}

// AcknowledgeMatch clears the new-match flag once the caller has shown the room.
func (m *Manager) AcknowledgeMatch() {
	m.mu.Lock()
	m.newMatch = false
	m.mu.Unlock()
}

func (m *Manager) notify(n Notice) {
	if m.opts.Notify != nil {
		m.opts.Notify(n)
	}
}

// newAttemptLocked replaces the current attempt, cancelling the old one.
func (m *Manager) newAttemptLocked(reconnect bool) *attempt {
	m.endAttemptLocked()
	m.attemptSeq++
	ctx, cancel := context.WithCancel(m.root)
	a := &attempt{id: m.attemptSeq, ctx: ctx, cancel: cancel, reconnect: reconnect}
	m.attempt = a
	return a
}

func (m *Manager) endAttemptLocked() {
	m.stopPollingLocked()
	if m.attempt != nil {
		m.attempt.cancel()
		m.attempt = nil
	}
}

func (m *Manager) stopPollingLocked() {
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
}

// currentLocked reports whether a is still the live attempt.
func (m *Manager) currentLocked(a *attempt) bool {
	return a != nil && m.attempt == a && a.ctx.Err() == nil
}

func (m *Manager) searching(a *attempt) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(a) && !a.resolved && m.state == StateSearching
}

// guardedLocked reports whether a teardown is in progress or just finished.
func (m *Manager) guardedLocked() bool {
	return m.tearingDown || time.Now().Before(m.guardUntil)
}

// syncStoreLocked mirrors the in-memory room into the persisted slot.
// It runs under the lock so a save and a clear can never interleave.
func (m *Manager) syncStoreLocked(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if m.room == nil {
		err = m.store.Clear(ctx)
	} else {
		err = m.store.Save(ctx, m.room)
	}
	if err != nil {
		m.logger().Warn().Err(err).Msg("room store sync failed")
	}
}
