package app

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotLeader    = errors.New("only room leader can end session")
	ErrNotMember    = errors.New("not a member of this room")
)

const HistoryLimit = 10

// JoinResult is the outcome of a queue join or status check. Room is set
// once the user has been placed.
type JoinResult struct {
	Room     *domain.RoomSnapshot
	Position int
	Size     int
	MinMatch int
}

type roomEntry struct {
	snap      domain.RoomSnapshot
	createdAt time.Time
}

// RoomManager owns the queue and the rooms. Rooms are formed from the head
// of the queue once MinMatch users wait; the first of them leads.
type RoomManager struct {
	minMatch int
	maxRoom  int
	onEnd    func(domain.RoomID)

	mu      sync.Mutex
	queue   []domain.User
	rooms   map[domain.RoomID]*roomEntry
	roomOf  map[domain.UserID]domain.RoomID
	history map[domain.UserID][]domain.HistoryEntry
}

// NewRoomManager creates an empty lobby. onEnd, if set, runs after a room
// ends, outside the lock.
func NewRoomManager(minMatch, maxRoom int, onEnd func(domain.RoomID)) *RoomManager {
	return &RoomManager{
		minMatch: minMatch,
		maxRoom:  maxRoom,
		onEnd:    onEnd,
		rooms:    make(map[domain.RoomID]*roomEntry),
		roomOf:   make(map[domain.UserID]domain.RoomID),
		history:  make(map[domain.UserID][]domain.HistoryEntry),
	}
}

// Join queues u. A user already placed gets their room back.
func (rm *RoomManager) Join(u *domain.User) JoinResult {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if res, ok := rm.placedLocked(u.ID); ok {
		return res
	}
	if rm.queueIndexLocked(u.ID) < 0 {
		rm.queue = append(rm.queue, *u)
		log.Info().Str("module", "app.rooms").Str("user_id", string(u.ID)).Int("queue", len(rm.queue)).Msg("queued")
	}
	rm.matchLocked()
	return rm.resultLocked(u.ID)
}

// Status reports u's placement and forms a room when enough users wait.
func (rm *RoomManager) Status(u *domain.User) JoinResult {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.matchLocked()
	return rm.resultLocked(u.ID)
}

// LeaveQueue removes u from the queue and from any room it is in.
func (rm *RoomManager) LeaveQueue(u *domain.User) {
	rm.mu.Lock()
	if i := rm.queueIndexLocked(u.ID); i >= 0 {
		rm.queue = slices.Delete(rm.queue, i, i+1)
	}
	id, inRoom := rm.roomOf[u.ID]
	rm.mu.Unlock()
	if inRoom {
		_ = rm.LeaveRoom(u, id)
	}
}

// LeaveRoom takes u out of room id. Leadership passes to the next member;
// an emptied room is closed.
func (rm *RoomManager) LeaveRoom(u *domain.User, id domain.RoomID) error {
	rm.mu.Lock()
	e, ok := rm.rooms[id]
	if !ok {
		rm.mu.Unlock()
		return ErrRoomNotFound
	}
	if rm.roomOf[u.ID] != id {
		rm.mu.Unlock()
		return ErrNotMember
	}
	rm.recordLocked(u.ID, e, "left")
	delete(rm.roomOf, u.ID)
	if i := e.snap.MemberIndex(u.ID); i >= 0 {
		e.snap.Members = slices.Delete(e.snap.Members, i, i+1)
	}
	emptied := len(e.snap.Members) == 0
	if emptied {
		e.snap.Status = domain.RoomEnded
	} else if e.snap.LeaderID == u.ID {
		e.snap.LeaderID = e.snap.Members[0].ID
	}
	rm.mu.Unlock()

	log.Info().Str("module", "app.rooms").Str("room_id", string(id)).Str("user_id", string(u.ID)).Msg("member left")
	if emptied && rm.onEnd != nil {
		rm.onEnd(id)
	}
	return nil
}

// EndRoom closes u's room for everyone. Only the leader may do it.
func (rm *RoomManager) EndRoom(u *domain.User) error {
	rm.mu.Lock()
	id, ok := rm.roomOf[u.ID]
	if !ok {
		rm.mu.Unlock()
		return core.ErrNoActiveRoom
	}
	e := rm.rooms[id]
	if e.snap.LeaderID != u.ID {
		rm.mu.Unlock()
		return ErrNotLeader
	}
	for _, m := range e.snap.Members {
		rm.recordLocked(m.ID, e, "ended")
		delete(rm.roomOf, m.ID)
	}
	e.snap.Status = domain.RoomEnded
	rm.mu.Unlock()

	log.Info().Str("module", "app.rooms").Str("room_id", string(id)).Str("by", string(u.ID)).Msg("room ended")
	if rm.onEnd != nil {
		rm.onEnd(id)
	}
	return nil
}

func (rm *RoomManager) MyRoom(u *domain.User) (*domain.RoomSnapshot, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	id, ok := rm.roomOf[u.ID]
	if !ok {
		return nil, core.ErrNoActiveRoom
	}
	return rm.rooms[id].snap.Clone(), nil
}

func (rm *RoomManager) Room(id domain.RoomID) (*domain.RoomSnapshot, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	e, ok := rm.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return e.snap.Clone(), nil
}

// Rooms lists active rooms, oldest first.
func (rm *RoomManager) Rooms() []domain.RoomSnapshot {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	entries := make([]*roomEntry, 0, len(rm.rooms))
	for _, e := range rm.rooms {
		if e.snap.Status == domain.RoomActive {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b *roomEntry) int { return a.createdAt.Compare(b.createdAt) })
	out := make([]domain.RoomSnapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e.snap.Clone())
	}
	return out
}

// History returns u's finished rooms, newest first.
func (rm *RoomManager) History(u *domain.User) []domain.HistoryEntry {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return slices.Clone(rm.history[u.ID])
}

// IsMember reports whether uid currently belongs to room id.
func (rm *RoomManager) IsMember(id domain.RoomID, uid domain.UserID) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.roomOf[uid] == id
}

func (rm *RoomManager) queueIndexLocked(id domain.UserID) int {
	return slices.IndexFunc(rm.queue, func(u domain.User) bool { return u.ID == id })
}

func (rm *RoomManager) placedLocked(id domain.UserID) (JoinResult, bool) {
	rid, ok := rm.roomOf[id]
	if !ok {
		return JoinResult{}, false
	}
	return JoinResult{Room: rm.rooms[rid].snap.Clone(), MinMatch: rm.minMatch}, true
}

func (rm *RoomManager) resultLocked(id domain.UserID) JoinResult {
	if res, ok := rm.placedLocked(id); ok {
		return res
	}
	return JoinResult{
		Position: rm.queueIndexLocked(id) + 1,
		Size:     len(rm.queue),
		MinMatch: rm.minMatch,
	}
}

// matchLocked forms rooms from the head of the queue while enough users wait.
func (rm *RoomManager) matchLocked() {
	for len(rm.queue) >= rm.minMatch {
		n := min(rm.maxRoom, len(rm.queue))
		picked := rm.queue[:n]
		e := &roomEntry{
			snap: domain.RoomSnapshot{
				ID:       domain.RoomID("room_" + uuid.NewString()[:8]),
				LeaderID: picked[0].ID,
				Status:   domain.RoomActive,
				Members:  make([]domain.Member, 0, n),
			},
			createdAt: time.Now(),
		}
		for i := range picked {
			e.snap.Members = append(e.snap.Members, *domain.NewMember(&picked[i]))
			rm.roomOf[picked[i].ID] = e.snap.ID
		}
		rm.rooms[e.snap.ID] = e
		rm.queue = slices.Clone(rm.queue[n:])
		log.Info().Str("module", "app.rooms").Str("room_id", string(e.snap.ID)).Int("members", n).Msg("room formed")
	}
}

func (rm *RoomManager) recordLocked(uid domain.UserID, e *roomEntry, action string) {
	entry := domain.HistoryEntry{
		ID:        uuid.NewString(),
		RoomID:    e.snap.ID,
		Summary:   fmt.Sprintf("Room with %d members, %s", len(e.snap.Members), action),
		CreatedAt: time.Now().UTC(),
	}
	h := append([]domain.HistoryEntry{entry}, rm.history[uid]...)
	if len(h) > HistoryLimit {
		h = h[:HistoryLimit]
	}
	rm.history[uid] = h
}
