package payload

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/dkeye/teamroom/internal/domain"
)

// StatusMatched and StatusWaiting are the matchmaking status values.
const (
	StatusMatched = "matched"
	StatusWaiting = "waiting"
)

// Room covers the room object, the join response and the matchmaking status
// response; they share most fields and differ in which ones are set.
type Room struct {
	ID            ID       `json:"id"`
	RoomID        ID       `json:"room_id"`
	RoomIDCamel   ID       `json:"roomId"`
	LeaderID      ID       `json:"leader_id"`
	LeaderIDCamel ID       `json:"leaderId"`
	Status        string   `json:"status"`
	Members       []Member `json:"members"`
	Message       string   `json:"message,omitempty"`
	QueuePosition int      `json:"queue_position,omitempty"`
	QueueSize     int      `json:"queue_size,omitempty"`
}

// MatchedRoomID is the room id carried by a join or status response.
func (r Room) MatchedRoomID() domain.RoomID {
	return domain.RoomID(firstID(r.RoomID, r.RoomIDCamel))
}

// Identifier is the room id in whichever field it was sent.
func (r Room) Identifier() domain.RoomID {
	return domain.RoomID(firstID(r.RoomID, r.RoomIDCamel, r.ID))
}

func (r Room) Leader() domain.UserID {
	return domain.UserID(firstID(r.LeaderID, r.LeaderIDCamel))
}

// HasMembers reports whether the members key was present at all.
func (r Room) HasMembers() bool { return r.Members != nil }

// Matched reports a positive matchmaking status.
func (r Room) Matched() bool {
	return strings.EqualFold(r.Status, StatusMatched) && r.MatchedRoomID() != ""
}

func (r Room) Ended() bool {
	return strings.EqualFold(r.Status, string(domain.RoomEnded))
}

// Includes reports whether uid leads or belongs to the room.
func (r Room) Includes(uid domain.UserID) bool {
	if uid == "" {
		return false
	}
	if r.Leader() == uid {
		return true
	}
	for _, m := range r.Members {
		if m.Identity() == uid {
			return true
		}
	}
	return false
}

// Normalize maps r to a snapshot. fallbackID is used when the payload does
// not name its own id. Duplicate members are dropped, first one wins.
func (r Room) Normalize(fallbackID domain.RoomID, avatarBase string) *domain.RoomSnapshot {
	id := r.Identifier()
	if id == "" {
		id = fallbackID
	}
	status := domain.RoomActive
	if r.Ended() {
		status = domain.RoomEnded
	}
	snap := &domain.RoomSnapshot{
		ID:       id,
		LeaderID: r.Leader(),
		Status:   status,
		Members:  make([]domain.Member, 0, len(r.Members)),
	}
	for _, raw := range r.Members {
		m := raw.Normalize(avatarBase)
		if m.ID == "" || snap.HasMember(m.ID) {
			continue
		}
		snap.Members = append(snap.Members, m)
	}
	return snap
}

// DecodeAck reads a join or status response. Any body that is not an
// object carries no room and decodes to an empty ack.
func DecodeAck(b []byte) (*Room, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return &Room{}, nil
	}
	var r Room
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DecodeRooms accepts either a bare array or an object with a "rooms" array.
func DecodeRooms(b []byte) ([]Room, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	if b[0] == '[' {
		var rooms []Room
		err := json.Unmarshal(b, &rooms)
		return rooms, err
	}
	var wrapped struct {
		Rooms []Room `json:"rooms"`
	}
	err := json.Unmarshal(b, &wrapped)
	return wrapped.Rooms, err
}

// History is a finished-room record.
type History struct {
	ID        ID     `json:"id"`
	RoomID    ID     `json:"room_id"`
	Summary   string `json:"summary"`
	Action    string `json:"action"`
	CreatedAt string `json:"created_at"`
}

func (h History) Normalize() domain.HistoryEntry {
	e := domain.HistoryEntry{
		ID:      string(h.ID),
		RoomID:  domain.RoomID(h.RoomID),
		Summary: firstString(h.Summary, h.Action),
	}
	if t, err := time.Parse(time.RFC3339Nano, h.CreatedAt); err == nil {
		e.CreatedAt = t
	}
	return e
}

// Profile is the body of GET /profile/me.
type Profile struct {
	UserID   ID     `json:"user_id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Skill    string `json:"skill"`
	Pict     string `json:"pict"`
}

func (p Profile) Normalize() *domain.User {
	return &domain.User{
		ID:          domain.UserID(p.UserID),
		DisplayName: firstString(p.Name, p.Username),
		Username:    firstString(p.Username, p.Name),
		Role:        p.Role,
		Skills:      domain.SplitSkills(p.Skill),
		AvatarURL:   p.Pict,
	}
}
