package domain

type RoomID string

type RoomStatus string

const (
	RoomActive RoomStatus = "active"
	RoomEnded  RoomStatus = "ended"
)

// RoomSnapshot is the client's view of a matched room.
// Members are unique by ID; their order is kept across merges.
type RoomSnapshot struct {
	ID       RoomID     `json:"id"`
	LeaderID UserID     `json:"leader_id"`
	Status   RoomStatus `json:"status"`
	Members  []Member   `json:"members"`
}

func (r *RoomSnapshot) MemberIndex(id UserID) int {
	for i := range r.Members {
		if r.Members[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *RoomSnapshot) HasMember(id UserID) bool {
	return r.MemberIndex(id) >= 0
}

func (r *RoomSnapshot) IsLeader(id UserID) bool {
	return r.LeaderID != "" && r.LeaderID == id
}

// Clone returns a deep copy safe to hand to readers.
func (r *RoomSnapshot) Clone() *RoomSnapshot {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Members = append([]Member(nil), r.Members...)
	return &cp
}
