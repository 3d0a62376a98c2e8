package domain

import "time"

// ChatMessage is a chat line as received on the push channel. ID is assigned
// locally and only grows; messages are kept in receipt order.
type ChatMessage struct {
	ID       int64  `json:"id"`
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// HistoryEntry is a finished room as reported by the backend.
type HistoryEntry struct {
	ID        string    `json:"id"`
	RoomID    RoomID    `json:"room_id"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}
