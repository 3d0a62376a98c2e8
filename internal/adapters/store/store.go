// Package store keeps the single persisted room slot in memory, in a file
// or in Redis.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/teamroom/internal/domain"
)

func encode(room *domain.RoomSnapshot) ([]byte, error) {
	b, err := json.Marshal(room)
	if err != nil {
		return nil, fmt.Errorf("encode room: %w", err)
	}
	return b, nil
}

// decode treats an unparsable slot as empty; the caller overwrites it on
// the next save.
func decode(b []byte) (*domain.RoomSnapshot, error) {
	var room domain.RoomSnapshot
	if err := json.Unmarshal(b, &room); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	if room.ID == "" {
		return nil, nil
	}
	return &room, nil
}
