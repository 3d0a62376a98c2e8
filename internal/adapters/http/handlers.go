package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/teamroom/internal/app"
	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type memberDTO struct {
	UserID   domain.UserID `json:"user_id"`
	Name     string        `json:"name"`
	Username string        `json:"username"`
	Role     string        `json:"role"`
	Pict     string        `json:"pict"`
}

type roomDTO struct {
	ID       domain.RoomID     `json:"id"`
	LeaderID domain.UserID     `json:"leader_id"`
	Status   domain.RoomStatus `json:"status"`
	Members  []memberDTO       `json:"members"`
}

type historyDTO struct {
	ID        string        `json:"id"`
	RoomID    domain.RoomID `json:"room_id"`
	Action    string        `json:"action"`
	CreatedAt string        `json:"created_at"`
}

func toRoomDTO(s *domain.RoomSnapshot) roomDTO {
	out := roomDTO{ID: s.ID, LeaderID: s.LeaderID, Status: s.Status, Members: make([]memberDTO, 0, len(s.Members))}
	for _, m := range s.Members {
		out.Members = append(out.Members, memberDTO{
			UserID:   m.ID,
			Name:     m.Name,
			Username: m.Username,
			Role:     m.Role,
			Pict:     m.AvatarURL,
		})
	}
	return out
}

func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

func (b *Backend) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid body")
		return
	}
	token, _, err := b.Registry.Login(req.Email, req.Password)
	if errors.Is(err, app.ErrInvalidCredentials) {
		detail(c, http.StatusBadRequest, "Email and password are required")
		return
	}
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

func (b *Backend) profile(c *gin.Context) {
	u := currentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"user_id":  u.ID,
		"name":     u.DisplayName,
		"username": u.Username,
		"email":    b.Registry.Email(u.ID),
		"role":     u.Role,
		"skill":    strings.Join(u.Skills, ","),
		"pict":     u.AvatarURL,
	})
}

// matchBody renders a placed user as the join/status match shape.
func matchBody(res app.JoinResult) gin.H {
	if res.Room != nil {
		dto := toRoomDTO(res.Room)
		return gin.H{
			"status":    "matched",
			"room_id":   dto.ID,
			"id":        dto.ID,
			"leader_id": dto.LeaderID,
			"members":   dto.Members,
		}
	}
	return gin.H{
		"status":         "waiting",
		"queue_position": res.Position,
		"queue_size":     res.Size,
		"message":        fmt.Sprintf("Waiting for other users to join... (%d/%d users in queue)", res.Size, res.MinMatch),
	}
}

func (b *Backend) join(c *gin.Context) {
	c.JSON(http.StatusOK, matchBody(b.Rooms.Join(currentUser(c))))
}

func (b *Backend) status(c *gin.Context) {
	c.JSON(http.StatusOK, matchBody(b.Rooms.Status(currentUser(c))))
}

func (b *Backend) leaveQueue(c *gin.Context) {
	b.Rooms.LeaveQueue(currentUser(c))
	c.JSON(http.StatusOK, gin.H{"message": "Left queue"})
}

func (b *Backend) endRoom(c *gin.Context) {
	err := b.Rooms.EndRoom(currentUser(c))
	switch {
	case errors.Is(err, core.ErrNoActiveRoom):
		detail(c, http.StatusNotFound, "No active room")
	case errors.Is(err, app.ErrNotLeader):
		detail(c, http.StatusForbidden, "Only room leader can end session")
	case err != nil:
		detail(c, http.StatusInternalServerError, err.Error())
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Room session ended successfully"})
	}
}

func (b *Backend) listRooms(c *gin.Context) {
	rooms := b.Rooms.Rooms()
	out := make([]roomDTO, 0, len(rooms))
	for i := range rooms {
		out = append(out, toRoomDTO(&rooms[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (b *Backend) myRoom(c *gin.Context) {
	room, err := b.Rooms.MyRoom(currentUser(c))
	if err != nil {
		detail(c, http.StatusNotFound, "No active room")
		return
	}
	c.JSON(http.StatusOK, toRoomDTO(room))
}

func (b *Backend) getRoom(c *gin.Context) {
	room, err := b.Rooms.Room(domain.RoomID(c.Param("id")))
	if err != nil {
		detail(c, http.StatusNotFound, "Room not found")
		return
	}
	c.JSON(http.StatusOK, toRoomDTO(room))
}

func (b *Backend) leaveRoom(c *gin.Context) {
	err := b.Rooms.LeaveRoom(currentUser(c), domain.RoomID(c.Param("id")))
	switch {
	case errors.Is(err, app.ErrRoomNotFound):
		detail(c, http.StatusNotFound, "Room not found")
	case errors.Is(err, app.ErrNotMember):
		detail(c, http.StatusForbidden, "Not a member of this room")
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Left room"})
	}
}

func (b *Backend) history(c *gin.Context) {
	entries := b.Rooms.History(currentUser(c))
	out := make([]historyDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyDTO{
			ID:        e.ID,
			RoomID:    e.RoomID,
			Action:    e.Summary,
			CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, out)
}
