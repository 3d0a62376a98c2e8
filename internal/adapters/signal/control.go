package signal

func (h *Hub) handlePing(c *memberConn) {
	h.sendJSON(c, map[string]string{"type": "pong"})
}

func (h *Hub) handleWhoAmI(c *memberConn) {
	resp := struct {
		Type     string `json:"type"`
		UserID   string `json:"user_id"`
		Username string `json:"username"`
		Room     string `json:"room"`
	}{
		Type:     "whoami",
		UserID:   string(c.user.ID),
		Username: c.user.Username,
		Room:     string(c.room),
	}
	h.sendJSON(c, resp)
}
