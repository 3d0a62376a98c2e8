package payload

import "encoding/json"

// Push channel event types.
const (
	EventChat      = "chat"
	EventUsersList = "users_list"
)

// Envelope is one text frame on the push channel.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Chat is the data of a chat event.
type Chat struct {
	UserID   ID     `json:"user_id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Text     string `json:"text"`
}

// OutboundChat is what the client sends to post a chat line.
type OutboundChat struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
