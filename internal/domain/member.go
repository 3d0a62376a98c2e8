package domain

import "strings"

// PlaceholderPrefix marks a generated display name ("User 42") that the
// server hands out before a profile is filled in.
const PlaceholderPrefix = "User "

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	ID        UserID `json:"id"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User) *Member {
	return &Member{
		ID:        user.ID,
		Name:      user.DisplayName,
		Username:  user.Username,
		Role:      user.Role,
		AvatarURL: user.AvatarURL,
	}
}

// PlaceholderName is the generic name used when nothing better is known.
func PlaceholderName(id UserID) string {
	return PlaceholderPrefix + string(id)
}

// HasPlaceholderName reports whether the username is missing or generated.
func (m Member) HasPlaceholderName() bool {
	return m.Username == "" || strings.HasPrefix(m.Username, PlaceholderPrefix)
}

// MemberUpdate carries live profile fields for a member. Empty fields keep
// the current value.
type MemberUpdate struct {
	ID        UserID
	Name      string
	Username  string
	Role      string
	AvatarURL string
}

// Apply merges u into m, last write wins per non-empty field.
func (m *Member) Apply(u MemberUpdate) {
	if u.Username != "" {
		m.Username = u.Username
	}
	switch {
	case u.Name != "":
		m.Name = u.Name
	case u.Username != "":
		m.Name = u.Username
	}
	if u.Role != "" {
		m.Role = u.Role
	}
	if u.AvatarURL != "" {
		m.AvatarURL = u.AvatarURL
	}
}
