package payload

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/dkeye/teamroom/internal/domain"
)

// DefaultAvatarBase seeds placeholder avatars when a member has none.
const DefaultAvatarBase = "https://api.dicebear.com/7.x/avataaars/svg"

// Member is a member record in any of the shapes the backend produces:
// a bare id, a flat object, or an object wrapping a nested "user".
type Member struct {
	UserID   ID      `json:"user_id"`
	ID       ID      `json:"id"`
	Name     string  `json:"name"`
	Username string  `json:"username"`
	UserName string  `json:"user_name"`
	Role     string  `json:"role"`
	Pict     string  `json:"pict"`
	Avatar   string  `json:"avatar"`
	Picture  string  `json:"picture"`
	User     *Member `json:"user,omitempty"`
}

func (m *Member) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] != '{' {
		*m = Member{}
		return m.ID.UnmarshalJSON(b)
	}
	type plain Member
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = Member(p)
	return nil
}

// flat folds a nested user object into the outer record. Outer fields win.
func (m Member) flat() Member {
	if m.User == nil {
		return m
	}
	in := m.User.flat()
	return Member{
		UserID:   firstID(m.UserID, in.UserID),
		ID:       firstID(m.ID, in.ID),
		Name:     firstString(m.Name, in.Name),
		Username: firstString(m.Username, in.Username),
		UserName: firstString(m.UserName, in.UserName),
		Role:     firstString(m.Role, in.Role),
		Pict:     firstString(m.Pict, in.Pict),
		Avatar:   firstString(m.Avatar, in.Avatar),
		Picture:  firstString(m.Picture, in.Picture),
	}
}

// Identity is the member's user id. For a wrapped record the nested user
// id beats the wrapper's own id, which is a membership row id.
func (m Member) Identity() domain.UserID {
	if m.User != nil {
		return domain.UserID(firstID(m.UserID, m.User.UserID, m.User.ID, m.ID))
	}
	return domain.UserID(firstID(m.UserID, m.ID))
}

// Normalize maps the record to the canonical member shape.
func (m Member) Normalize(avatarBase string) domain.Member {
	f := m.flat()
	id := m.Identity()
	username := firstString(f.Username, f.UserName, f.Name)
	out := domain.Member{
		ID:        id,
		Name:      firstString(f.Name, f.Username, f.UserName),
		Username:  username,
		Role:      f.Role,
		AvatarURL: firstString(f.Pict, f.Avatar, f.Picture),
	}
	if out.AvatarURL == "" {
		out.AvatarURL = PlaceholderAvatar(avatarBase, firstString(username, string(id)))
	}
	if out.Username == "" {
		out.Username = domain.PlaceholderName(id)
	}
	if out.Name == "" {
		out.Name = out.Username
	}
	return out
}

// Update maps a live record to a partial update; missing fields stay empty.
func (m Member) Update() domain.MemberUpdate {
	f := m.flat()
	return domain.MemberUpdate{
		ID:        m.Identity(),
		Name:      f.Name,
		Username:  firstString(f.Username, f.UserName),
		Role:      f.Role,
		AvatarURL: firstString(f.Pict, f.Avatar, f.Picture),
	}
}

// PlaceholderAvatar builds a deterministic avatar URL for seed.
func PlaceholderAvatar(base, seed string) string {
	if base == "" {
		base = DefaultAvatarBase
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "seed=" + url.QueryEscape(seed)
}
