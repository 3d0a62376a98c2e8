// Package app is the in-memory matchmaking backend served by the mock
// server: accounts and tokens, the queue, rooms and per-user history.
package app

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

var ErrInvalidCredentials = errors.New("email and password are required")

type Registry struct {
	mu      sync.RWMutex
	byToken map[string]*domain.User
	byEmail map[string]*domain.User
	byID    map[domain.UserID]*domain.User
	emails  map[domain.UserID]string
}

func NewRegistry() *Registry {
	return &Registry{
		byToken: make(map[string]*domain.User),
		byEmail: make(map[string]*domain.User),
		byID:    make(map[domain.UserID]*domain.User),
		emails:  make(map[domain.UserID]string),
	}
}

// Login issues a fresh token for email, creating the account on first use.
// Any non-empty password is accepted.
func (r *Registry) Login(email, password string) (string, *domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", nil, ErrInvalidCredentials
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byEmail[email]
	if !ok {
		handle := strings.SplitN(email, "@", 2)[0]
		if handle == "" {
			handle = email
		}
		if len(handle) > domain.MaxUsernameLen {
			handle = handle[:domain.MaxUsernameLen]
		}
		var err error
		u, err = domain.NewUser(domain.UserID("user_"+uuid.NewString()[:8]), handle)
		if err != nil {
			return "", nil, err
		}
		u.Role = "FE Engineer"
		u.Skills = []string{"React", "JavaScript"}
		u.AvatarURL = payload.PlaceholderAvatar("", email)
		r.byEmail[email] = u
		r.byID[u.ID] = u
		r.emails[u.ID] = email
		log.Info().Str("module", "app.registry").Str("user_id", string(u.ID)).Msg("created new user")
	}
	token := "mock_token_" + uuid.NewString()
	r.byToken[token] = u
	log.Info().Str("module", "app.registry").Str("user_id", string(u.ID)).Msg("token issued")
	return token, cloneUser(u), nil
}

func (r *Registry) Authenticate(token string) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byToken[token]
	if !ok {
		return nil, false
	}
	return cloneUser(u), true
}

func (r *Registry) Email(id domain.UserID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.emails[id]
}

func cloneUser(u *domain.User) *domain.User {
	cp := *u
	cp.Skills = append([]string(nil), u.Skills...)
	return &cp
}
