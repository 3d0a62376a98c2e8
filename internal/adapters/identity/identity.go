// Package identity resolves the session user from the profile endpoint.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

var ErrNoUserID = errors.New("profile has no user id")

type ProfileSource interface {
	Profile(ctx context.Context) (*payload.Profile, error)
}

// Accessor implements core.SessionAccessor. The profile is fetched once per
// accessor; a new login gets a new accessor.
type Accessor struct {
	src   ProfileSource
	token string

	mu   sync.Mutex
	user *domain.User
}

func New(src ProfileSource, token string) *Accessor {
	return &Accessor{src: src, token: token}
}

func (a *Accessor) Token() string { return a.token }

func (a *Accessor) CurrentUser(ctx context.Context) (*domain.User, error) {
	if a.token == "" {
		return nil, core.ErrUnauthenticated
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		p, err := a.src.Profile(ctx)
		if core.IsUnauthorized(err) {
			return nil, fmt.Errorf("%w: %v", core.ErrUnauthenticated, err)
		}
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		u := p.Normalize()
		if u.ID == "" {
			return nil, ErrNoUserID
		}
		a.user = u
		log.Info().Str("module", "identity").Str("user_id", string(u.ID)).Msg("profile loaded")
	}
	u := *a.user
	u.Skills = append([]string(nil), a.user.Skills...)
	return &u, nil
}
