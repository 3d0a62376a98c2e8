package core

import (
	"context"
	"errors"

	"github.com/dkeye/teamroom/internal/domain"
)

var ErrUnauthenticated = errors.New("no authenticated session")

// SessionAccessor exposes the logged-in identity. The room code only reads it.
type SessionAccessor interface {
	// CurrentUser returns ErrUnauthenticated when there is no valid session.
	CurrentUser(ctx context.Context) (*domain.User, error)
	Token() string
}
