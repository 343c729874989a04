package lab

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no lab matches the lookup.
var ErrNotFound = errors.New("lab: not found")

type Repository interface {
	Create(ctx context.Context, l *Lab) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lab, error)
	GetByIdentifier(ctx context.Context, identifier string) (*Lab, error)
	Update(ctx context.Context, l *Lab) error
	ListActive(ctx context.Context) ([]*Lab, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Lab, int, error)
}
