package study

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a study does not exist.
var ErrNotFound = errors.New("study: not found")

// Repository defines study storage operations.
type Repository interface {
	Create(ctx context.Context, st *Study) error
	Update(ctx context.Context, st *Study) error
	GetByID(ctx context.Context, id uuid.UUID) (*Study, error)
	GetByStudyUID(ctx context.Context, studyUID string) (*Study, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Study, int, error)
	AppendHistory(ctx context.Context, h *StatusHistory) error
	History(ctx context.Context, studyID uuid.UUID) ([]*StatusHistory, error)
}
