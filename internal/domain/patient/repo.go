package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a patient does not exist.
var ErrNotFound = errors.New("patient: not found")

// Repository defines patient storage operations.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByExternalID(ctx context.Context, externalID string) (*Patient, error)
	// GetAnonymous returns the shared sentinel row for unidentified patients.
	GetAnonymous(ctx context.Context) (*Patient, error)
	// UpdateName rewrites the name fields only. Ingestion never touches any
	// other column of an existing patient.
	UpdateName(ctx context.Context, id uuid.UUID, display, first, last string) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)
}
