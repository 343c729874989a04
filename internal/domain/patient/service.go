package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service resolves archive patient tags to stored patients.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// Resolve maps a study's tags to a patient row, creating one when needed.
// Notifications without a real PatientID, including ids the extractor
// synthesized under UnidentifiedIDPrefix, all land on the shared anonymous
// sentinel. The only mutation of an existing patient is the name upgrade
// below; sex, birth date and external id are written once at creation and
// never touched again.
func (s *Service) Resolve(ctx context.Context, tags map[string]string) (*Patient, error) {
	externalID := strings.TrimSpace(tags["PatientID"])
	if externalID == "" || strings.HasPrefix(externalID, UnidentifiedIDPrefix) {
		return s.anonymous(ctx)
	}

	name := ParseName(tags["PatientName"])
	display := name.Display()

	existing, err := s.repo.GetByExternalID(ctx, externalID)
	if err == nil {
		return s.maybeUpgradeName(ctx, existing, name, display)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup patient %q: %w", externalID, err)
	}

	p := &Patient{
		ExternalID:  &externalID,
		DisplayName: display,
		FirstName:   name.Given,
		LastName:    name.Family,
		Sex:         sexPtr(tags["PatientSex"]),
		BirthDate:   ParseBirthDate(tags["PatientBirthDate"]),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		// Concurrent ingestion of the same patient. The unique index on
		// external_id rejects the second insert; the winner's row is ours.
		if again, gerr := s.repo.GetByExternalID(ctx, externalID); gerr == nil {
			return again, nil
		}
		return nil, fmt.Errorf("create patient %q: %w", externalID, err)
	}
	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Str("external_id", externalID).
		Msg("registered new patient")
	return p, nil
}

// maybeUpgradeName replaces a stored name that still carries the raw caret
// delimiter once a notification arrives with a cleanly parsed one. Anything
// else about the stored row wins over the new tags.
func (s *Service) maybeUpgradeName(ctx context.Context, existing *Patient, name ParsedName, display string) (*Patient, error) {
	if !strings.Contains(existing.DisplayName, "^") || strings.Contains(display, "^") {
		return existing, nil
	}
	if err := s.repo.UpdateName(ctx, existing.ID, display, name.Given, name.Family); err != nil {
		return nil, fmt.Errorf("upgrade patient name: %w", err)
	}
	s.logger.Info().
		Str("patient_id", existing.ID.String()).
		Str("old_name", existing.DisplayName).
		Str("new_name", display).
		Msg("upgraded raw patient name")
	existing.DisplayName = display
	existing.FirstName = name.Given
	existing.LastName = name.Family
	return existing, nil
}

func (s *Service) anonymous(ctx context.Context) (*Patient, error) {
	p, err := s.repo.GetAnonymous(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup anonymous patient: %w", err)
	}

	p = &Patient{DisplayName: AnonymousDisplayName, Anonymous: true}
	if err := s.repo.Create(ctx, p); err != nil {
		// Lost the race to create the sentinel.
		if again, gerr := s.repo.GetAnonymous(ctx); gerr == nil {
			return again, nil
		}
		return nil, fmt.Errorf("create anonymous patient: %w", err)
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Msg("created anonymous patient sentinel")
	return p, nil
}

func sexPtr(raw string) *string {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if v == "" {
		return nil
	}
	return &v
}
