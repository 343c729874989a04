package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// heuristicTags are tried in order when a notification carries no explicit
// lab reference. Institution is the most reliable signal; physician names the
// least, but some sites only populate those.
var heuristicTags = []string{
	"InstitutionName",
	"StationName",
	"Manufacturer",
	"ReferringPhysicianName",
	"PerformingPhysicianName",
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Create(ctx context.Context, l *Lab) error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("lab name is required")
	}
	if strings.TrimSpace(l.Identifier) == "" {
		l.Identifier = CanonicalIdentifier(l.Name)
	} else {
		l.Identifier = CanonicalIdentifier(l.Identifier)
	}
	return s.repo.Create(ctx, l)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Lab, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByIdentifier(ctx context.Context, identifier string) (*Lab, error) {
	return s.repo.GetByIdentifier(ctx, CanonicalIdentifier(identifier))
}

// Update changes a lab's name, active flag, and notes. The identifier is the
// natural key other records hang off and stays fixed.
func (s *Service) Update(ctx context.Context, l *Lab) error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("lab name is required")
	}
	return s.repo.Update(ctx, l)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Lab, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// Resolve finds the lab a study belongs to. It tries, in order: the explicit
// LabRef tag, a heuristic match over identifying tags, the default lab, and
// finally a fabricated emergency lab. It always returns a usable lab;
// ingestion never stalls on lab resolution.
func (s *Service) Resolve(ctx context.Context, tags map[string]string) *Lab {
	if ref := strings.TrimSpace(tags["LabRef"]); ref != "" {
		lab, err := s.resolveByRef(ctx, ref)
		if err != nil {
			s.logger.Warn().Err(err).Str("lab_ref", ref).Msg("lab reference lookup failed")
		} else if lab != nil {
			if !lab.Active {
				// An explicit reference is honored even when the lab is
				// deactivated; the sender knew which lab they meant.
				s.logger.Warn().
					Str("lab_id", lab.ID.String()).
					Str("identifier", lab.Identifier).
					Msg("explicit lab reference points at an inactive lab")
			}
			return lab
		}
	}

	lab, err := s.resolveHeuristic(ctx, tags)
	if err != nil {
		s.logger.Warn().Err(err).Msg("heuristic lab match failed")
	} else if lab != nil {
		return lab
	}

	lab, err = s.defaultLab(ctx)
	if err == nil {
		return lab
	}
	s.logger.Error().Err(err).Msg("default lab unavailable, fabricating emergency lab")

	return s.emergencyLab(ctx)
}

// resolveByRef interprets the LabRef tag first as a lab ID, then as an
// identifier. Returns (nil, nil) when the reference matches nothing.
func (s *Service) resolveByRef(ctx context.Context, ref string) (*Lab, error) {
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		lab, err := s.repo.GetByID(ctx, id)
		if err == nil {
			return lab, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	lab, err := s.repo.GetByIdentifier(ctx, CanonicalIdentifier(ref))
	if err == nil {
		return lab, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

// resolveHeuristic matches identifying tags against active labs. When the
// tags carry a usable value but nothing matches, a new lab is registered from
// the first value so the next study from the same site resolves directly.
// Returns (nil, nil) when no tag carries a usable value.
func (s *Service) resolveHeuristic(ctx context.Context, tags map[string]string) (*Lab, error) {
	var values []string
	for _, key := range heuristicTags {
		if v := strings.TrimSpace(tags[key]); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, nil
	}

	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	for _, v := range values {
		if lab := matchLab(active, v); lab != nil {
			return lab, nil
		}
	}

	note := "auto-registered from study tags"
	l := &Lab{Name: values[0], Identifier: CanonicalIdentifier(values[0]), Active: true, Notes: &note}
	if err := s.repo.Create(ctx, l); err != nil {
		// A concurrent ingestion may have registered the same site between
		// our list and insert. A deactivated lab can also own the
		// identifier; heuristics never resurrect those, the default lab
		// takes the study instead.
		if existing, gerr := s.repo.GetByIdentifier(ctx, l.Identifier); gerr == nil {
			if existing.Active {
				return existing, nil
			}
			return nil, nil
		}
		return nil, err
	}
	s.logger.Info().Str("lab_id", l.ID.String()).Str("name", l.Name).Msg("registered new lab from study tags")
	return l, nil
}

// matchLab compares one tag value against the active labs: exact name first,
// then canonical identifier, then substring in either direction.
func matchLab(labs []*Lab, value string) *Lab {
	for _, l := range labs {
		if strings.EqualFold(l.Name, value) {
			return l
		}
	}

	canonical := CanonicalIdentifier(value)
	for _, l := range labs {
		if l.Identifier == canonical {
			return l
		}
	}

	lower := strings.ToLower(value)
	for _, l := range labs {
		name := strings.ToLower(l.Name)
		if name != "" && (strings.Contains(name, lower) || strings.Contains(lower, name)) {
			return l
		}
	}
	return nil
}

// defaultLab returns the catch-all lab, creating it on first use. It is
// returned even when deactivated: the fallback must keep absorbing studies or
// they would land in fabricated emergency labs instead.
func (s *Service) defaultLab(ctx context.Context) (*Lab, error) {
	lab, err := s.repo.GetByIdentifier(ctx, DefaultIdentifier)
	if err == nil {
		return lab, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	l := &Lab{Name: DefaultName, Identifier: DefaultIdentifier, Active: true}
	if err := s.repo.Create(ctx, l); err != nil {
		if existing, gerr := s.repo.GetByIdentifier(ctx, DefaultIdentifier); gerr == nil {
			return existing, nil
		}
		return nil, err
	}
	return l, nil
}

// emergencyLab fabricates an in-memory lab when every store-backed tier
// failed. Persisting it is best-effort; the returned row is usable either
// way because studies carry the lab id without a foreign key.
func (s *Service) emergencyLab(ctx context.Context) *Lab {
	now := time.Now().UTC()
	l := &Lab{
		ID:         uuid.New(),
		Name:       EmergencyName,
		Identifier: EmergencyIdentifier,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, l); err != nil {
		s.logger.Error().Err(err).Msg("could not persist emergency lab, continuing with in-memory row")
	}
	return l
}
