package study

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/radgate/radgate/internal/platform/db"
)

// ingestionActor is the ChangedBy recorded on history rows the pipeline
// writes.
const ingestionActor = "ingestion"

// UpsertInput carries everything one ingestion run learned about a study.
type UpsertInput struct {
	StudyUID           string
	ArchiveID          string
	AccessionNumber    string
	PatientID          uuid.UUID
	LabID              uuid.UUID
	LabName            string
	SeriesCount        int
	InstanceCount      int
	Modalities         []string
	StudyDescription   string
	StudyDate          *time.Time
	ReferringPhysician string
	InstitutionName    string
	StationName        string
	Manufacturer       string
	PatientName        string
}

// Service owns study writes. Every ingestion lands through Upsert; the
// reporting workflow moves statuses through UpdateStatus.
type Service struct {
	repo   Repository
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewService wires the study service. A nil pool skips transaction wrapping,
// which unit tests use.
func NewService(repo Repository, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{repo: repo, pool: pool, logger: logger}
}

func (s *Service) withTx(ctx context.Context, fn func(context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Study, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByStudyUID(ctx context.Context, studyUID string) (*Study, error) {
	return s.repo.GetByStudyUID(ctx, studyUID)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Study, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

func (s *Service) History(ctx context.Context, studyID uuid.UUID) ([]*StatusHistory, error) {
	if _, err := s.repo.GetByID(ctx, studyID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, studyID)
}

// Upsert stores one ingestion run's view of a study, keyed by StudyUID. The
// aggregate write and its history row commit together. Returns the stored
// study and whether it was newly created. A duplicate-key race between two
// concurrent first ingestions of the same study surfaces as an error; the
// notification is redelivered, so the loser simply retries as an update.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (*Study, bool, error) {
	if strings.TrimSpace(in.StudyUID) == "" {
		return nil, false, fmt.Errorf("study: StudyInstanceUID is required")
	}

	var (
		result  *Study
		created bool
	)
	err := s.withTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetByStudyUID(ctx, in.StudyUID)
		switch {
		case err == nil:
			result, err = s.merge(ctx, existing, in)
			return err
		case errors.Is(err, ErrNotFound):
			result, err = s.create(ctx, in)
			created = err == nil
			return err
		default:
			return fmt.Errorf("lookup study %s: %w", in.StudyUID, err)
		}
	})
	if err != nil {
		return nil, false, err
	}

	s.logger.Info().
		Str("study_id", result.ID.String()).
		Str("study_uid", result.StudyUID).
		Str("status", result.Status).
		Bool("created", created).
		Int("series", result.SeriesCount).
		Int("instances", result.InstanceCount).
		Msg("study upserted")
	return result, created, nil
}

func ingestionStatus(instanceCount int) string {
	if instanceCount > 0 {
		return StatusNewStudyReceived
	}
	return StatusNewMetadataOnly
}

func (s *Service) create(ctx context.Context, in UpsertInput) (*Study, error) {
	st := &Study{
		StudyUID:           in.StudyUID,
		ArchiveID:          in.ArchiveID,
		AccessionNumber:    in.AccessionNumber,
		PatientID:          in.PatientID,
		LabID:              in.LabID,
		SeriesCount:        in.SeriesCount,
		InstanceCount:      in.InstanceCount,
		Modalities:         UnionModalities(in.Modalities, nil),
		Status:             ingestionStatus(in.InstanceCount),
		StudyDescription:   in.StudyDescription,
		StudyDate:          in.StudyDate,
		ReferringPhysician: in.ReferringPhysician,
		InstitutionName:    in.InstitutionName,
		StationName:        in.StationName,
		Manufacturer:       in.Manufacturer,
		PatientName:        in.PatientName,
	}
	if err := s.repo.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("create study %s: %w", in.StudyUID, err)
	}
	if err := s.appendIngestionHistory(ctx, st, nil, in); err != nil {
		return nil, err
	}
	return st, nil
}

// merge overwrites the denormalized columns with the latest tags and unions
// the modality set. The status is recomputed only while the study is still in
// an ingestion-controlled state; once the reporting workflow has moved it on,
// a re-delivered notification must not drag it back.
func (s *Service) merge(ctx context.Context, st *Study, in UpsertInput) (*Study, error) {
	from := st.Status

	st.ArchiveID = in.ArchiveID
	st.AccessionNumber = in.AccessionNumber
	st.PatientID = in.PatientID
	st.LabID = in.LabID
	st.SeriesCount = in.SeriesCount
	st.InstanceCount = in.InstanceCount
	st.Modalities = UnionModalities(st.Modalities, in.Modalities)
	st.StudyDescription = in.StudyDescription
	st.StudyDate = in.StudyDate
	st.ReferringPhysician = in.ReferringPhysician
	st.InstitutionName = in.InstitutionName
	st.StationName = in.StationName
	st.Manufacturer = in.Manufacturer
	st.PatientName = in.PatientName

	if IsIngestionStatus(st.Status) {
		st.Status = ingestionStatus(in.InstanceCount)
	}

	if err := s.repo.Update(ctx, st); err != nil {
		return nil, fmt.Errorf("update study %s: %w", in.StudyUID, err)
	}
	if err := s.appendIngestionHistory(ctx, st, &from, in); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) appendIngestionHistory(ctx context.Context, st *Study, from *string, in UpsertInput) error {
	h := &StatusHistory{
		StudyID:    st.ID,
		FromStatus: from,
		ToStatus:   st.Status,
		Detail:     fmt.Sprintf("%d series, %d instances, lab %q", in.SeriesCount, in.InstanceCount, in.LabName),
		ChangedBy:  ingestionActor,
	}
	if err := s.repo.AppendHistory(ctx, h); err != nil {
		return fmt.Errorf("append study history: %w", err)
	}
	return nil
}

// UpdateStatus moves a study through the reporting workflow. Only the
// downstream statuses are reachable here; the new-* pair belongs to
// ingestion.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, toStatus, detail, changedBy string) (*Study, error) {
	if !IsWorkflowStatus(toStatus) {
		return nil, fmt.Errorf("study: invalid workflow status %q", toStatus)
	}

	var result *Study
	err := s.withTx(ctx, func(ctx context.Context) error {
		st, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		from := st.Status
		st.Status = toStatus
		if err := s.repo.Update(ctx, st); err != nil {
			return fmt.Errorf("update study status: %w", err)
		}
		h := &StatusHistory{
			StudyID:    st.ID,
			FromStatus: &from,
			ToStatus:   toStatus,
			Detail:     detail,
			ChangedBy:  changedBy,
		}
		if err := s.repo.AppendHistory(ctx, h); err != nil {
			return fmt.Errorf("append study history: %w", err)
		}
		result = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("study_id", result.ID.String()).
		Str("status", result.Status).
		Str("changed_by", changedBy).
		Msg("study status updated")
	return result, nil
}
