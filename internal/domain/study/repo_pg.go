package study

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radgate/radgate/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const studyCols = `id, study_uid, archive_id, accession_number, patient_id, lab_id,
	series_count, instance_count, modalities, status, study_description, study_date,
	referring_physician, institution_name, station_name, manufacturer, patient_name,
	created_at, updated_at`

func scanStudy(row pgx.Row) (*Study, error) {
	var st Study
	err := row.Scan(&st.ID, &st.StudyUID, &st.ArchiveID, &st.AccessionNumber, &st.PatientID, &st.LabID,
		&st.SeriesCount, &st.InstanceCount, &st.Modalities, &st.Status, &st.StudyDescription, &st.StudyDate,
		&st.ReferringPhysician, &st.InstitutionName, &st.StationName, &st.Manufacturer, &st.PatientName,
		&st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &st, err
}

func (r *repoPG) Create(ctx context.Context, st *Study) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO studies (id, study_uid, archive_id, accession_number, patient_id, lab_id,
			series_count, instance_count, modalities, status, study_description, study_date,
			referring_physician, institution_name, station_name, manufacturer, patient_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`,
		st.ID, st.StudyUID, st.ArchiveID, st.AccessionNumber, st.PatientID, st.LabID,
		st.SeriesCount, st.InstanceCount, st.Modalities, st.Status, st.StudyDescription, st.StudyDate,
		st.ReferringPhysician, st.InstitutionName, st.StationName, st.Manufacturer, st.PatientName,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
}

func (r *repoPG) Update(ctx context.Context, st *Study) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE studies SET archive_id=$2, accession_number=$3, patient_id=$4, lab_id=$5,
			series_count=$6, instance_count=$7, modalities=$8, status=$9, study_description=$10,
			study_date=$11, referring_physician=$12, institution_name=$13, station_name=$14,
			manufacturer=$15, patient_name=$16, updated_at=NOW()
		WHERE id = $1`,
		st.ID, st.ArchiveID, st.AccessionNumber, st.PatientID, st.LabID,
		st.SeriesCount, st.InstanceCount, st.Modalities, st.Status, st.StudyDescription,
		st.StudyDate, st.ReferringPhysician, st.InstitutionName, st.StationName,
		st.Manufacturer, st.PatientName)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Study, error) {
	return scanStudy(r.conn(ctx).QueryRow(ctx, `SELECT `+studyCols+` FROM studies WHERE id = $1`, id))
}

func (r *repoPG) GetByStudyUID(ctx context.Context, studyUID string) (*Study, error) {
	return scanStudy(r.conn(ctx).QueryRow(ctx, `SELECT `+studyCols+` FROM studies WHERE study_uid = $1`, studyUID))
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Study, int, error) {
	query := `SELECT ` + studyCols + ` FROM studies WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM studies WHERE 1=1`
	var args []interface{}
	idx := 1

	addFilter := func(clause string, value interface{}) {
		query += fmt.Sprintf(clause, idx)
		countQuery += fmt.Sprintf(clause, idx)
		args = append(args, value)
		idx++
	}

	if p, ok := params["status"]; ok {
		addFilter(` AND status = $%d`, p)
	}
	if p, ok := params["patient_id"]; ok {
		addFilter(` AND patient_id = $%d`, p)
	}
	if p, ok := params["lab_id"]; ok {
		addFilter(` AND lab_id = $%d`, p)
	}
	if p, ok := params["modality"]; ok {
		addFilter(` AND $%d = ANY(modalities)`, p)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Study
	for rows.Next() {
		st, err := scanStudy(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, st)
	}
	return items, total, rows.Err()
}

func (r *repoPG) AppendHistory(ctx context.Context, h *StatusHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO study_status_history (id, study_id, from_status, to_status, detail, changed_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING changed_at`,
		h.ID, h.StudyID, h.FromStatus, h.ToStatus, h.Detail, h.ChangedBy,
	).Scan(&h.ChangedAt)
}

func (r *repoPG) History(ctx context.Context, studyID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, study_id, from_status, to_status, detail, changed_by, changed_at
		FROM study_status_history
		WHERE study_id = $1
		ORDER BY changed_at`, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.StudyID, &h.FromStatus, &h.ToStatus, &h.Detail, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}
