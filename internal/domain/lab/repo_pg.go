package lab

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

const labCols = `id, name, identifier, active, notes, created_at, updated_at`

func scanLab(row pgx.Row) (*Lab, error) {
	var l Lab
	err := row.Scan(&l.ID, &l.Name, &l.Identifier, &l.Active, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &l, err
}

func (r *repoPG) Create(ctx context.Context, l *Lab) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO labs (id, name, identifier, active, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		l.ID, l.Name, l.Identifier, l.Active, l.Notes).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Lab, error) {
	return scanLab(r.conn(ctx).QueryRow(ctx, `SELECT `+labCols+` FROM labs WHERE id = $1`, id))
}

func (r *repoPG) GetByIdentifier(ctx context.Context, identifier string) (*Lab, error) {
	return scanLab(r.conn(ctx).QueryRow(ctx, `SELECT `+labCols+` FROM labs WHERE identifier = $1`, identifier))
}

func (r *repoPG) Update(ctx context.Context, l *Lab) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE labs SET name=$2, active=$3, notes=$4, updated_at=NOW()
		WHERE id = $1`,
		l.ID, l.Name, l.Active, l.Notes)
	return err
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Lab, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+labCols+` FROM labs WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Lab
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Lab, int, error) {
	query := `SELECT ` + labCols + ` FROM labs WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM labs WHERE 1=1`
	var args []interface{}
	idx := 1

	if p, ok := params["name"]; ok {
		query += fmt.Sprintf(` AND name ILIKE $%d`, idx)
		countQuery += fmt.Sprintf(` AND name ILIKE $%d`, idx)
		args = append(args, "%"+p+"%")
		idx++
	}
	if p, ok := params["identifier"]; ok {
		query += fmt.Sprintf(` AND identifier = $%d`, idx)
		countQuery += fmt.Sprintf(` AND identifier = $%d`, idx)
		args = append(args, CanonicalIdentifier(p))
		idx++
	}
	if p, ok := params["active"]; ok {
		query += fmt.Sprintf(` AND active = $%d`, idx)
		countQuery += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, p == "true")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Lab
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}
