package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"docsign/internal/model"
	"docsign/internal/repository"
)

const uniqueViolation = "23505"

// RecordPostgres is a PostgreSQL implementation of
// repository.RecordRepository. It uses database/sql with parameterized
// queries; the signed transition is a conditional UPDATE so concurrent
// finalize attempts serialize inside the database.
type RecordPostgres struct {
	db *sql.DB
}

// NewRecordPostgres creates a new RecordPostgres repository.
func NewRecordPostgres(db *sql.DB) *RecordPostgres {
	return &RecordPostgres{db: db}
}

var _ repository.RecordRepository = (*RecordPostgres)(nil)

// Create inserts a new record row and returns the stored record.
func (r *RecordPostgres) Create(ctx context.Context, rec *model.DocumentRecord) (*model.DocumentRecord, error) {
	const q = `
		INSERT INTO documents (id, source_path, recipient_email, signed, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, source_path, recipient_email, signed, signed_path, created_at
	`
	row := r.db.QueryRowContext(ctx, q,
		rec.ID,
		rec.SourcePath,
		rec.RecipientEmail,
		rec.Signed,
		rec.CreatedAt,
	)
	out, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, repository.ErrDuplicateID
		}
		return nil, err
	}
	return out, nil
}

// FindByID fetches a single record by its id.
func (r *RecordPostgres) FindByID(ctx context.Context, id string) (*model.DocumentRecord, error) {
	const q = `
		SELECT id, source_path, recipient_email, signed, signed_path, created_at
		FROM documents
		WHERE id = $1
	`
	return scanRecord(r.db.QueryRowContext(ctx, q, id))
}

// MarkSigned performs the terminal signed transition as a compare-and-swap:
// the UPDATE only matches an unsigned row, so exactly one concurrent caller
// wins and the rest resolve to ErrAlreadySigned.
func (r *RecordPostgres) MarkSigned(ctx context.Context, id, signedPath string) (*model.DocumentRecord, error) {
	const q = `
		UPDATE documents
		SET signed = TRUE, signed_path = $2
		WHERE id = $1 AND signed = FALSE
		RETURNING id, source_path, recipient_email, signed, signed_path, created_at
	`
	out, err := scanRecord(r.db.QueryRowContext(ctx, q, id, signedPath))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Distinguish a lost race from an unknown id.
	var signed bool
	probe := r.db.QueryRowContext(ctx, `SELECT signed FROM documents WHERE id = $1`, id)
	if probeErr := probe.Scan(&signed); probeErr != nil {
		return nil, probeErr
	}
	if signed {
		return nil, repository.ErrAlreadySigned
	}
	return nil, err
}

// List returns records using LIMIT/OFFSET pagination and a total count.
func (r *RecordPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.DocumentRecord], error) {
	const qCount = `SELECT COUNT(*) FROM documents`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT id, source_path, recipient_email, signed, signed_path, created_at
		FROM documents
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.DocumentRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.DocumentRecord]{
		Items: items,
		Total: total,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.DocumentRecord, error) {
	var rec model.DocumentRecord
	var signedPath sql.NullString
	if err := row.Scan(
		&rec.ID,
		&rec.SourcePath,
		&rec.RecipientEmail,
		&rec.Signed,
		&signedPath,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.SignedPath = signedPath.String
	return &rec, nil
}
