package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// Querier is the subset of *sql.DB the repositories need.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var _ Querier = (*sql.DB)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// insertErr maps a duplicate key on INSERT to repository.ErrDuplicate.
func insertErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}

// affectedOne reports whether a conditional write changed exactly one row.
func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func pointPtr(lat, lng sql.NullFloat64) *domain.Point {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &domain.Point{Lat: lat.Float64, Lng: lng.Float64}
}
