package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the stored version no longer matches the version the caller loaded.
	ErrConflict    = errors.New("version conflict")
	ErrInvalidSort = errors.New("invalid sort")
	ErrDuplicate   = errors.New("duplicate key")
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists the errand aggregate and its child collections.
type Store struct {
	DB     *sql.DB
	Params Params
	Now    func() time.Time
}

func New(db *sql.DB) Store {
	return Store{DB: db, Params: Params{DB: db}, Now: time.Now}
}

func (s Store) now() string {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (s Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
