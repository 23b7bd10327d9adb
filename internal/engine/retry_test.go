package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"casedata/internal/config"
	"casedata/internal/db"
	"casedata/internal/domain"
	"casedata/internal/repo"
)

func newRetryEngine(t *testing.T, attempts int) Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	cfg := config.Default()
	cfg.Retry.MaxAttempts = attempts
	cfg.Retry.InitialBackoffMS = 1
	cfg.Retry.MaxBackoffMS = 2
	return New(conn, cfg)
}

func TestRetryOnConflictGivesUpAsRetryable(t *testing.T) {
	e := newRetryEngine(t, 3)
	calls := 0
	err := e.retryOnConflict(context.Background(), "test.op", func(*sql.Tx) error {
		calls++
		return fmt.Errorf("errand 1: %w", repo.ErrConflict)
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !domain.IsCode(err, domain.CodeRetryable) {
		t.Fatalf("expected retryable, got %v", err)
	}
}

func TestRetryOnConflictSucceedsAfterConflict(t *testing.T) {
	e := newRetryEngine(t, 3)
	calls := 0
	err := e.retryOnConflict(context.Background(), "test.op", func(*sql.Tx) error {
		calls++
		if calls == 1 {
			return repo.ErrConflict
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryOnConflictDoesNotRetryOtherErrors(t *testing.T) {
	e := newRetryEngine(t, 5)
	boom := errors.New("boom")
	calls := 0
	err := e.retryOnConflict(context.Background(), "test.op", func(*sql.Tx) error {
		calls++
		return boom
	})
	if calls != 1 || !errors.Is(err, boom) {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryOnConflictStopsOnCancelledContext(t *testing.T) {
	e := newRetryEngine(t, 5)
	e.Config.Retry.InitialBackoffMS = 1000
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := e.retryOnConflict(ctx, "test.op", func(*sql.Tx) error {
		calls++
		cancel()
		return repo.ErrConflict
	})
	if calls != 1 || !domain.IsCode(err, domain.CodeRetryable) {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err  error
		want domain.ErrorCode
	}{
		{repo.ErrNotFound, domain.CodeNotFound},
		{fmt.Errorf("x: %w", repo.ErrConflict), domain.CodeConflict},
		{repo.ErrInvalidSort, domain.CodeValidation},
		{repo.ErrDuplicate, domain.CodeValidation},
		{domain.NotFound("op", "gone"), domain.CodeNotFound},
		{errors.New("disk"), domain.CodeInternal},
	}
	for _, c := range cases {
		if got := domain.CodeOf(mapError("op", c.err)); got != c.want {
			t.Fatalf("%v: got %s want %s", c.err, got, c.want)
		}
	}
	if mapError("op", nil) != nil {
		t.Fatal("nil must stay nil")
	}
}
