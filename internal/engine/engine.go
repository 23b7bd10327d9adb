package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"casedata/internal/config"
	"casedata/internal/domain"
	"casedata/internal/events"
	"casedata/internal/filter"
	"casedata/internal/logger"
	"casedata/internal/numbering"
	"casedata/internal/repo"
)

// ProcessStarter starts the remote process of a freshly created errand.
type ProcessStarter interface {
	StartProcess(ctx context.Context, e domain.Errand) (processID string, ok bool, err error)
}

// Publisher receives committed changes.
type Publisher interface {
	Publish(evt events.Event)
}

type Engine struct {
	DB        *sql.DB
	Store     repo.Store
	Events    events.Writer
	Numbers   numbering.Generator
	Process   ProcessStarter
	Publisher Publisher
	Config    *config.Config
	Log       *logger.Logger
	Now       func() time.Time
}

// New wires an engine over db with the SQL errand number counter and no process engine or
// publisher; callers set those when they exist.
func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := Engine{
		DB:      db,
		Store:   repo.New(db),
		Events:  events.Writer{},
		Numbers: numbering.Generator{Counter: numbering.SQLCounter{}, Prefix: cfg.Numbering.Prefix},
		Config:  cfg,
		Log:     logger.Nop(),
		Now:     time.Now,
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// store returns the aggregate store with the engine clock.
func (e Engine) store() repo.Store {
	s := e.Store
	s.Now = e.now
	return s
}

func (e Engine) history() events.Writer {
	h := e.Events
	h.Now = e.now
	return h
}

func (e Engine) numbers() numbering.Generator {
	g := e.Numbers
	if g.Now == nil {
		g.Now = e.now
	}
	return g
}

func (e Engine) log() *logger.Logger {
	if e.Log == nil {
		return logger.Nop()
	}
	return e.Log
}

func (e Engine) publish(evtType string, errand domain.Errand) {
	if e.Publisher == nil {
		return
	}
	e.Publisher.Publish(events.Event{Type: evtType, Errand: errand})
}

var tracer = otel.Tracer("casedata/engine")

func startSpan(ctx context.Context, op string, scope domain.Scope, id int64) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(
		attribute.String("municipality_id", scope.MunicipalityID),
		attribute.String("namespace", scope.Namespace),
		attribute.Int64("errand_id", id),
	)
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

// retryOnConflict runs fn in a fresh transaction per attempt. Only version conflicts are retried;
// once the attempts are used up the caller gets a retryable error.
func (e Engine) retryOnConflict(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	policy := e.Config.Retry
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.InitialBackoff()
	for attempt := 1; ; attempt++ {
		err := e.store().InTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return err
		}
		if attempt >= attempts {
			return domain.NewError(domain.CodeRetryable, op,
				fmt.Sprintf("concurrent modification, gave up after %d attempts", attempt), err)
		}
		e.log().Debug("engine: version conflict, retrying", "op", op, "attempt", attempt, "backoff", backoff)
		if backoff > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return domain.Wrap(domain.CodeRetryable, op, ctx.Err())
			case <-t.C:
			}
		}
		backoff *= 2
		if ceiling := policy.MaxBackoff(); ceiling > 0 && backoff > ceiling {
			backoff = ceiling
		}
	}
}

type mutation struct {
	op        string
	evtType   string
	exclusive bool
	// silent skips post-commit publication.
	silent bool
	// apply changes the loaded errand in memory and returns the history payload.
	apply func(e *domain.Errand) (events.EventPayload, error)
	// afterSave runs in the same transaction once the version-checked save succeeded.
	afterSave func(ctx context.Context, tx *sql.Tx, e *domain.Errand) error
}

// mutate runs one read-modify-write cycle of the errand under optimistic concurrency, or under the
// database write lock when m.exclusive is set. The delta is reapplied to a fresh load on every
// attempt. The saved errand is published after commit.
func (e Engine) mutate(ctx context.Context, scope domain.Scope, id int64, actor domain.Actor, m mutation) (saved domain.Errand, err error) {
	ctx, end := startSpan(ctx, m.op, scope, id)
	defer end(&err)
	if err := validateActor(m.op, actor); err != nil {
		return domain.Errand{}, err
	}
	store := e.store()
	err = e.retryOnConflict(ctx, m.op, func(tx *sql.Tx) error {
		var (
			errand domain.Errand
			err    error
		)
		if m.exclusive {
			errand, err = store.GetErrandExclusive(ctx, tx, scope, id)
		} else {
			// The optimistic load happens outside tx, so tx starts with the version-checked write.
			errand, err = store.GetErrand(ctx, e.DB, scope, id)
		}
		if err != nil {
			return err
		}
		payload, err := m.apply(&errand)
		if err != nil {
			return err
		}
		errand.Stamp(actor, e.stamp())
		if err := store.SaveErrand(ctx, tx, &errand); err != nil {
			return err
		}
		if m.afterSave != nil {
			if err := m.afterSave(ctx, tx, &errand); err != nil {
				return err
			}
		}
		if err := e.history().Append(ctx, tx, m.evtType, errand, actor, payload); err != nil {
			return fmt.Errorf("record history: %w", err)
		}
		saved = errand
		return nil
	})
	if err != nil {
		return domain.Errand{}, mapError(m.op, err)
	}
	if !m.silent {
		e.publish(m.evtType, saved)
	}
	return saved, nil
}

func validateActor(op string, actor domain.Actor) error {
	if actor.ClientID == "" {
		return domain.Validation(op, "client id is required")
	}
	return nil
}

// mapError turns store and parser failures into coded errors.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var coded *domain.Error
	if errors.As(err, &coded) {
		return err
	}
	var syntaxErr *filter.SyntaxError
	var fieldErr *filter.FieldError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return domain.Wrap(domain.CodeNotFound, op, err)
	case errors.Is(err, repo.ErrConflict):
		return domain.Wrap(domain.CodeConflict, op, err)
	case errors.Is(err, repo.ErrInvalidSort), errors.Is(err, repo.ErrDuplicate),
		errors.As(err, &syntaxErr), errors.As(err, &fieldErr):
		return domain.Wrap(domain.CodeValidation, op, err)
	default:
		return domain.Wrap(domain.CodeInternal, op, err)
	}
}
