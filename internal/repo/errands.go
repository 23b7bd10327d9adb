package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"casedata/internal/domain"
	"casedata/internal/filter"
)

const errandColumns = `id,errand_number,version,municipality_id,namespace,case_type,priority,
COALESCE(external_case_id,''),COALESCE(channel,''),COALESCE(description,''),COALESCE(case_title_addition,''),
COALESCE(diary_number,''),COALESCE(phase,''),COALESCE(start_date,''),COALESCE(end_date,''),
COALESCE(application_received,''),process_id,created_by_client,updated_by_client,
COALESCE(created_by,''),COALESCE(updated_by,''),created,updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanErrand(row rowScanner) (domain.Errand, error) {
	var e domain.Errand
	var processID sql.NullString
	err := row.Scan(&e.ID, &e.ErrandNumber, &e.Version, &e.MunicipalityID, &e.Namespace, &e.CaseType, &e.Priority,
		&e.ExternalCaseID, &e.Channel, &e.Description, &e.CaseTitleAddition,
		&e.DiaryNumber, &e.Phase, &e.StartDate, &e.EndDate,
		&e.ApplicationReceived, &processID, &e.CreatedByClient, &e.UpdatedByClient,
		&e.CreatedBy, &e.UpdatedBy, &e.Created, &e.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if processID.Valid {
		pid := processID.String
		e.ProcessID = &pid
	}
	return e, nil
}

// GetErrand loads the fully hydrated errand without locking.
func (s Store) GetErrand(ctx context.Context, q Querier, scope domain.Scope, id int64) (domain.Errand, error) {
	e, err := scanErrand(q.QueryRowContext(ctx, `SELECT `+errandColumns+` FROM errands WHERE id=? AND municipality_id=? AND namespace=?`,
		id, scope.MunicipalityID, scope.Namespace))
	if err != nil {
		return e, err
	}
	if err := s.hydrate(ctx, q, []*domain.Errand{&e}); err != nil {
		return e, err
	}
	return e, nil
}

// GetErrandExclusive takes the database write lock for tx before reading the errand, so no other
// writer can interleave until tx ends.
func (s Store) GetErrandExclusive(ctx context.Context, tx *sql.Tx, scope domain.Scope, id int64) (domain.Errand, error) {
	res, err := tx.ExecContext(ctx, `UPDATE errands SET version=version WHERE id=? AND municipality_id=? AND namespace=?`,
		id, scope.MunicipalityID, scope.Namespace)
	if err != nil {
		return domain.Errand{}, fmt.Errorf("lock errand: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errand{}, ErrNotFound
	}
	return s.GetErrand(ctx, tx, scope, id)
}

func (s Store) FindByErrandNumber(ctx context.Context, q Querier, number string) (domain.Errand, error) {
	e, err := scanErrand(q.QueryRowContext(ctx, `SELECT `+errandColumns+` FROM errands WHERE errand_number=?`, number))
	if err != nil {
		return e, err
	}
	if err := s.hydrate(ctx, q, []*domain.Errand{&e}); err != nil {
		return e, err
	}
	return e, nil
}

// InsertErrand stores a new aggregate with version 0 and assigns ids to it and its children.
// Extra parameters are not written; they belong to Params.
func (s Store) InsertErrand(ctx context.Context, tx *sql.Tx, e *domain.Errand) error {
	now := s.now()
	if e.Created == "" {
		e.Created = now
	}
	if e.Updated == "" {
		e.Updated = e.Created
	}
	e.Version = 0
	res, err := tx.ExecContext(ctx, `INSERT INTO errands(errand_number,version,municipality_id,namespace,case_type,priority,
external_case_id,channel,description,case_title_addition,diary_number,phase,start_date,end_date,application_received,
process_id,created_by_client,updated_by_client,created_by,updated_by,created,updated)
VALUES (?,0,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ErrandNumber, e.MunicipalityID, e.Namespace, e.CaseType, e.Priority,
		nullable(e.ExternalCaseID), nullable(e.Channel), nullable(e.Description), nullable(e.CaseTitleAddition),
		nullable(e.DiaryNumber), nullable(e.Phase), nullable(e.StartDate), nullable(e.EndDate), nullable(e.ApplicationReceived),
		nullableStringPtr(e.ProcessID), e.CreatedByClient, e.UpdatedByClient, nullable(e.CreatedBy), nullable(e.UpdatedBy),
		e.Created, e.Updated)
	if err != nil {
		return fmt.Errorf("insert errand: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return s.writeChildren(ctx, tx, e, now)
}

// SaveErrand writes e if the stored version still equals e.Version, then reconciles the child
// collections. On success e.Version is incremented. A stale version yields ErrConflict and nothing
// is written.
func (s Store) SaveErrand(ctx context.Context, tx *sql.Tx, e *domain.Errand) error {
	res, err := tx.ExecContext(ctx, `UPDATE errands SET version=version+1,case_type=?,priority=?,
external_case_id=?,channel=?,description=?,case_title_addition=?,diary_number=?,phase=?,start_date=?,end_date=?,
application_received=?,process_id=?,updated_by_client=?,updated_by=?,updated=?
WHERE id=? AND municipality_id=? AND namespace=? AND version=?`,
		e.CaseType, e.Priority,
		nullable(e.ExternalCaseID), nullable(e.Channel), nullable(e.Description), nullable(e.CaseTitleAddition),
		nullable(e.DiaryNumber), nullable(e.Phase), nullable(e.StartDate), nullable(e.EndDate),
		nullable(e.ApplicationReceived), nullableStringPtr(e.ProcessID), e.UpdatedByClient, nullable(e.UpdatedBy), e.Updated,
		e.ID, e.MunicipalityID, e.Namespace, e.Version)
	if err != nil {
		return fmt.Errorf("save errand: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM errands WHERE id=? AND municipality_id=? AND namespace=?`,
			e.ID, e.MunicipalityID, e.Namespace).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return fmt.Errorf("errand %d at version %d: %w", e.ID, e.Version, ErrConflict)
	}
	e.Version++
	return s.writeChildren(ctx, tx, e, s.now())
}

func (s Store) writeChildren(ctx context.Context, tx *sql.Tx, e *domain.Errand, now string) error {
	if err := stakeholderTable.reconcile(ctx, tx, e.ID, e.Stakeholders, now); err != nil {
		return err
	}
	if err := decisionTable.reconcile(ctx, tx, e.ID, e.Decisions, now); err != nil {
		return err
	}
	if err := noteTable.reconcile(ctx, tx, e.ID, e.Notes, now); err != nil {
		return err
	}
	if err := facilityTable.reconcile(ctx, tx, e.ID, e.Facilities, now); err != nil {
		return err
	}
	return statusTable.reconcile(ctx, tx, e.ID, e.Statuses, now)
}

// DeleteErrand removes the errand; children and parameters go with it through the foreign keys.
func (s Store) DeleteErrand(ctx context.Context, tx *sql.Tx, scope domain.Scope, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM errands WHERE id=? AND municipality_id=? AND namespace=?`,
		id, scope.MunicipalityID, scope.Namespace)
	if err != nil {
		return fmt.Errorf("delete errand: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindCandidates returns the ids of errands in scope matching the compiled predicate. Child joins
// yield one row per matching child, so ids may repeat.
func (s Store) FindCandidates(ctx context.Context, scope domain.Scope, c filter.Compiled) ([]int64, error) {
	query := `SELECT e.id FROM errands e ` + strings.Join(c.Joins, " ") +
		` WHERE e.municipality_id=? AND e.namespace=? AND (` + c.Where + `) ORDER BY e.id`
	args := append([]any{scope.MunicipalityID, scope.Namespace}, c.Args...)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var sortColumns = map[string]string{
	"id":           "id",
	"errandNumber": "errand_number",
	"caseType":     "case_type",
	"priority":     "priority",
	"phase":        "phase",
	"version":      "version",
	"created":      "created",
	"updated":      "updated",
}

// SortFields lists the accepted sort field names.
func SortFields() []string {
	out := make([]string, 0, len(sortColumns))
	for k := range sortColumns {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FindPageByIDs returns one page of the given errands, sorted and hydrated. ids must be unique.
func (s Store) FindPageByIDs(ctx context.Context, scope domain.Scope, ids []int64, req domain.PageRequest) (domain.Page, error) {
	req = req.Normalize()
	var order []string
	for _, o := range req.Sort {
		col, ok := sortColumns[o.Field]
		if !ok {
			return domain.Page{}, fmt.Errorf("%w: unknown field %q", ErrInvalidSort, o.Field)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		order = append(order, col+" "+dir)
	}
	if len(order) == 0 || !strings.HasPrefix(order[len(order)-1], "id ") {
		order = append(order, "id ASC")
	}
	page := domain.Page{
		Items:         []domain.Errand{},
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: len(ids),
		TotalPages:    (len(ids) + req.Size - 1) / req.Size,
	}
	// Pages past the end are empty; checking first keeps Page*Size from overflowing the offset.
	if len(ids) == 0 || req.Page >= page.TotalPages {
		return page, nil
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return domain.Page{}, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+errandColumns+` FROM errands
WHERE municipality_id=? AND namespace=? AND id IN (SELECT value FROM json_each(?))
ORDER BY `+strings.Join(order, ",")+` LIMIT ? OFFSET ?`,
		scope.MunicipalityID, scope.Namespace, string(idsJSON), req.Size, req.Page*req.Size)
	if err != nil {
		return domain.Page{}, fmt.Errorf("find page: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanErrand(rows)
		if err != nil {
			return domain.Page{}, err
		}
		page.Items = append(page.Items, e)
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, err
	}
	ptrs := make([]*domain.Errand, len(page.Items))
	for i := range page.Items {
		ptrs[i] = &page.Items[i]
	}
	if err := s.hydrate(ctx, s.DB, ptrs); err != nil {
		return domain.Page{}, err
	}
	return page, nil
}

func (s Store) hydrate(ctx context.Context, q Querier, errands []*domain.Errand) error {
	ids := make([]int64, len(errands))
	for i, e := range errands {
		ids[i] = e.ID
	}
	stakeholders, err := stakeholderTable.load(ctx, q, ids)
	if err != nil {
		return err
	}
	decisions, err := decisionTable.load(ctx, q, ids)
	if err != nil {
		return err
	}
	notes, err := noteTable.load(ctx, q, ids)
	if err != nil {
		return err
	}
	facilities, err := facilityTable.load(ctx, q, ids)
	if err != nil {
		return err
	}
	statuses, err := statusTable.load(ctx, q, ids)
	if err != nil {
		return err
	}
	params, err := s.Params.ForErrands(ctx, q, ids)
	if err != nil {
		return err
	}
	for _, e := range errands {
		e.Stakeholders = orEmpty(stakeholders[e.ID])
		e.Decisions = orEmpty(decisions[e.ID])
		e.Notes = orEmpty(notes[e.ID])
		e.Facilities = orEmpty(facilities[e.ID])
		e.Statuses = orEmpty(statuses[e.ID])
		e.ExtraParameters = orEmpty(params[e.ID])
	}
	return nil
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
