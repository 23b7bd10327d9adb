package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"casedata/internal/db"
	"casedata/internal/domain"
	"casedata/internal/filter"
	"casedata/internal/migrate"
	"casedata/internal/repo"
)

var scope = domain.Scope{MunicipalityID: "2281", Namespace: "PARKING"}

func newTestStore(t *testing.T) (repo.Store, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := repo.New(conn)
	s.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s, ctx
}

func seedErrand(t *testing.T, s repo.Store, ctx context.Context, number string, mutate func(*domain.Errand)) domain.Errand {
	t.Helper()
	e := domain.Errand{
		ErrandNumber:    number,
		MunicipalityID:  scope.MunicipalityID,
		Namespace:       scope.Namespace,
		CaseType:        "PARKING_PERMIT",
		Priority:        domain.PriorityMedium,
		CreatedByClient: "test-client",
		UpdatedByClient: "test-client",
	}
	if mutate != nil {
		mutate(&e)
	}
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		if err := s.InsertErrand(ctx, tx, &e); err != nil {
			return err
		}
		if len(e.ExtraParameters) > 0 {
			params, err := s.Params.ReplaceAll(ctx, tx, scope, e.ID, e.ExtraParameters)
			if err != nil {
				return err
			}
			e.ExtraParameters = params
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed %s: %v", number, err)
	}
	return e
}

func TestInsertAndGetHydratesChildren(t *testing.T) {
	s, ctx := newTestStore(t)
	e := seedErrand(t, s, ctx, "ERR-2024-000001", func(e *domain.Errand) {
		e.Stakeholders = []domain.Stakeholder{{Type: "PERSON", FirstName: "Anna", LastName: "Andersson", Roles: []string{"APPLICANT"}}}
		e.Facilities = []domain.Facility{{FacilityType: "GARAGE", City: "Sundsvall", MainFacility: true}}
		e.Statuses = []domain.Status{{StatusType: "NEW"}}
		e.ExtraParameters = []domain.ExtraParameter{{Key: "zone", Values: []string{"A", "B"}}}
	})
	if e.ID == 0 || e.Stakeholders[0].ID == 0 {
		t.Fatalf("ids not assigned: %+v", e)
	}
	got, err := s.GetErrand(ctx, s.DB, scope, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 0 || got.ErrandNumber != "ERR-2024-000001" || got.ProcessID != nil {
		t.Fatalf("unexpected errand %+v", got)
	}
	if len(got.Stakeholders) != 1 || got.Stakeholders[0].Roles[0] != "APPLICANT" {
		t.Fatalf("stakeholders %+v", got.Stakeholders)
	}
	if len(got.Facilities) != 1 || !got.Facilities[0].MainFacility {
		t.Fatalf("facilities %+v", got.Facilities)
	}
	if len(got.ExtraParameters) != 1 || len(got.ExtraParameters[0].Values) != 2 {
		t.Fatalf("parameters %+v", got.ExtraParameters)
	}
	if _, err := s.GetErrand(ctx, s.DB, domain.Scope{MunicipalityID: "9999", Namespace: "PARKING"}, e.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found outside scope, got %v", err)
	}
	byNumber, err := s.FindByErrandNumber(ctx, s.DB, "ERR-2024-000001")
	if err != nil || byNumber.ID != e.ID {
		t.Fatalf("find by number: %v %+v", err, byNumber)
	}
}

func TestSaveErrandRejectsStaleVersion(t *testing.T) {
	s, ctx := newTestStore(t)
	e := seedErrand(t, s, ctx, "ERR-2024-000001", nil)

	fresh := e.Clone()
	fresh.Description = "first"
	if err := s.InTx(ctx, func(tx *sql.Tx) error { return s.SaveErrand(ctx, tx, &fresh) }); err != nil {
		t.Fatalf("save: %v", err)
	}
	if fresh.Version != 1 {
		t.Fatalf("version %d", fresh.Version)
	}

	stale := e.Clone()
	stale.Description = "second"
	stale.Notes = []domain.Note{{Title: "t", Text: "x", NoteType: "INTERNAL"}}
	err := s.InTx(ctx, func(tx *sql.Tx) error { return s.SaveErrand(ctx, tx, &stale) })
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := s.GetErrand(ctx, s.DB, scope, e.ID)
	if got.Version != 1 || got.Description != "first" || len(got.Notes) != 0 {
		t.Fatalf("stale save leaked: %+v", got)
	}
}

func TestSaveErrandReconcilesChildren(t *testing.T) {
	s, ctx := newTestStore(t)
	e := seedErrand(t, s, ctx, "ERR-2024-000001", func(e *domain.Errand) {
		e.Stakeholders = []domain.Stakeholder{
			{Type: "PERSON", FirstName: "Anna"},
			{Type: "PERSON", FirstName: "Bo"},
		}
	})
	keep, drop := e.Stakeholders[0], e.Stakeholders[1]

	s.Now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }
	e.Stakeholders = []domain.Stakeholder{keep, {Type: "ORGANIZATION", OrganizationName: "Acme"}}
	e.Stakeholders[0].LastName = "Andersson"
	if err := s.InTx(ctx, func(tx *sql.Tx) error { return s.SaveErrand(ctx, tx, &e) }); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ := s.GetErrand(ctx, s.DB, scope, e.ID)
	if len(got.Stakeholders) != 2 {
		t.Fatalf("stakeholders %+v", got.Stakeholders)
	}
	if got.Stakeholders[0].ID != keep.ID || got.Stakeholders[0].Version != 1 || got.Stakeholders[0].Updated == keep.Updated {
		t.Fatalf("changed child not bumped: %+v", got.Stakeholders[0])
	}
	if got.Stakeholders[1].ID == drop.ID || got.Stakeholders[1].Version != 0 {
		t.Fatalf("new child: %+v", got.Stakeholders[1])
	}
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM stakeholders WHERE id=?`, drop.ID).Scan(&n); err != nil || n != 0 {
		t.Fatalf("orphan kept: %d %v", n, err)
	}

	// Unchanged children keep their version.
	if err := s.InTx(ctx, func(tx *sql.Tx) error { return s.SaveErrand(ctx, tx, &got) }); err != nil {
		t.Fatal(err)
	}
	again, _ := s.GetErrand(ctx, s.DB, scope, e.ID)
	if again.Stakeholders[0].Version != 1 || again.Version != 2 {
		t.Fatalf("unexpected versions %+v", again)
	}
}

func TestDeleteErrandCascades(t *testing.T) {
	s, ctx := newTestStore(t)
	e := seedErrand(t, s, ctx, "ERR-2024-000001", func(e *domain.Errand) {
		e.Notes = []domain.Note{{Title: "t", Text: "x", NoteType: "PUBLIC"}}
		e.Decisions = []domain.Decision{{DecisionType: "FINAL", DecisionOutcome: "APPROVAL"}}
		e.ExtraParameters = []domain.ExtraParameter{{Key: "k", Values: []string{"v"}}}
	})
	if err := s.InTx(ctx, func(tx *sql.Tx) error { return s.DeleteErrand(ctx, tx, scope, e.ID) }); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, table := range []string{"notes", "decisions", "extra_parameters"} {
		var n int
		if err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n); err != nil || n != 0 {
			t.Fatalf("%s left %d rows (%v)", table, n, err)
		}
	}
	err := s.InTx(ctx, func(tx *sql.Tx) error { return s.DeleteErrand(ctx, tx, scope, e.ID) })
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetErrandExclusive(t *testing.T) {
	s, ctx := newTestStore(t)
	e := seedErrand(t, s, ctx, "ERR-2024-000001", nil)
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		got, err := s.GetErrandExclusive(ctx, tx, scope, e.ID)
		if err != nil {
			return err
		}
		if got.Version != 0 {
			return fmt.Errorf("lock changed version to %d", got.Version)
		}
		_, err = s.GetErrandExclusive(ctx, tx, scope, e.ID+100)
		if !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("expected not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFindCandidatesReturnsDuplicatesAndPageDedupes(t *testing.T) {
	s, ctx := newTestStore(t)
	a := seedErrand(t, s, ctx, "ERR-2024-000001", func(e *domain.Errand) {
		e.Stakeholders = []domain.Stakeholder{
			{Type: "PERSON", LastName: "Andersson"},
			{Type: "PERSON", LastName: "Andersson"},
		}
	})
	b := seedErrand(t, s, ctx, "ERR-2024-000002", func(e *domain.Errand) {
		e.Priority = domain.PriorityHigh
		e.Stakeholders = []domain.Stakeholder{{Type: "PERSON", LastName: "Andersson"}}
	})
	seedErrand(t, s, ctx, "ERR-2024-000003", nil)

	n, err := filter.Parse(`stakeholders.lastName:'Andersson'`)
	if err != nil {
		t.Fatal(err)
	}
	c, err := filter.Compile(n)
	if err != nil {
		t.Fatal(err)
	}
	ids, err := s.FindCandidates(ctx, scope, c)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected duplicated rows, got %v", ids)
	}

	page, err := s.FindPageByIDs(ctx, scope, []int64{a.ID, b.ID}, domain.PageRequest{Sort: []domain.SortOrder{{Field: "priority"}}})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.TotalElements != 2 || len(page.Items) != 2 || page.Items[0].ID != b.ID {
		t.Fatalf("page %+v", page)
	}
	if page.Size != domain.DefaultPageSize || page.TotalPages != 1 {
		t.Fatalf("page meta %+v", page)
	}

	second, err := s.FindPageByIDs(ctx, scope, []int64{a.ID, b.ID}, domain.PageRequest{Page: 1, Size: 1})
	if err != nil || len(second.Items) != 1 || second.Items[0].ID != b.ID || second.TotalPages != 2 {
		t.Fatalf("second page %+v %v", second, err)
	}

	for _, req := range []domain.PageRequest{{Page: 2, Size: 1}, {Page: 1 << 62, Size: domain.MaxPageSize}} {
		past, err := s.FindPageByIDs(ctx, scope, []int64{a.ID, b.ID}, req)
		if err != nil || len(past.Items) != 0 || past.TotalElements != 2 || past.Page != req.Page {
			t.Fatalf("page %d past the end: %+v %v", req.Page, past, err)
		}
	}

	if _, err := s.FindPageByIDs(ctx, scope, []int64{a.ID}, domain.PageRequest{Sort: []domain.SortOrder{{Field: "secret"}}}); !errors.Is(err, repo.ErrInvalidSort) {
		t.Fatalf("expected invalid sort, got %v", err)
	}
}

func TestParams(t *testing.T) {
	s, ctx := newTestStore(t)
	e := seedErrand(t, s, ctx, "ERR-2024-000001", func(e *domain.Errand) {
		e.ExtraParameters = []domain.ExtraParameter{{Key: "zone", Values: []string{"A"}}, {Key: "plate", Values: []string{"ABC123"}}}
	})

	updated, err := s.Params.UpsertByKey(ctx, s.DB, scope, e.ID, "zone", []string{"B", "C"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(updated.Values) != 2 || updated.Values[0] != "B" {
		t.Fatalf("values %v", updated.Values)
	}
	if _, err := s.Params.UpsertByKey(ctx, s.DB, scope, e.ID, "missing", []string{"x"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("upsert must not create keys, got %v", err)
	}
	other := domain.Scope{MunicipalityID: scope.MunicipalityID, Namespace: "OTHER"}
	if _, err := s.Params.ReadByKey(ctx, s.DB, other, e.ID, "zone"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected scoped not found, got %v", err)
	}
	if err := s.Params.DeleteByKey(ctx, s.DB, scope, e.ID, "plate"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Params.DeleteByKey(ctx, s.DB, scope, e.ID, "plate"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	list, err := s.Params.List(ctx, s.DB, scope, e.ID)
	if err != nil || len(list) != 1 || list[0].Key != "zone" {
		t.Fatalf("list %+v %v", list, err)
	}

	err = s.InTx(ctx, func(tx *sql.Tx) error {
		_, err := s.Params.ReplaceAll(ctx, tx, scope, e.ID, []domain.ExtraParameter{{Key: "a"}, {Key: "a"}})
		return err
	})
	if !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestAPIKeys(t *testing.T) {
	s, ctx := newTestStore(t)
	key := domain.APIKey{ID: "k1", ClientID: "process-engine", Name: "callback", KeyHash: repo.HashAPIKey("secret")}
	if err := s.InsertAPIKey(ctx, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.GetAPIKeyByHash(ctx, repo.HashAPIKey(" secret "))
	if err != nil || got.ClientID != "process-engine" {
		t.Fatalf("get: %+v %v", got, err)
	}
	if got.CreatedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("created at defaults to the store clock, got %q", got.CreatedAt)
	}
	if err := s.InsertAPIKey(ctx, domain.APIKey{ID: "k2", ClientID: "portal", KeyHash: key.KeyHash}); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected duplicate hash, got %v", err)
	}
	if err := s.InsertAPIKey(ctx, domain.APIKey{ID: "k3"}); err == nil || !strings.Contains(err.Error(), "client_id, key_hash") {
		t.Fatalf("expected missing fields, got %v", err)
	}
	if err := s.InsertAPIKey(ctx, domain.APIKey{ID: "k4", ClientID: "portal", KeyHash: repo.HashAPIKey("other")}); err != nil {
		t.Fatal(err)
	}
	keys, err := s.ListAPIKeys(ctx, "process-engine")
	if err != nil || len(keys) != 1 || keys[0].ID != "k1" {
		t.Fatalf("list: %v %v", keys, err)
	}
	if all, err := s.ListAPIKeys(ctx, ""); err != nil || len(all) != 2 {
		t.Fatalf("list all: %v %v", all, err)
	}
	if err := s.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetAPIKeyByHash(ctx, key.KeyHash); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.DeleteAPIKey(ctx, "k1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second revoke: %v", err)
	}
}
