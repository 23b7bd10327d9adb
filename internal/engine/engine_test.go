package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"casedata/internal/config"
	"casedata/internal/db"
	"casedata/internal/domain"
	"casedata/internal/engine"
	"casedata/internal/events"
	"casedata/internal/logger"
	"casedata/internal/migrate"
	"casedata/internal/process"
)

var (
	scope  = domain.Scope{MunicipalityID: "2281", Namespace: "PARKING"}
	caller = domain.Actor{ClientID: "portal", UserID: "jane01"}
)

type fakeEngine struct {
	mu       sync.Mutex
	startErr error
	started  []int64
	updated  []string
}

func (f *fakeEngine) StartProcess(_ context.Context, _ string, errandID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, errandID)
	return "P1", nil
}

func (f *fakeEngine) UpdateProcess(_ context.Context, _, processID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, processID)
	return nil
}

func (f *fakeEngine) updates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.updated...)
}

type testEnv struct {
	Engine     engine.Engine
	Ctx        context.Context
	Remote     *fakeEngine
	Dispatcher *events.Dispatcher
}

func newTestEnv(t *testing.T) testEnv {
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
	cfg := config.Default()
	cfg.Retry.InitialBackoffMS = 1
	cfg.Retry.MaxBackoffMS = 5
	cfg.Retry.MaxAttempts = 20

	remote := &fakeEngine{}
	syncer := process.NewSynchronizer(cfg.Process.EngineClientID, []process.Route{
		{Name: "parking", Namespaces: []string{"PARKING"}, Client: remote},
	}, logger.Nop())
	dispatcher := events.NewDispatcher(64, syncer.HandleEvent, logger.Nop())
	t.Cleanup(dispatcher.Close)

	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Process = syncer
	eng.Publisher = dispatcher
	return testEnv{Engine: eng, Ctx: ctx, Remote: remote, Dispatcher: dispatcher}
}

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &logger.Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func (env testEnv) create(t *testing.T, mutate func(*domain.Errand)) domain.Errand {
	t.Helper()
	draft := domain.Errand{CaseType: "parking_permit", Description: "permit for disabled parking"}
	if mutate != nil {
		mutate(&draft)
	}
	e, err := env.Engine.CreateErrand(env.Ctx, scope, draft, caller)
	if err != nil {
		t.Fatalf("create errand: %v", err)
	}
	return e
}

func TestCreateAddStakeholderAndSearch(t *testing.T) {
	env := newTestEnv(t)
	created := env.create(t, nil)
	if created.ProcessID == nil || *created.ProcessID != "P1" {
		t.Fatalf("process id: %v", created.ProcessID)
	}
	if created.CaseType != "PARKING_PERMIT" || created.Priority != domain.PriorityMedium {
		t.Fatalf("normalized fields: %+v", created)
	}
	if created.ErrandNumber != "ERR-2024-000001" {
		t.Fatalf("errand number %q", created.ErrandNumber)
	}

	sh, err := env.Engine.AddStakeholder(env.Ctx, scope, created.ID, domain.Stakeholder{
		Type: "person", PersonID: "U1", Roles: []string{"applicant"},
	}, caller)
	if err != nil {
		t.Fatalf("add stakeholder: %v", err)
	}
	if sh.ID == 0 || sh.Roles[0] != "APPLICANT" {
		t.Fatalf("stakeholder %+v", sh)
	}

	env.Dispatcher.Close()
	if got := env.Remote.updates(); len(got) != 1 || got[0] != "P1" {
		t.Fatalf("expected one update for P1, got %v", got)
	}

	page, err := env.Engine.Search(env.Ctx, scope, `caseType:'PARKING_PERMIT'`, map[string]string{}, domain.PageRequest{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.TotalElements != 1 || len(page.Items) != 1 || page.Items[0].ID != created.ID {
		t.Fatalf("page %+v", page)
	}
	if len(page.Items[0].Stakeholders) != 1 || page.Items[0].Stakeholders[0].PersonID != "U1" {
		t.Fatalf("stakeholders %+v", page.Items[0].Stakeholders)
	}
}

func TestCreateRollsBackWhenProcessStartFails(t *testing.T) {
	env := newTestEnv(t)
	env.Remote.startErr = errors.New("connection refused")
	_, err := env.Engine.CreateErrand(env.Ctx, scope, domain.Errand{CaseType: "PARKING_PERMIT"}, caller)
	if !domain.IsCode(err, domain.CodeServiceUnavailable) {
		t.Fatalf("expected service unavailable, got %v", err)
	}
	_, err = env.Engine.Search(env.Ctx, scope, "", nil, domain.PageRequest{})
	if !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("no errand may survive a failed start, got %v", err)
	}
}

func TestCreateWithoutEngineForNamespace(t *testing.T) {
	env := newTestEnv(t)
	other := domain.Scope{MunicipalityID: "2281", Namespace: "MEX"}
	e, err := env.Engine.CreateErrand(env.Ctx, other, domain.Errand{CaseType: "MEX_OTHER"}, caller)
	if err != nil {
		t.Fatal(err)
	}
	if e.ProcessID != nil || e.Version != 0 {
		t.Fatalf("unrouted errand %+v", e)
	}
}

func TestConcurrentPatchesBothApply(t *testing.T) {
	env := newTestEnv(t)
	e := env.create(t, nil)
	fixed := env.Engine.Now()

	// The first save attempt loses to a patch committed between its load and its write.
	desc := "updated description"
	diary := "DIA-42"
	log, logs := observedLogger()
	var once sync.Once
	var otherErr error
	slow := env.Engine
	slow.Log = log
	slow.Now = func() time.Time {
		once.Do(func() {
			_, otherErr = env.Engine.UpdateErrand(env.Ctx, scope, e.ID, engine.ErrandPatch{DiaryNumber: &diary}, caller)
		})
		return fixed
	}
	if _, err := slow.UpdateErrand(env.Ctx, scope, e.ID, engine.ErrandPatch{Description: &desc}, caller); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if otherErr != nil {
		t.Fatalf("interleaved patch: %v", otherErr)
	}
	retries := logs.FilterMessage("engine: version conflict, retrying").All()
	if len(retries) == 0 {
		t.Fatal("expected the losing patch to retry")
	}
	if op := retries[0].ContextMap()["op"]; op != "errand.update" {
		t.Fatalf("retry logged for %v", op)
	}
	current, err := env.Engine.GetErrand(env.Ctx, scope, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if current.Version != e.Version+2 || current.Description != desc || current.DiaryNumber != diary {
		t.Fatalf("lost update: %+v", current)
	}
}

func TestParallelPatchesBothApply(t *testing.T) {
	env := newTestEnv(t)
	e := env.create(t, nil)
	desc := "updated description"
	diary := "DIA-42"
	patches := []engine.ErrandPatch{{Description: &desc}, {DiaryNumber: &diary}}
	var wg sync.WaitGroup
	errs := make(chan error, len(patches))
	for _, p := range patches {
		wg.Add(1)
		go func(p engine.ErrandPatch) {
			defer wg.Done()
			_, err := env.Engine.UpdateErrand(env.Ctx, scope, e.ID, p, caller)
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("patch: %v", err)
		}
	}
	current, err := env.Engine.GetErrand(env.Ctx, scope, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if current.Version != e.Version+2 || current.Description != desc || current.DiaryNumber != diary {
		t.Fatalf("lost update: %+v", current)
	}
}

func TestEngineChangesDoNotEcho(t *testing.T) {
	env := newTestEnv(t)
	e := env.create(t, nil)
	engineActor := domain.Actor{ClientID: env.Engine.Config.Process.EngineClientID}
	phase := "Beslut"
	if _, err := env.Engine.UpdateErrand(env.Ctx, scope, e.ID, engine.ErrandPatch{Phase: &phase}, engineActor); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddStatus(env.Ctx, scope, e.ID, domain.Status{StatusType: "Under granskning"}, caller); err != nil {
		t.Fatal(err)
	}
	env.Dispatcher.Close()
	if got := env.Remote.updates(); len(got) != 1 {
		t.Fatalf("only the portal change should reach the engine, got %v", got)
	}
}

func TestDeleteErrandCascadesAndKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	e := env.create(t, func(d *domain.Errand) {
		d.Stakeholders = []domain.Stakeholder{{Type: "PERSON", PersonID: "U1"}}
		d.ExtraParameters = []domain.ExtraParameter{{Key: "application.type", Values: []string{"NEW"}}}
	})
	if err := env.Engine.DeleteErrand(env.Ctx, scope, e.ID, caller); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetErrand(env.Ctx, scope, e.ID); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.GetParameters(env.Ctx, scope, e.ID); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("parameters must go with the errand, got %v", err)
	}
	if err := env.Engine.DeleteErrand(env.Ctx, scope, e.ID, caller); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	history, err := env.Engine.History(env.Ctx, scope, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	last := history[len(history)-1]
	if last.Type != events.TypeErrandDeleted {
		t.Fatalf("last event %s", last.Type)
	}
}

func TestSearchParameterExactness(t *testing.T) {
	env := newTestEnv(t)
	both := env.create(t, func(d *domain.Errand) {
		d.ExtraParameters = []domain.ExtraParameter{
			{Key: "application.type", Values: []string{"NEW", "RENEWAL"}},
			{Key: "disability.walkingAbility", Values: []string{"false"}},
		}
	})
	env.create(t, func(d *domain.Errand) {
		d.ExtraParameters = []domain.ExtraParameter{{Key: "application.type", Values: []string{"NEW"}}}
	})
	env.create(t, func(d *domain.Errand) {
		d.ExtraParameters = []domain.ExtraParameter{{Key: "application.type", Values: []string{"NEWER"}}}
	})

	page, err := env.Engine.Search(env.Ctx, scope, "", map[string]string{"application.type": "NEW"}, domain.PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalElements != 2 {
		t.Fatalf("partial value must not match: %d", page.TotalElements)
	}

	page, err = env.Engine.Search(env.Ctx, scope, "", map[string]string{
		"application.type":          "RENEWAL",
		"disability.walkingAbility": "false",
	}, domain.PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalElements != 1 || page.Items[0].ID != both.ID {
		t.Fatalf("all keys must match: %+v", page)
	}

	_, err = env.Engine.Search(env.Ctx, scope, "", map[string]string{"application.type": "new"}, domain.PageRequest{})
	if !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("values compare exactly, got %v", err)
	}
}

func TestSearchDeduplicatesAndPaginates(t *testing.T) {
	env := newTestEnv(t)
	var ids []int64
	for i := 0; i < 3; i++ {
		e := env.create(t, func(d *domain.Errand) {
			d.Stakeholders = []domain.Stakeholder{
				{Type: "PERSON", LastName: "Andersson", Roles: []string{"APPLICANT"}},
				{Type: "PERSON", LastName: "Andersson", Roles: []string{"DRIVER"}},
			}
		})
		ids = append(ids, e.ID)
	}
	pred := `stakeholders.lastName:'Andersson'`
	page, err := env.Engine.Search(env.Ctx, scope, pred, nil, domain.PageRequest{
		Size: 2,
		Sort: []domain.SortOrder{{Field: "id", Desc: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalElements != 3 || page.TotalPages != 2 || len(page.Items) != 2 {
		t.Fatalf("page %+v", page)
	}
	if page.Items[0].ID != ids[2] || page.Items[1].ID != ids[1] {
		t.Fatalf("sort order %d %d", page.Items[0].ID, page.Items[1].ID)
	}
	page, err = env.Engine.Search(env.Ctx, scope, pred, nil, domain.PageRequest{Page: 1, Size: 2, Sort: []domain.SortOrder{{Field: "id", Desc: true}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != ids[0] {
		t.Fatalf("second page %+v", page.Items)
	}
}

func TestSearchPageOutOfRangeIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, nil)
	for _, req := range []domain.PageRequest{
		{Page: 1, Size: 1},
		{Page: 5, Size: 10},
		{Page: 1 << 62, Size: 1000},
	} {
		page, err := env.Engine.Search(env.Ctx, scope, "", nil, req)
		if !domain.IsCode(err, domain.CodeNotFound) {
			t.Fatalf("page %d size %d: expected not found, got %+v err %v", req.Page, req.Size, page, err)
		}
	}
	page, err := env.Engine.Search(env.Ctx, scope, "", nil, domain.PageRequest{Size: 1})
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("first page %+v err %v", page, err)
	}
}

func TestCreateLogsProcessWhenItsIDCannotBeSaved(t *testing.T) {
	env := newTestEnv(t)
	log, logs := observedLogger()
	eng := env.Engine
	eng.Log = log
	eng.Process = deletingStarter{eng: env.Engine}
	_, err := eng.CreateErrand(env.Ctx, scope, domain.Errand{CaseType: "PARKING_PERMIT"}, caller)
	if !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected the id save to fail, got %v", err)
	}
	entries := logs.FilterMessage("engine: process started but its id was not saved").All()
	if len(entries) != 1 {
		t.Fatalf("expected one error entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["process_id"]; got != "P9" {
		t.Fatalf("process id logged as %v", got)
	}
}

// deletingStarter starts a process and removes the errand before its id can be stored.
type deletingStarter struct {
	eng engine.Engine
}

func (s deletingStarter) StartProcess(ctx context.Context, e domain.Errand) (string, bool, error) {
	if err := s.eng.DeleteErrand(ctx, e.Scope(), e.ID, caller); err != nil {
		return "", false, err
	}
	return "P9", true, nil
}

func TestSearchRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, nil)
	for _, pred := range []string{`caseType:`, `unknown:'x'`} {
		if _, err := env.Engine.Search(env.Ctx, scope, pred, nil, domain.PageRequest{}); !domain.IsCode(err, domain.CodeValidation) {
			t.Fatalf("%s: expected validation, got %v", pred, err)
		}
	}
	_, err := env.Engine.Search(env.Ctx, scope, "", nil, domain.PageRequest{Sort: []domain.SortOrder{{Field: "secret"}}})
	if !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("invalid sort: %v", err)
	}
	other := domain.Scope{MunicipalityID: "2262", Namespace: "PARKING"}
	if _, err := env.Engine.Search(env.Ctx, other, "", nil, domain.PageRequest{}); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("other municipality must see nothing, got %v", err)
	}
}

func TestParameters(t *testing.T) {
	env := newTestEnv(t)
	e := env.create(t, func(d *domain.Errand) {
		d.ExtraParameters = []domain.ExtraParameter{{Key: "application.type", Values: []string{"NEW"}}}
	})
	if _, err := env.Engine.UpdateParameter(env.Ctx, scope, e.ID, "missing", []string{"x"}, caller); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("update never creates a key, got %v", err)
	}
	p, err := env.Engine.UpdateParameter(env.Ctx, scope, e.ID, "application.type", []string{"RENEWAL", "CHANGE"}, caller)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Values) != 2 || p.Values[0] != "RENEWAL" {
		t.Fatalf("values %v", p.Values)
	}
	values, err := env.Engine.GetParameter(env.Ctx, scope, e.ID, "application.type")
	if err != nil || len(values) != 2 {
		t.Fatalf("get: %v %v", values, err)
	}

	_, err = env.Engine.ReplaceParameters(env.Ctx, scope, e.ID, []domain.ExtraParameter{{Key: "a"}, {Key: "a"}}, caller)
	if !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("duplicate keys: %v", err)
	}
	stored, err := env.Engine.ReplaceParameters(env.Ctx, scope, e.ID, []domain.ExtraParameter{
		{Key: "a", Values: []string{"1"}}, {Key: "b", Values: []string{"2"}},
	}, caller)
	if err != nil || len(stored) != 2 || stored[0].ID == "" {
		t.Fatalf("replace: %+v %v", stored, err)
	}
	if err := env.Engine.DeleteParameter(env.Ctx, scope, e.ID, "a", caller); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteParameter(env.Ctx, scope, e.ID, "a", caller); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	all, err := env.Engine.GetParameters(env.Ctx, scope, e.ID)
	if err != nil || len(all) != 1 || all[0].Key != "b" {
		t.Fatalf("remaining %+v %v", all, err)
	}
	current, _ := env.Engine.GetErrand(env.Ctx, scope, e.ID)
	if current.Version != 4 {
		t.Fatalf("each parameter change bumps the version: %d", current.Version)
	}
}

func TestChildOperations(t *testing.T) {
	env := newTestEnv(t)
	e := env.create(t, nil)

	note, err := env.Engine.AddNote(env.Ctx, scope, e.ID, domain.Note{Title: "Call", Text: "Called applicant"}, caller)
	if err != nil {
		t.Fatal(err)
	}
	if note.NoteType != "INTERNAL" || note.CreatedBy != "jane01" {
		t.Fatalf("note %+v", note)
	}
	text := "Called applicant twice"
	note, err = env.Engine.UpdateNoteOnErrand(env.Ctx, scope, e.ID, note.ID, engine.NotePatch{Text: &text}, caller)
	if err != nil || note.Text != text || note.Title != "Call" || note.Version != 1 {
		t.Fatalf("update note %+v %v", note, err)
	}
	if err := env.Engine.DeleteNoteOnErrand(env.Ctx, scope, e.ID, 9999, caller); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("missing note: %v", err)
	}

	dec, err := env.Engine.AddDecision(env.Ctx, scope, e.ID, domain.Decision{DecisionType: "final", DecisionOutcome: "approval"}, caller)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteDecisionOnErrand(env.Ctx, scope, e.ID, dec.ID, caller); err != nil {
		t.Fatal(err)
	}

	fac, err := env.Engine.AddFacility(env.Ctx, scope, e.ID, domain.Facility{FacilityType: "GARAGE", City: "Sundsvall"}, caller)
	if err != nil {
		t.Fatal(err)
	}
	main := true
	fac, err = env.Engine.UpdateFacilityOnErrand(env.Ctx, scope, e.ID, fac.ID, engine.FacilityPatch{MainFacility: &main}, caller)
	if err != nil || !fac.MainFacility || fac.City != "Sundsvall" {
		t.Fatalf("update facility %+v %v", fac, err)
	}
	replaced, err := env.Engine.ReplaceFacilities(env.Ctx, scope, e.ID, []domain.Facility{{ID: fac.ID, City: "Timrå"}}, caller)
	if err != nil {
		t.Fatal(err)
	}
	if len(replaced.Facilities) != 1 || replaced.Facilities[0].ID == fac.ID {
		t.Fatalf("replace assigns fresh ids: %+v", replaced.Facilities)
	}

	replaced, err = env.Engine.ReplaceStatuses(env.Ctx, scope, e.ID, []domain.Status{{StatusType: "Ärende inkommit"}, {StatusType: "Under granskning"}}, caller)
	if err != nil || len(replaced.Statuses) != 2 {
		t.Fatalf("replace statuses %+v %v", replaced.Statuses, err)
	}

	list, err := env.Engine.ReplaceStakeholders(env.Ctx, scope, e.ID, []domain.Stakeholder{{Type: "ORGANIZATION", OrganizationName: "Bolaget AB"}}, caller)
	if err != nil || len(list.Stakeholders) != 1 {
		t.Fatalf("replace stakeholders %+v %v", list.Stakeholders, err)
	}
	if err := env.Engine.DeleteStakeholderOnErrand(env.Ctx, scope, e.ID, list.Stakeholders[0].ID, caller); err != nil {
		t.Fatal(err)
	}
	final, err := env.Engine.GetErrand(env.Ctx, scope, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(final.Stakeholders) != 0 || len(final.Notes) != 1 || len(final.Decisions) != 0 {
		t.Fatalf("final %+v", final)
	}
	history, err := env.Engine.History(env.Ctx, scope, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if history[0].Type != events.TypeErrandCreated {
		t.Fatalf("first event %s", history[0].Type)
	}
}

func TestValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	cases := []domain.Errand{
		{},
		{CaseType: "NOT_A_CASE"},
		{CaseType: "PARKING_PERMIT", Priority: "URGENT"},
		{CaseType: "PARKING_PERMIT", Channel: "FAX"},
		{CaseType: "PARKING_PERMIT", Stakeholders: []domain.Stakeholder{{Type: "ROBOT"}}},
		{CaseType: "PARKING_PERMIT", ExtraParameters: []domain.ExtraParameter{{Key: " "}}},
	}
	for i, draft := range cases {
		if _, err := env.Engine.CreateErrand(env.Ctx, scope, draft, caller); !domain.IsCode(err, domain.CodeValidation) {
			t.Fatalf("case %d: expected validation, got %v", i, err)
		}
	}
	if _, err := env.Engine.CreateErrand(env.Ctx, scope, domain.Errand{CaseType: "PARKING_PERMIT"}, domain.Actor{}); !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("missing client id: %v", err)
	}
	e := env.create(t, nil)
	bad := "SOMETIME"
	if _, err := env.Engine.UpdateErrand(env.Ctx, scope, e.ID, engine.ErrandPatch{Priority: &bad}, caller); !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("bad priority: %v", err)
	}
	if _, err := env.Engine.UpdateErrand(env.Ctx, scope, 9999, engine.ErrandPatch{}, caller); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("missing errand: %v", err)
	}
}

func TestFindByErrandNumber(t *testing.T) {
	env := newTestEnv(t)
	e := env.create(t, nil)
	got, err := env.Engine.FindByErrandNumber(env.Ctx, e.ErrandNumber)
	if err != nil || got.ID != e.ID {
		t.Fatalf("find: %+v %v", got, err)
	}
	if _, err := env.Engine.FindByErrandNumber(env.Ctx, "ERR-1999-000001"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("unknown number: %v", err)
	}
}
