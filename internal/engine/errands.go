package engine

import (
	"context"
	"database/sql"
	"strings"

	"casedata/internal/domain"
	"casedata/internal/events"
)

// ErrandPatch overwrites only the fields that are non-nil and non-empty.
type ErrandPatch struct {
	CaseType            *string `json:"case_type,omitempty"`
	Priority            *string `json:"priority,omitempty"`
	ExternalCaseID      *string `json:"external_case_id,omitempty"`
	Channel             *string `json:"channel,omitempty"`
	Description         *string `json:"description,omitempty"`
	CaseTitleAddition   *string `json:"case_title_addition,omitempty"`
	DiaryNumber         *string `json:"diary_number,omitempty"`
	Phase               *string `json:"phase,omitempty"`
	StartDate           *string `json:"start_date,omitempty"`
	EndDate             *string `json:"end_date,omitempty"`
	ApplicationReceived *string `json:"application_received,omitempty"`
}

// CreateErrand stores draft as a new errand in scope and starts its remote process. When the
// process engine is unavailable the errand is deleted again and the engine error is returned.
func (e Engine) CreateErrand(ctx context.Context, scope domain.Scope, draft domain.Errand, actor domain.Actor) (created domain.Errand, err error) {
	const op = "errand.create"
	ctx, end := startSpan(ctx, op, scope, 0)
	defer end(&err)
	if err := validateActor(op, actor); err != nil {
		return domain.Errand{}, err
	}
	if err := validateScope(op, scope); err != nil {
		return domain.Errand{}, err
	}
	draft = draft.Clone()
	if err := e.normalizeErrand(op, &draft); err != nil {
		return domain.Errand{}, err
	}
	now := e.stamp()
	draft.ID = 0
	draft.Version = 0
	draft.ErrandNumber = ""
	draft.ProcessID = nil
	draft.MunicipalityID = scope.MunicipalityID
	draft.Namespace = scope.Namespace
	draft.CreatedByClient = actor.ClientID
	draft.CreatedBy = actor.UserID
	draft.Created = now
	draft.Stamp(actor, now)
	resetChildIDs(&draft)

	store := e.store()
	err = store.InTx(ctx, func(tx *sql.Tx) error {
		number, err := e.numbers().Next(ctx, tx, scope.Namespace)
		if err != nil {
			return err
		}
		draft.ErrandNumber = number
		if err := store.InsertErrand(ctx, tx, &draft); err != nil {
			return err
		}
		params, err := store.Params.ReplaceAll(ctx, tx, scope, draft.ID, draft.ExtraParameters)
		if err != nil {
			return err
		}
		draft.ExtraParameters = params
		return e.history().Append(ctx, tx, events.TypeErrandCreated, draft, actor, events.EventPayload{
			"errand_number": draft.ErrandNumber,
			"case_type":     draft.CaseType,
		})
	})
	if err != nil {
		return domain.Errand{}, mapError(op, err)
	}
	e.log().Info("engine: errand created", "errand_id", draft.ID, "errand_number", draft.ErrandNumber, "namespace", scope.Namespace)

	if e.Process == nil {
		return draft, nil
	}
	processID, ok, err := e.Process.StartProcess(ctx, draft)
	if err != nil {
		e.compensateCreate(ctx, draft, actor, err)
		return domain.Errand{}, err
	}
	if !ok {
		return draft, nil
	}
	saved, err := e.mutate(ctx, scope, draft.ID, actor, mutation{
		op:      "errand.process_started",
		evtType: events.TypeProcessStarted,
		silent:  true,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			errand.ProcessID = &processID
			return events.EventPayload{"process_id": processID}, nil
		},
	})
	if err != nil {
		// The remote process is running; keep the errand and leave its id for manual linking.
		e.log().Error("engine: process started but its id was not saved",
			"errand_id", draft.ID, "errand_number", draft.ErrandNumber, "process_id", processID, "error", err)
		return domain.Errand{}, err
	}
	return saved, nil
}

// compensateCreate removes an errand whose remote process could not be started.
func (e Engine) compensateCreate(ctx context.Context, errand domain.Errand, actor domain.Actor, cause error) {
	store := e.store()
	err := store.InTx(ctx, func(tx *sql.Tx) error {
		if err := store.DeleteErrand(ctx, tx, errand.Scope(), errand.ID); err != nil {
			return err
		}
		return e.history().Append(ctx, tx, events.TypeErrandDeleted, errand, actor, events.EventPayload{
			"reason": "process start failed",
		})
	})
	if err != nil {
		e.log().Error("engine: could not roll back errand after failed process start",
			"errand_id", errand.ID, "cause", cause, "error", err)
		return
	}
	e.log().Warn("engine: errand rolled back after failed process start", "errand_id", errand.ID, "cause", cause)
}

func (e Engine) GetErrand(ctx context.Context, scope domain.Scope, id int64) (domain.Errand, error) {
	errand, err := e.store().GetErrand(ctx, e.DB, scope, id)
	if err != nil {
		return domain.Errand{}, mapError("errand.get", err)
	}
	return errand, nil
}

func (e Engine) FindByErrandNumber(ctx context.Context, number string) (domain.Errand, error) {
	errand, err := e.store().FindByErrandNumber(ctx, e.DB, number)
	if err != nil {
		return domain.Errand{}, mapError("errand.find_by_number", err)
	}
	return errand, nil
}

// UpdateErrand applies patch to the errand's own fields.
func (e Engine) UpdateErrand(ctx context.Context, scope domain.Scope, id int64, patch ErrandPatch, actor domain.Actor) (domain.Errand, error) {
	const op = "errand.update"
	var changes domain.Errand
	applyPatch(&changes, patch)
	if err := e.validateErrandFields(op, changes, true); err != nil {
		return domain.Errand{}, err
	}
	return e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeErrandUpdated,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			changed := applyPatch(errand, patch)
			return events.EventPayload{"fields": changed}, nil
		},
	})
}

// DeleteErrand removes the errand with its children and parameters.
func (e Engine) DeleteErrand(ctx context.Context, scope domain.Scope, id int64, actor domain.Actor) (err error) {
	const op = "errand.delete"
	ctx, end := startSpan(ctx, op, scope, id)
	defer end(&err)
	if err := validateActor(op, actor); err != nil {
		return err
	}
	store := e.store()
	errand, err := store.GetErrand(ctx, e.DB, scope, id)
	if err != nil {
		return mapError(op, err)
	}
	err = store.InTx(ctx, func(tx *sql.Tx) error {
		if err := store.DeleteErrand(ctx, tx, scope, id); err != nil {
			return err
		}
		errand.Stamp(actor, e.stamp())
		return e.history().Append(ctx, tx, events.TypeErrandDeleted, errand, actor, events.EventPayload{
			"errand_number": errand.ErrandNumber,
		})
	})
	if err != nil {
		return mapError(op, err)
	}
	e.publish(events.TypeErrandDeleted, errand)
	return nil
}

// History returns the recorded changes of an errand, oldest first.
func (e Engine) History(ctx context.Context, scope domain.Scope, id int64) ([]domain.Event, error) {
	const op = "errand.history"
	evts, err := e.history().List(ctx, e.DB, scope, id)
	if err != nil {
		return nil, mapError(op, err)
	}
	if len(evts) == 0 {
		return nil, domain.NotFound(op, "no history for errand %d", id)
	}
	return evts, nil
}

func applyPatch(errand *domain.Errand, p ErrandPatch) []string {
	var changed []string
	set := func(name string, dst *string, v *string, upper bool) {
		if v == nil || strings.TrimSpace(*v) == "" {
			return
		}
		val := strings.TrimSpace(*v)
		if upper {
			val = strings.ToUpper(val)
		}
		if *dst != val {
			*dst = val
			changed = append(changed, name)
		}
	}
	set("case_type", &errand.CaseType, p.CaseType, true)
	set("priority", &errand.Priority, p.Priority, true)
	set("external_case_id", &errand.ExternalCaseID, p.ExternalCaseID, false)
	set("channel", &errand.Channel, p.Channel, true)
	set("description", &errand.Description, p.Description, false)
	set("case_title_addition", &errand.CaseTitleAddition, p.CaseTitleAddition, false)
	set("diary_number", &errand.DiaryNumber, p.DiaryNumber, false)
	set("phase", &errand.Phase, p.Phase, false)
	set("start_date", &errand.StartDate, p.StartDate, false)
	set("end_date", &errand.EndDate, p.EndDate, false)
	set("application_received", &errand.ApplicationReceived, p.ApplicationReceived, false)
	return changed
}

func validateScope(op string, scope domain.Scope) error {
	if strings.TrimSpace(scope.MunicipalityID) == "" || strings.TrimSpace(scope.Namespace) == "" {
		return domain.Validation(op, "municipality id and namespace are required")
	}
	return nil
}

func resetChildIDs(errand *domain.Errand) {
	for i := range errand.Stakeholders {
		errand.Stakeholders[i].ID = 0
	}
	for i := range errand.Decisions {
		errand.Decisions[i].ID = 0
	}
	for i := range errand.Notes {
		errand.Notes[i].ID = 0
	}
	for i := range errand.Facilities {
		errand.Facilities[i].ID = 0
	}
	for i := range errand.Statuses {
		errand.Statuses[i].ID = 0
	}
}

// normalizeErrand upper-cases enum fields, applies defaults and validates the whole draft.
func (e Engine) normalizeErrand(op string, errand *domain.Errand) error {
	errand.CaseType = strings.ToUpper(strings.TrimSpace(errand.CaseType))
	errand.Priority = strings.ToUpper(strings.TrimSpace(errand.Priority))
	errand.Channel = strings.ToUpper(strings.TrimSpace(errand.Channel))
	if errand.Priority == "" {
		errand.Priority = domain.PriorityMedium
	}
	if err := e.validateErrandFields(op, *errand, false); err != nil {
		return err
	}
	for i := range errand.Stakeholders {
		if err := normalizeStakeholder(op, &errand.Stakeholders[i]); err != nil {
			return err
		}
	}
	for i := range errand.Decisions {
		if err := normalizeDecision(op, &errand.Decisions[i]); err != nil {
			return err
		}
	}
	for i := range errand.Notes {
		if err := normalizeNote(op, &errand.Notes[i]); err != nil {
			return err
		}
	}
	for i := range errand.Statuses {
		if err := normalizeStatus(op, &errand.Statuses[i]); err != nil {
			return err
		}
	}
	for i := range errand.ExtraParameters {
		errand.ExtraParameters[i].Key = strings.TrimSpace(errand.ExtraParameters[i].Key)
	}
	return validateParameters(op, errand.ExtraParameters)
}

// validateErrandFields checks the errand's own enum fields. With partial set, empty fields are
// accepted because they are left untouched.
func (e Engine) validateErrandFields(op string, errand domain.Errand, partial bool) error {
	if errand.CaseType == "" {
		if !partial {
			return domain.Validation(op, "case_type is required")
		}
	} else if !domain.OneOf(errand.CaseType, e.Config.CaseTypes) {
		return domain.Validation(op, "unknown case_type %q", errand.CaseType)
	}
	if errand.Priority != "" && !domain.OneOf(errand.Priority, domain.Priorities) {
		return domain.Validation(op, "priority must be one of %s", strings.Join(domain.Priorities, ", "))
	}
	if errand.Channel != "" && !domain.OneOf(errand.Channel, domain.Channels) {
		return domain.Validation(op, "channel must be one of %s", strings.Join(domain.Channels, ", "))
	}
	return nil
}

func validateParameters(op string, params []domain.ExtraParameter) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		key := strings.TrimSpace(p.Key)
		if key == "" {
			return domain.Validation(op, "parameter key is required")
		}
		if seen[key] {
			return domain.Validation(op, "parameter %q given twice", key)
		}
		seen[key] = true
	}
	return nil
}
