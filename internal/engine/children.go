package engine

import (
	"context"
	"strings"

	"casedata/internal/domain"
	"casedata/internal/events"
)

// NotePatch overwrites only the fields that are non-nil and non-empty.
type NotePatch struct {
	Title    *string `json:"title,omitempty"`
	Text     *string `json:"text,omitempty"`
	NoteType *string `json:"note_type,omitempty"`
}

// FacilityPatch overwrites only the fields that are set; MainFacility applies whenever non-nil.
type FacilityPatch struct {
	FacilityType        *string `json:"facility_type,omitempty"`
	Description         *string `json:"description,omitempty"`
	MainFacility        *bool   `json:"main_facility,omitempty"`
	PropertyDesignation *string `json:"property_designation,omitempty"`
	City                *string `json:"city,omitempty"`
}

func normalizeStakeholder(op string, s *domain.Stakeholder) error {
	s.Type = strings.ToUpper(strings.TrimSpace(s.Type))
	if !domain.OneOf(s.Type, domain.StakeholderTypes) {
		return domain.Validation(op, "stakeholder type must be one of %s", strings.Join(domain.StakeholderTypes, ", "))
	}
	roles := s.Roles[:0:0]
	for _, r := range s.Roles {
		if r = strings.ToUpper(strings.TrimSpace(r)); r != "" {
			roles = append(roles, r)
		}
	}
	s.Roles = roles
	return nil
}

func normalizeDecision(op string, d *domain.Decision) error {
	d.DecisionType = strings.ToUpper(strings.TrimSpace(d.DecisionType))
	d.DecisionOutcome = strings.ToUpper(strings.TrimSpace(d.DecisionOutcome))
	if !domain.OneOf(d.DecisionType, domain.DecisionTypes) {
		return domain.Validation(op, "decision_type must be one of %s", strings.Join(domain.DecisionTypes, ", "))
	}
	if !domain.OneOf(d.DecisionOutcome, domain.DecisionOutcomes) {
		return domain.Validation(op, "decision_outcome must be one of %s", strings.Join(domain.DecisionOutcomes, ", "))
	}
	return nil
}

func normalizeNote(op string, n *domain.Note) error {
	n.NoteType = strings.ToUpper(strings.TrimSpace(n.NoteType))
	if n.NoteType == "" {
		n.NoteType = "INTERNAL"
	}
	if !domain.OneOf(n.NoteType, domain.NoteTypes) {
		return domain.Validation(op, "note_type must be one of %s", strings.Join(domain.NoteTypes, ", "))
	}
	if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Text) == "" {
		return domain.Validation(op, "note title and text are required")
	}
	return nil
}

func normalizeStatus(op string, s *domain.Status) error {
	s.StatusType = strings.TrimSpace(s.StatusType)
	if s.StatusType == "" {
		return domain.Validation(op, "status_type is required")
	}
	return nil
}

// AddStatus appends a status to the errand.
func (e Engine) AddStatus(ctx context.Context, scope domain.Scope, id int64, status domain.Status, actor domain.Actor) (domain.Status, error) {
	const op = "status.add"
	if err := normalizeStatus(op, &status); err != nil {
		return domain.Status{}, err
	}
	status.ID = 0
	saved, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeStatusAdded,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			errand.Statuses = append(errand.Statuses, status)
			return events.EventPayload{"status_type": status.StatusType}, nil
		},
	})
	if err != nil {
		return domain.Status{}, err
	}
	return saved.Statuses[len(saved.Statuses)-1], nil
}

// ReplaceStatuses swaps the whole status list under the errand's write lock.
func (e Engine) ReplaceStatuses(ctx context.Context, scope domain.Scope, id int64, statuses []domain.Status, actor domain.Actor) (domain.Errand, error) {
	const op = "statuses.replace"
	statuses = append([]domain.Status{}, statuses...)
	for i := range statuses {
		if err := normalizeStatus(op, &statuses[i]); err != nil {
			return domain.Errand{}, err
		}
		statuses[i].ID = 0
	}
	return e.mutate(ctx, scope, id, actor, mutation{
		op:        op,
		evtType:   events.TypeStatusesReplaced,
		exclusive: true,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			errand.Statuses = append([]domain.Status{}, statuses...)
			return events.EventPayload{"count": len(statuses)}, nil
		},
	})
}

func (e Engine) AddStakeholder(ctx context.Context, scope domain.Scope, id int64, s domain.Stakeholder, actor domain.Actor) (domain.Stakeholder, error) {
	const op = "stakeholder.add"
	if err := normalizeStakeholder(op, &s); err != nil {
		return domain.Stakeholder{}, err
	}
	s.ID = 0
	saved, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeStakeholderAdded,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			errand.Stakeholders = append(errand.Stakeholders, s)
			return events.EventPayload{"type": s.Type, "roles": s.Roles}, nil
		},
	})
	if err != nil {
		return domain.Stakeholder{}, err
	}
	return saved.Stakeholders[len(saved.Stakeholders)-1], nil
}

// ReplaceStakeholders swaps the whole stakeholder list; every stakeholder gets a fresh identity.
func (e Engine) ReplaceStakeholders(ctx context.Context, scope domain.Scope, id int64, list []domain.Stakeholder, actor domain.Actor) (domain.Errand, error) {
	const op = "stakeholders.replace"
	list = append([]domain.Stakeholder{}, list...)
	for i := range list {
		if err := normalizeStakeholder(op, &list[i]); err != nil {
			return domain.Errand{}, err
		}
		list[i].ID = 0
	}
	return e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeStakeholdersSet,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			errand.Stakeholders = append([]domain.Stakeholder{}, list...)
			return events.EventPayload{"count": len(list)}, nil
		},
	})
}

func (e Engine) DeleteStakeholderOnErrand(ctx context.Context, scope domain.Scope, id, stakeholderID int64, actor domain.Actor) error {
	const op = "stakeholder.delete"
	_, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeStakeholderDeleted,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			idx := indexOf(len(errand.Stakeholders), func(i int) bool { return errand.Stakeholders[i].ID == stakeholderID })
			if idx < 0 {
				return nil, domain.NotFound(op, "stakeholder %d not found on errand %d", stakeholderID, id)
			}
			errand.Stakeholders = append(errand.Stakeholders[:idx], errand.Stakeholders[idx+1:]...)
			return events.EventPayload{"stakeholder_id": stakeholderID}, nil
		},
	})
	return err
}

func (e Engine) AddNote(ctx context.Context, scope domain.Scope, id int64, n domain.Note, actor domain.Actor) (domain.Note, error) {
	const op = "note.add"
	if err := normalizeNote(op, &n); err != nil {
		return domain.Note{}, err
	}
	n.ID = 0
	n.CreatedBy = actor.UserID
	n.UpdatedBy = actor.UserID
	saved, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeNoteAdded,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			errand.Notes = append(errand.Notes, n)
			return events.EventPayload{"title": n.Title}, nil
		},
	})
	if err != nil {
		return domain.Note{}, err
	}
	return saved.Notes[len(saved.Notes)-1], nil
}

// UpdateNoteOnErrand patches one note.
func (e Engine) UpdateNoteOnErrand(ctx context.Context, scope domain.Scope, id, noteID int64, patch NotePatch, actor domain.Actor) (domain.Note, error) {
	const op = "note.update"
	var idx int
	saved, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeNoteUpdated,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			idx = indexOf(len(errand.Notes), func(i int) bool { return errand.Notes[i].ID == noteID })
			if idx < 0 {
				return nil, domain.NotFound(op, "note %d not found on errand %d", noteID, id)
			}
			n := &errand.Notes[idx]
			setIfPresent(&n.Title, patch.Title)
			setIfPresent(&n.Text, patch.Text)
			setIfPresent(&n.NoteType, patch.NoteType)
			n.UpdatedBy = actor.UserID
			if err := normalizeNote(op, n); err != nil {
				return nil, err
			}
			return events.EventPayload{"note_id": noteID}, nil
		},
	})
	if err != nil {
		return domain.Note{}, err
	}
	return saved.Notes[idx], nil
}

func (e Engine) DeleteNoteOnErrand(ctx context.Context, scope domain.Scope, id, noteID int64, actor domain.Actor) error {
	const op = "note.delete"
	_, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeNoteDeleted,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			idx := indexOf(len(errand.Notes), func(i int) bool { return errand.Notes[i].ID == noteID })
			if idx < 0 {
				return nil, domain.NotFound(op, "note %d not found on errand %d", noteID, id)
			}
			errand.Notes = append(errand.Notes[:idx], errand.Notes[idx+1:]...)
			return events.EventPayload{"note_id": noteID}, nil
		},
	})
	return err
}

func (e Engine) AddDecision(ctx context.Context, scope domain.Scope, id int64, d domain.Decision, actor domain.Actor) (domain.Decision, error) {
	const op = "decision.add"
	if err := normalizeDecision(op, &d); err != nil {
		return domain.Decision{}, err
	}
	d.ID = 0
	saved, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeDecisionAdded,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			errand.Decisions = append(errand.Decisions, d)
			return events.EventPayload{"decision_type": d.DecisionType, "decision_outcome": d.DecisionOutcome}, nil
		},
	})
	if err != nil {
		return domain.Decision{}, err
	}
	return saved.Decisions[len(saved.Decisions)-1], nil
}

func (e Engine) DeleteDecisionOnErrand(ctx context.Context, scope domain.Scope, id, decisionID int64, actor domain.Actor) error {
	const op = "decision.delete"
	_, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeDecisionDeleted,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			idx := indexOf(len(errand.Decisions), func(i int) bool { return errand.Decisions[i].ID == decisionID })
			if idx < 0 {
				return nil, domain.NotFound(op, "decision %d not found on errand %d", decisionID, id)
			}
			errand.Decisions = append(errand.Decisions[:idx], errand.Decisions[idx+1:]...)
			return events.EventPayload{"decision_id": decisionID}, nil
		},
	})
	return err
}

func (e Engine) AddFacility(ctx context.Context, scope domain.Scope, id int64, f domain.Facility, actor domain.Actor) (domain.Facility, error) {
	const op = "facility.add"
	f.ID = 0
	saved, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeFacilityAdded,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			errand.Facilities = append(errand.Facilities, f)
			return events.EventPayload{"facility_type": f.FacilityType}, nil
		},
	})
	if err != nil {
		return domain.Facility{}, err
	}
	return saved.Facilities[len(saved.Facilities)-1], nil
}

// ReplaceFacilities swaps the whole facility list under the errand's write lock.
func (e Engine) ReplaceFacilities(ctx context.Context, scope domain.Scope, id int64, list []domain.Facility, actor domain.Actor) (domain.Errand, error) {
	const op = "facilities.replace"
	list = append([]domain.Facility{}, list...)
	for i := range list {
		list[i].ID = 0
	}
	return e.mutate(ctx, scope, id, actor, mutation{
		op:        op,
		evtType:   events.TypeFacilitiesReplaced,
		exclusive: true,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			errand.Facilities = append([]domain.Facility{}, list...)
			return events.EventPayload{"count": len(list)}, nil
		},
	})
}

// UpdateFacilityOnErrand patches one facility under the errand's write lock.
func (e Engine) UpdateFacilityOnErrand(ctx context.Context, scope domain.Scope, id, facilityID int64, patch FacilityPatch, actor domain.Actor) (domain.Facility, error) {
	const op = "facility.update"
	var idx int
	saved, err := e.mutate(ctx, scope, id, actor, mutation{
		op:        op,
		evtType:   events.TypeFacilityUpdated,
		exclusive: true,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			idx = indexOf(len(errand.Facilities), func(i int) bool { return errand.Facilities[i].ID == facilityID })
			if idx < 0 {
				return nil, domain.NotFound(op, "facility %d not found on errand %d", facilityID, id)
			}
			f := &errand.Facilities[idx]
			setIfPresent(&f.FacilityType, patch.FacilityType)
			setIfPresent(&f.Description, patch.Description)
			setIfPresent(&f.PropertyDesignation, patch.PropertyDesignation)
			setIfPresent(&f.City, patch.City)
			if patch.MainFacility != nil {
				f.MainFacility = *patch.MainFacility
			}
			return events.EventPayload{"facility_id": facilityID}, nil
		},
	})
	if err != nil {
		return domain.Facility{}, err
	}
	return saved.Facilities[idx], nil
}

func (e Engine) DeleteFacilityOnErrand(ctx context.Context, scope domain.Scope, id, facilityID int64, actor domain.Actor) error {
	const op = "facility.delete"
	_, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeFacilityDeleted,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			idx := indexOf(len(errand.Facilities), func(i int) bool { return errand.Facilities[i].ID == facilityID })
			if idx < 0 {
				return nil, domain.NotFound(op, "facility %d not found on errand %d", facilityID, id)
			}
			errand.Facilities = append(errand.Facilities[:idx], errand.Facilities[idx+1:]...)
			return events.EventPayload{"facility_id": facilityID}, nil
		},
	})
	return err
}

func indexOf(n int, match func(i int) bool) int {
	for i := 0; i < n; i++ {
		if match(i) {
			return i
		}
	}
	return -1
}

func setIfPresent(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}
