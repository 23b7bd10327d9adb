package server

import (
	"casedata/internal/domain"
)

// Request payloads

type StakeholderRequest struct {
	Type               string   `json:"type" doc:"PERSON or ORGANIZATION"`
	FirstName          string   `json:"first_name,omitempty"`
	LastName           string   `json:"last_name,omitempty"`
	PersonID           string   `json:"person_id,omitempty"`
	OrganizationName   string   `json:"organization_name,omitempty"`
	OrganizationNumber string   `json:"organization_number,omitempty"`
	Roles              []string `json:"roles,omitempty"`
}

type DecisionRequest struct {
	DecisionType    string `json:"decision_type" doc:"RECOMMENDED, PROPOSED or FINAL"`
	DecisionOutcome string `json:"decision_outcome" doc:"APPROVAL, REJECTION, DISMISSAL or CANCELLATION"`
	Description     string `json:"description,omitempty"`
	DecidedAt       string `json:"decided_at,omitempty"`
	ValidFrom       string `json:"valid_from,omitempty"`
	ValidTo         string `json:"valid_to,omitempty"`
}

type NoteRequest struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	NoteType string `json:"note_type,omitempty" doc:"INTERNAL (default) or PUBLIC"`
}

type FacilityRequest struct {
	FacilityType        string `json:"facility_type,omitempty"`
	Description         string `json:"description,omitempty"`
	MainFacility        bool   `json:"main_facility,omitempty"`
	PropertyDesignation string `json:"property_designation,omitempty"`
	City                string `json:"city,omitempty"`
}

type StatusRequest struct {
	StatusType  string `json:"status_type"`
	Description string `json:"description,omitempty"`
}

type ParameterRequest struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name,omitempty"`
	Values      []string `json:"values,omitempty"`
}

type ParameterValuesRequest struct {
	Values []string `json:"values"`
}

type CreateErrandRequest struct {
	CaseType            string               `json:"case_type"`
	Priority            string               `json:"priority,omitempty" doc:"LOW, MEDIUM (default) or HIGH"`
	ExternalCaseID      string               `json:"external_case_id,omitempty"`
	Channel             string               `json:"channel,omitempty"`
	Description         string               `json:"description,omitempty"`
	CaseTitleAddition   string               `json:"case_title_addition,omitempty"`
	DiaryNumber         string               `json:"diary_number,omitempty"`
	Phase               string               `json:"phase,omitempty"`
	StartDate           string               `json:"start_date,omitempty"`
	EndDate             string               `json:"end_date,omitempty"`
	ApplicationReceived string               `json:"application_received,omitempty"`
	Stakeholders        []StakeholderRequest `json:"stakeholders,omitempty"`
	Decisions           []DecisionRequest    `json:"decisions,omitempty"`
	Notes               []NoteRequest        `json:"notes,omitempty"`
	Facilities          []FacilityRequest    `json:"facilities,omitempty"`
	Statuses            []StatusRequest      `json:"statuses,omitempty"`
	ExtraParameters     []ParameterRequest   `json:"extra_parameters,omitempty"`
}

// Mapping helpers

func (r CreateErrandRequest) toDomain() domain.Errand {
	e := domain.Errand{
		CaseType:            r.CaseType,
		Priority:            r.Priority,
		ExternalCaseID:      r.ExternalCaseID,
		Channel:             r.Channel,
		Description:         r.Description,
		CaseTitleAddition:   r.CaseTitleAddition,
		DiaryNumber:         r.DiaryNumber,
		Phase:               r.Phase,
		StartDate:           r.StartDate,
		EndDate:             r.EndDate,
		ApplicationReceived: r.ApplicationReceived,
		Stakeholders:        mapSlice(r.Stakeholders, StakeholderRequest.toDomain),
		Decisions:           mapSlice(r.Decisions, DecisionRequest.toDomain),
		Notes:               mapSlice(r.Notes, NoteRequest.toDomain),
		Facilities:          mapSlice(r.Facilities, FacilityRequest.toDomain),
		Statuses:            mapSlice(r.Statuses, StatusRequest.toDomain),
		ExtraParameters:     mapSlice(r.ExtraParameters, ParameterRequest.toDomain),
	}
	return e
}

func (r StakeholderRequest) toDomain() domain.Stakeholder {
	return domain.Stakeholder{
		Type:               r.Type,
		FirstName:          r.FirstName,
		LastName:           r.LastName,
		PersonID:           r.PersonID,
		OrganizationName:   r.OrganizationName,
		OrganizationNumber: r.OrganizationNumber,
		Roles:              r.Roles,
	}
}

func (r DecisionRequest) toDomain() domain.Decision {
	return domain.Decision{
		DecisionType:    r.DecisionType,
		DecisionOutcome: r.DecisionOutcome,
		Description:     r.Description,
		DecidedAt:       r.DecidedAt,
		ValidFrom:       r.ValidFrom,
		ValidTo:         r.ValidTo,
	}
}

func (r NoteRequest) toDomain() domain.Note {
	return domain.Note{Title: r.Title, Text: r.Text, NoteType: r.NoteType}
}

func (r FacilityRequest) toDomain() domain.Facility {
	return domain.Facility{
		FacilityType:        r.FacilityType,
		Description:         r.Description,
		MainFacility:        r.MainFacility,
		PropertyDesignation: r.PropertyDesignation,
		City:                r.City,
	}
}

func (r StatusRequest) toDomain() domain.Status {
	return domain.Status{StatusType: r.StatusType, Description: r.Description}
}

func (r ParameterRequest) toDomain() domain.ExtraParameter {
	return domain.ExtraParameter{Key: r.Key, DisplayName: r.DisplayName, Values: r.Values}
}

func mapSlice[In, Out any](in []In, fn func(In) Out) []Out {
	if len(in) == 0 {
		return nil
	}
	out := make([]Out, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
