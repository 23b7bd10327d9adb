package domain

import "strings"

const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
)

var Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh}

var Channels = []string{"EMAIL", "WEB_UI", "MOBILE", "SYSTEM", "ESERVICE"}

var StakeholderTypes = []string{"PERSON", "ORGANIZATION"}

var DecisionTypes = []string{"RECOMMENDED", "PROPOSED", "FINAL"}

var DecisionOutcomes = []string{"APPROVAL", "REJECTION", "DISMISSAL", "CANCELLATION"}

var NoteTypes = []string{"INTERNAL", "PUBLIC"}

// Scope identifies the tenant an errand lives in. Every lookup is scoped.
type Scope struct {
	MunicipalityID string `json:"municipality_id"`
	Namespace      string `json:"namespace"`
}

// Actor is the caller of a mutation, split into the calling system and the human operator.
type Actor struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id,omitempty"`
}

type Errand struct {
	ID                  int64            `json:"id"`
	ErrandNumber        string           `json:"errand_number"`
	Version             int              `json:"version"`
	MunicipalityID      string           `json:"municipality_id"`
	Namespace           string           `json:"namespace"`
	CaseType            string           `json:"case_type"`
	Priority            string           `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	ExternalCaseID      string           `json:"external_case_id,omitempty"`
	Channel             string           `json:"channel,omitempty"`
	Description         string           `json:"description,omitempty"`
	CaseTitleAddition   string           `json:"case_title_addition,omitempty"`
	DiaryNumber         string           `json:"diary_number,omitempty"`
	Phase               string           `json:"phase,omitempty"`
	StartDate           string           `json:"start_date,omitempty"`
	EndDate             string           `json:"end_date,omitempty"`
	ApplicationReceived string           `json:"application_received,omitempty"`
	ProcessID           *string          `json:"process_id,omitempty"`
	CreatedByClient     string           `json:"created_by_client"`
	UpdatedByClient     string           `json:"updated_by_client"`
	CreatedBy           string           `json:"created_by,omitempty"`
	UpdatedBy           string           `json:"updated_by,omitempty"`
	Created             string           `json:"created" format:"date-time"`
	Updated             string           `json:"updated" format:"date-time"`
	Stakeholders        []Stakeholder    `json:"stakeholders"`
	Decisions           []Decision       `json:"decisions"`
	Notes               []Note           `json:"notes"`
	Facilities          []Facility       `json:"facilities"`
	Statuses            []Status         `json:"statuses"`
	ExtraParameters     []ExtraParameter `json:"extra_parameters"`
}

func (e Errand) Scope() Scope {
	return Scope{MunicipalityID: e.MunicipalityID, Namespace: e.Namespace}
}

// Clone returns a deep copy, so snapshots handed to other goroutines never share slices.
func (e Errand) Clone() Errand {
	out := e
	if e.ProcessID != nil {
		pid := *e.ProcessID
		out.ProcessID = &pid
	}
	out.Stakeholders = make([]Stakeholder, len(e.Stakeholders))
	for i, s := range e.Stakeholders {
		s.Roles = append([]string(nil), s.Roles...)
		out.Stakeholders[i] = s
	}
	out.Decisions = append([]Decision(nil), e.Decisions...)
	out.Notes = append([]Note(nil), e.Notes...)
	out.Facilities = append([]Facility(nil), e.Facilities...)
	out.Statuses = append([]Status(nil), e.Statuses...)
	out.ExtraParameters = make([]ExtraParameter, len(e.ExtraParameters))
	for i, p := range e.ExtraParameters {
		p.Values = append([]string(nil), p.Values...)
		out.ExtraParameters[i] = p
	}
	return out
}

// Stamp records the actor as the last writer.
func (e *Errand) Stamp(actor Actor, now string) {
	e.UpdatedByClient = actor.ClientID
	e.UpdatedBy = actor.UserID
	e.Updated = now
}

type Stakeholder struct {
	ID                 int64    `json:"id"`
	ErrandID           int64    `json:"errand_id"`
	Version            int      `json:"version"`
	Type               string   `json:"type" enum:"PERSON,ORGANIZATION"`
	FirstName          string   `json:"first_name,omitempty"`
	LastName           string   `json:"last_name,omitempty"`
	PersonID           string   `json:"person_id,omitempty"`
	OrganizationName   string   `json:"organization_name,omitempty"`
	OrganizationNumber string   `json:"organization_number,omitempty"`
	Roles              []string `json:"roles,omitempty"`
	Created            string   `json:"created" format:"date-time"`
	Updated            string   `json:"updated" format:"date-time"`
}

type Decision struct {
	ID              int64  `json:"id"`
	ErrandID        int64  `json:"errand_id"`
	Version         int    `json:"version"`
	DecisionType    string `json:"decision_type" enum:"RECOMMENDED,PROPOSED,FINAL"`
	DecisionOutcome string `json:"decision_outcome" enum:"APPROVAL,REJECTION,DISMISSAL,CANCELLATION"`
	Description     string `json:"description,omitempty"`
	DecidedAt       string `json:"decided_at,omitempty"`
	ValidFrom       string `json:"valid_from,omitempty"`
	ValidTo         string `json:"valid_to,omitempty"`
	Created         string `json:"created" format:"date-time"`
	Updated         string `json:"updated" format:"date-time"`
}

type Note struct {
	ID        int64  `json:"id"`
	ErrandID  int64  `json:"errand_id"`
	Version   int    `json:"version"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	NoteType  string `json:"note_type" enum:"INTERNAL,PUBLIC"`
	CreatedBy string `json:"created_by,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
	Created   string `json:"created" format:"date-time"`
	Updated   string `json:"updated" format:"date-time"`
}

type Facility struct {
	ID                  int64  `json:"id"`
	ErrandID            int64  `json:"errand_id"`
	Version             int    `json:"version"`
	FacilityType        string `json:"facility_type,omitempty"`
	Description         string `json:"description,omitempty"`
	MainFacility        bool   `json:"main_facility"`
	PropertyDesignation string `json:"property_designation,omitempty"`
	City                string `json:"city,omitempty"`
	Created             string `json:"created" format:"date-time"`
	Updated             string `json:"updated" format:"date-time"`
}

type Status struct {
	ID          int64  `json:"id"`
	ErrandID    int64  `json:"errand_id"`
	Version     int    `json:"version"`
	StatusType  string `json:"status_type"`
	Description string `json:"description,omitempty"`
	Created     string `json:"created" format:"date-time"`
	Updated     string `json:"updated" format:"date-time"`
}

type ExtraParameter struct {
	ID          string   `json:"id"`
	ErrandID    int64    `json:"errand_id"`
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name,omitempty"`
	Values      []string `json:"values"`
}

// HasValue reports whether v is one of the parameter's values.
func (p ExtraParameter) HasValue(v string) bool {
	for _, have := range p.Values {
		if have == v {
			return true
		}
	}
	return false
}

// Event is one row of an errand's change history.
type Event struct {
	ID             int64  `json:"id"`
	TS             string `json:"ts" format:"date-time"`
	Type           string `json:"type"`
	MunicipalityID string `json:"municipality_id"`
	Namespace      string `json:"namespace"`
	ErrandID       int64  `json:"errand_id"`
	ClientID       string `json:"client_id"`
	UserID         string `json:"user_id,omitempty"`
	Version        int    `json:"version"`
	Payload        string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SortOrder struct {
	Field string
	Desc  bool
}

type PageRequest struct {
	Page int
	Size int
	Sort []SortOrder
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 1000
)

// Normalize clamps page and size into their valid ranges.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

type Page struct {
	Items         []Errand `json:"items"`
	Page          int      `json:"page"`
	Size          int      `json:"size"`
	TotalElements int      `json:"total_elements"`
	TotalPages    int      `json:"total_pages"`
}

// OneOf reports whether v is in allowed, ignoring case.
func OneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}
