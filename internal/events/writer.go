package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"casedata/internal/domain"
)

const (
	TypeErrandCreated      = "errand.created"
	TypeErrandUpdated      = "errand.updated"
	TypeErrandDeleted      = "errand.deleted"
	TypeProcessStarted     = "errand.process_started"
	TypeStatusAdded        = "status.added"
	TypeStatusesReplaced   = "statuses.replaced"
	TypeStakeholderAdded   = "stakeholder.added"
	TypeStakeholdersSet    = "stakeholders.replaced"
	TypeStakeholderDeleted = "stakeholder.deleted"
	TypeNoteAdded          = "note.added"
	TypeNoteUpdated        = "note.updated"
	TypeNoteDeleted        = "note.deleted"
	TypeDecisionAdded      = "decision.added"
	TypeDecisionDeleted    = "decision.deleted"
	TypeFacilityAdded      = "facility.added"
	TypeFacilitiesReplaced = "facilities.replaced"
	TypeFacilityUpdated    = "facility.updated"
	TypeFacilityDeleted    = "facility.deleted"
	TypeParametersReplaced = "parameters.replaced"
	TypeParameterUpdated   = "parameter.updated"
	TypeParameterDeleted   = "parameter.deleted"
)

// Writer appends rows to the errand change history. It runs inside the caller's transaction so a
// rolled-back mutation leaves no history behind.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, e domain.Errand, actor domain.Actor, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO errand_events(ts,type,municipality_id,namespace,errand_id,client_id,user_id,version,payload_json) VALUES (?,?,?,?,?,?,?,?,?)`,
		ts, evtType, e.MunicipalityID, e.Namespace, e.ID, actor.ClientID, nullable(actor.UserID), e.Version, string(data))
	return err
}

// List returns the history of one errand, oldest first.
func (w Writer) List(ctx context.Context, db *sql.DB, scope domain.Scope, errandID int64) ([]domain.Event, error) {
	rows, err := db.QueryContext(ctx, `SELECT id,ts,type,municipality_id,namespace,errand_id,client_id,COALESCE(user_id,''),version,payload_json
FROM errand_events WHERE errand_id=? AND municipality_id=? AND namespace=? ORDER BY id`,
		errandID, scope.MunicipalityID, scope.Namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var evt domain.Event
		if err := rows.Scan(&evt.ID, &evt.TS, &evt.Type, &evt.MunicipalityID, &evt.Namespace, &evt.ErrandID,
			&evt.ClientID, &evt.UserID, &evt.Version, &evt.Payload); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
