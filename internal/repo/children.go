package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"casedata/internal/domain"
)

type childHead struct {
	ID       *int64
	ErrandID *int64
	Version  *int
	Created  *string
	Updated  *string
}

// childTable describes how one child collection maps onto its table. Content columns exclude the
// bookkeeping columns (id, errand_id, position, version, created, updated).
type childTable[T any] struct {
	table   string
	columns []string
	head    func(*T) childHead
	values  func(T) ([]any, error)
	dests   func(*T) ([]any, func() error)
}

var stakeholderTable = childTable[domain.Stakeholder]{
	table:   "stakeholders",
	columns: []string{"type", "first_name", "last_name", "person_id", "organization_name", "organization_number", "roles_json"},
	head: func(s *domain.Stakeholder) childHead {
		return childHead{&s.ID, &s.ErrandID, &s.Version, &s.Created, &s.Updated}
	},
	values: func(s domain.Stakeholder) ([]any, error) {
		roles := s.Roles
		if roles == nil {
			roles = []string{}
		}
		data, err := json.Marshal(roles)
		if err != nil {
			return nil, err
		}
		return []any{s.Type, s.FirstName, s.LastName, s.PersonID, s.OrganizationName, s.OrganizationNumber, string(data)}, nil
	},
	dests: func(s *domain.Stakeholder) ([]any, func() error) {
		var roles string
		return []any{&s.Type, &s.FirstName, &s.LastName, &s.PersonID, &s.OrganizationName, &s.OrganizationNumber, &roles},
			func() error {
				if roles == "" || roles == "[]" {
					s.Roles = nil
					return nil
				}
				return json.Unmarshal([]byte(roles), &s.Roles)
			}
	},
}

var decisionTable = childTable[domain.Decision]{
	table:   "decisions",
	columns: []string{"decision_type", "decision_outcome", "description", "decided_at", "valid_from", "valid_to"},
	head: func(d *domain.Decision) childHead {
		return childHead{&d.ID, &d.ErrandID, &d.Version, &d.Created, &d.Updated}
	},
	values: func(d domain.Decision) ([]any, error) {
		return []any{d.DecisionType, d.DecisionOutcome, d.Description, d.DecidedAt, d.ValidFrom, d.ValidTo}, nil
	},
	dests: func(d *domain.Decision) ([]any, func() error) {
		return []any{&d.DecisionType, &d.DecisionOutcome, &d.Description, &d.DecidedAt, &d.ValidFrom, &d.ValidTo}, nil
	},
}

var noteTable = childTable[domain.Note]{
	table:   "notes",
	columns: []string{"title", "text", "note_type", "created_by", "updated_by"},
	head: func(n *domain.Note) childHead {
		return childHead{&n.ID, &n.ErrandID, &n.Version, &n.Created, &n.Updated}
	},
	values: func(n domain.Note) ([]any, error) {
		return []any{n.Title, n.Text, n.NoteType, n.CreatedBy, n.UpdatedBy}, nil
	},
	dests: func(n *domain.Note) ([]any, func() error) {
		return []any{&n.Title, &n.Text, &n.NoteType, &n.CreatedBy, &n.UpdatedBy}, nil
	},
}

var facilityTable = childTable[domain.Facility]{
	table:   "facilities",
	columns: []string{"facility_type", "description", "main_facility", "property_designation", "city"},
	head: func(f *domain.Facility) childHead {
		return childHead{&f.ID, &f.ErrandID, &f.Version, &f.Created, &f.Updated}
	},
	values: func(f domain.Facility) ([]any, error) {
		return []any{f.FacilityType, f.Description, f.MainFacility, f.PropertyDesignation, f.City}, nil
	},
	dests: func(f *domain.Facility) ([]any, func() error) {
		return []any{&f.FacilityType, &f.Description, &f.MainFacility, &f.PropertyDesignation, &f.City}, nil
	},
}

var statusTable = childTable[domain.Status]{
	table:   "statuses",
	columns: []string{"status_type", "description"},
	head: func(s *domain.Status) childHead {
		return childHead{&s.ID, &s.ErrandID, &s.Version, &s.Created, &s.Updated}
	},
	values: func(s domain.Status) ([]any, error) {
		return []any{s.StatusType, s.Description}, nil
	},
	dests: func(s *domain.Status) ([]any, func() error) {
		return []any{&s.StatusType, &s.Description}, nil
	},
}

// load returns the children of the given errands grouped by errand id, in position order.
func (c childTable[T]) load(ctx context.Context, q Querier, errandIDs []int64) (map[int64][]T, error) {
	out := make(map[int64][]T, len(errandIDs))
	if len(errandIDs) == 0 {
		return out, nil
	}
	ids, err := json.Marshal(errandIDs)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id,errand_id,version,created,updated,%s FROM %s
WHERE errand_id IN (SELECT value FROM json_each(?)) ORDER BY errand_id, position, id`,
		strings.Join(c.columns, ","), c.table)
	rows, err := q.QueryContext(ctx, query, string(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item T
		h := c.head(&item)
		dests, finish := c.dests(&item)
		if err := rows.Scan(append([]any{h.ID, h.ErrandID, h.Version, h.Created, h.Updated}, dests...)...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.table, err)
		}
		if finish != nil {
			if err := finish(); err != nil {
				return nil, fmt.Errorf("decode %s: %w", c.table, err)
			}
		}
		out[*h.ErrandID] = append(out[*h.ErrandID], item)
	}
	return out, rows.Err()
}

func (c childTable[T]) insert(ctx context.Context, tx *sql.Tx, errandID int64, position int, item *T, now string) error {
	vals, err := c.values(*item)
	if err != nil {
		return err
	}
	h := c.head(item)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(c.columns)), ",")
	query := fmt.Sprintf(`INSERT INTO %s(errand_id,position,version,created,updated,%s) VALUES (?,?,?,?,?,%s)`,
		c.table, strings.Join(c.columns, ","), placeholders)
	args := append([]any{errandID, position, 0, now, now}, vals...)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", c.table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	*h.ID = id
	*h.ErrandID = errandID
	*h.Version = 0
	*h.Created = now
	*h.Updated = now
	return nil
}

// reconcile makes the stored collection of errandID equal to items: unknown or zero ids are
// inserted, changed rows get version+1, rows missing from items are deleted. Items are updated in
// place with their stored identity and bookkeeping.
func (c childTable[T]) reconcile(ctx context.Context, tx *sql.Tx, errandID int64, items []T, now string) error {
	stored, err := c.load(ctx, tx, []int64{errandID})
	if err != nil {
		return err
	}
	byID := make(map[int64]T, len(stored[errandID]))
	for _, old := range stored[errandID] {
		byID[*c.head(&old).ID] = old
	}
	seen := make(map[int64]bool, len(items))
	for i := range items {
		item := &items[i]
		h := c.head(item)
		old, ok := byID[*h.ID]
		if *h.ID == 0 || !ok || seen[*h.ID] {
			if err := c.insert(ctx, tx, errandID, i, item, now); err != nil {
				return err
			}
			continue
		}
		seen[*h.ID] = true
		oh := c.head(&old)
		*h.ErrandID = errandID
		*h.Created = *oh.Created
		oldVals, err := c.values(old)
		if err != nil {
			return err
		}
		newVals, err := c.values(*item)
		if err != nil {
			return err
		}
		if reflect.DeepEqual(oldVals, newVals) {
			*h.Version = *oh.Version
			*h.Updated = *oh.Updated
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET position=? WHERE id=?`, c.table), i, *h.ID); err != nil {
				return fmt.Errorf("reorder %s: %w", c.table, err)
			}
			continue
		}
		*h.Version = *oh.Version + 1
		*h.Updated = now
		sets := make([]string, 0, len(c.columns))
		for _, col := range c.columns {
			sets = append(sets, col+"=?")
		}
		query := fmt.Sprintf(`UPDATE %s SET %s,position=?,version=?,updated=? WHERE id=?`, c.table, strings.Join(sets, ","))
		args := append(newVals, i, *h.Version, now, *h.ID)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update %s: %w", c.table, err)
		}
	}
	for id := range byID {
		if seen[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=?`, c.table), id); err != nil {
			return fmt.Errorf("delete %s: %w", c.table, err)
		}
	}
	return nil
}
