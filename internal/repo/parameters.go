package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"casedata/internal/domain"
)

// Params stores the extra-parameter collection of an errand. Keys are unique per errand and every
// lookup is restricted to errands inside the given scope.
type Params struct {
	DB *sql.DB
}

const paramScope = `errand_id IN (SELECT id FROM errands WHERE id=? AND municipality_id=? AND namespace=?)`

func errandInScope(ctx context.Context, q Querier, scope domain.Scope, errandID int64) error {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM errands WHERE id=? AND municipality_id=? AND namespace=?`,
		errandID, scope.MunicipalityID, scope.Namespace).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeValues(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	return string(data), err
}

// ReplaceAll drops every parameter of the errand and stores params in their place with fresh ids.
func (p Params) ReplaceAll(ctx context.Context, tx *sql.Tx, scope domain.Scope, errandID int64, params []domain.ExtraParameter) ([]domain.ExtraParameter, error) {
	if err := errandInScope(ctx, tx, scope, errandID); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(params))
	for _, param := range params {
		if seen[param.Key] {
			return nil, fmt.Errorf("%w: parameter %q", ErrDuplicate, param.Key)
		}
		seen[param.Key] = true
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM extra_parameters WHERE errand_id=?`, errandID); err != nil {
		return nil, fmt.Errorf("clear parameters: %w", err)
	}
	out := make([]domain.ExtraParameter, 0, len(params))
	for i, param := range params {
		values, err := encodeValues(param.Values)
		if err != nil {
			return nil, err
		}
		param.ID = uuid.NewString()
		param.ErrandID = errandID
		if param.Values == nil {
			param.Values = []string{}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO extra_parameters(id,errand_id,position,param_key,display_name,values_json) VALUES (?,?,?,?,?,?)`,
			param.ID, errandID, i, param.Key, nullable(param.DisplayName), values); err != nil {
			return nil, fmt.Errorf("insert parameter %q: %w", param.Key, err)
		}
		out = append(out, param)
	}
	return out, nil
}

// UpsertByKey replaces the value list of an existing key. It never creates a key.
func (p Params) UpsertByKey(ctx context.Context, q Querier, scope domain.Scope, errandID int64, key string, values []string) (domain.ExtraParameter, error) {
	encoded, err := encodeValues(values)
	if err != nil {
		return domain.ExtraParameter{}, err
	}
	res, err := q.ExecContext(ctx, `UPDATE extra_parameters SET values_json=? WHERE param_key=? AND `+paramScope,
		encoded, key, errandID, scope.MunicipalityID, scope.Namespace)
	if err != nil {
		return domain.ExtraParameter{}, fmt.Errorf("update parameter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ExtraParameter{}, ErrNotFound
	}
	return p.get(ctx, q, scope, errandID, key)
}

func (p Params) DeleteByKey(ctx context.Context, q Querier, scope domain.Scope, errandID int64, key string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM extra_parameters WHERE param_key=? AND `+paramScope,
		key, errandID, scope.MunicipalityID, scope.Namespace)
	if err != nil {
		return fmt.Errorf("delete parameter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReadByKey returns the values of key.
func (p Params) ReadByKey(ctx context.Context, q Querier, scope domain.Scope, errandID int64, key string) ([]string, error) {
	param, err := p.get(ctx, q, scope, errandID, key)
	if err != nil {
		return nil, err
	}
	return param.Values, nil
}

func (p Params) get(ctx context.Context, q Querier, scope domain.Scope, errandID int64, key string) (domain.ExtraParameter, error) {
	var param domain.ExtraParameter
	var values string
	err := q.QueryRowContext(ctx, `SELECT id,errand_id,param_key,COALESCE(display_name,''),values_json FROM extra_parameters WHERE param_key=? AND `+paramScope,
		key, errandID, scope.MunicipalityID, scope.Namespace).Scan(&param.ID, &param.ErrandID, &param.Key, &param.DisplayName, &values)
	if errors.Is(err, sql.ErrNoRows) {
		return param, ErrNotFound
	}
	if err != nil {
		return param, err
	}
	if err := json.Unmarshal([]byte(values), &param.Values); err != nil {
		return param, fmt.Errorf("decode parameter %q: %w", key, err)
	}
	return param, nil
}

// List returns the parameters of one errand in stored order.
func (p Params) List(ctx context.Context, q Querier, scope domain.Scope, errandID int64) ([]domain.ExtraParameter, error) {
	if err := errandInScope(ctx, q, scope, errandID); err != nil {
		return nil, err
	}
	byErrand, err := p.ForErrands(ctx, q, []int64{errandID})
	if err != nil {
		return nil, err
	}
	return orEmpty(byErrand[errandID]), nil
}

// ForErrands bulk-loads the parameters of the given errands, keyed by errand id.
func (p Params) ForErrands(ctx context.Context, q Querier, errandIDs []int64) (map[int64][]domain.ExtraParameter, error) {
	out := make(map[int64][]domain.ExtraParameter, len(errandIDs))
	if len(errandIDs) == 0 {
		return out, nil
	}
	ids, err := json.Marshal(errandIDs)
	if err != nil {
		return nil, err
	}
	if q == nil {
		q = p.DB
	}
	rows, err := q.QueryContext(ctx, `SELECT id,errand_id,param_key,COALESCE(display_name,''),values_json FROM extra_parameters
WHERE errand_id IN (SELECT value FROM json_each(?)) ORDER BY errand_id, position`, string(ids))
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var param domain.ExtraParameter
		var values string
		if err := rows.Scan(&param.ID, &param.ErrandID, &param.Key, &param.DisplayName, &values); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(values), &param.Values); err != nil {
			return nil, fmt.Errorf("decode parameter %q: %w", param.Key, err)
		}
		out[param.ErrandID] = append(out[param.ErrandID], param)
	}
	return out, rows.Err()
}
