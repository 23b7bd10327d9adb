package engine

import (
	"context"
	"database/sql"
	"strings"

	"casedata/internal/domain"
	"casedata/internal/events"
)

// ReplaceParameters swaps the errand's whole parameter collection. Keys must be unique.
func (e Engine) ReplaceParameters(ctx context.Context, scope domain.Scope, id int64, params []domain.ExtraParameter, actor domain.Actor) ([]domain.ExtraParameter, error) {
	const op = "parameters.replace"
	params = append([]domain.ExtraParameter{}, params...)
	for i := range params {
		params[i].Key = strings.TrimSpace(params[i].Key)
	}
	if err := validateParameters(op, params); err != nil {
		return nil, err
	}
	store := e.store()
	saved, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeParametersReplaced,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			return events.EventPayload{"keys": parameterKeys(params)}, nil
		},
		afterSave: func(ctx context.Context, tx *sql.Tx, errand *domain.Errand) error {
			stored, err := store.Params.ReplaceAll(ctx, tx, scope, errand.ID, params)
			if err != nil {
				return err
			}
			errand.ExtraParameters = stored
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return saved.ExtraParameters, nil
}

// UpdateParameter replaces the values of an existing key.
func (e Engine) UpdateParameter(ctx context.Context, scope domain.Scope, id int64, key string, values []string, actor domain.Actor) (domain.ExtraParameter, error) {
	const op = "parameter.update"
	key = strings.TrimSpace(key)
	if values == nil {
		values = []string{}
	}
	var updated domain.ExtraParameter
	store := e.store()
	_, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeParameterUpdated,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			idx := indexOf(len(errand.ExtraParameters), func(i int) bool { return errand.ExtraParameters[i].Key == key })
			if idx < 0 {
				return nil, domain.NotFound(op, "parameter %q not found on errand %d", key, id)
			}
			errand.ExtraParameters[idx].Values = append([]string{}, values...)
			return events.EventPayload{"key": key, "values": values}, nil
		},
		afterSave: func(ctx context.Context, tx *sql.Tx, errand *domain.Errand) error {
			param, err := store.Params.UpsertByKey(ctx, tx, scope, errand.ID, key, values)
			if err != nil {
				return err
			}
			updated = param
			return nil
		},
	})
	if err != nil {
		return domain.ExtraParameter{}, err
	}
	return updated, nil
}

func (e Engine) DeleteParameter(ctx context.Context, scope domain.Scope, id int64, key string, actor domain.Actor) error {
	const op = "parameter.delete"
	key = strings.TrimSpace(key)
	store := e.store()
	_, err := e.mutate(ctx, scope, id, actor, mutation{
		op:      op,
		evtType: events.TypeParameterDeleted,
		apply: func(errand *domain.Errand) (events.EventPayload, error) {
			idx := indexOf(len(errand.ExtraParameters), func(i int) bool { return errand.ExtraParameters[i].Key == key })
			if idx < 0 {
				return nil, domain.NotFound(op, "parameter %q not found on errand %d", key, id)
			}
			errand.ExtraParameters = append(errand.ExtraParameters[:idx], errand.ExtraParameters[idx+1:]...)
			return events.EventPayload{"key": key}, nil
		},
		afterSave: func(ctx context.Context, tx *sql.Tx, errand *domain.Errand) error {
			return store.Params.DeleteByKey(ctx, tx, scope, errand.ID, key)
		},
	})
	return err
}

func (e Engine) GetParameters(ctx context.Context, scope domain.Scope, id int64) ([]domain.ExtraParameter, error) {
	params, err := e.store().Params.List(ctx, e.DB, scope, id)
	if err != nil {
		return nil, mapError("parameters.list", err)
	}
	return params, nil
}

// GetParameter returns the values stored under key.
func (e Engine) GetParameter(ctx context.Context, scope domain.Scope, id int64, key string) ([]string, error) {
	values, err := e.store().Params.ReadByKey(ctx, e.DB, scope, id, strings.TrimSpace(key))
	if err != nil {
		return nil, mapError("parameter.get", err)
	}
	return values, nil
}

func parameterKeys(params []domain.ExtraParameter) []string {
	keys := make([]string, len(params))
	for i, p := range params {
		keys[i] = p.Key
	}
	return keys
}
