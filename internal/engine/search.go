package engine

import (
	"context"

	"casedata/internal/domain"
	"casedata/internal/filter"
)

// Search returns one page of the errands in scope that match predicate and carry every parameter
// in params with the given value among its values. Errands matched through several children count
// once. A search without any match, or a page past the last one, is reported as not found.
func (e Engine) Search(ctx context.Context, scope domain.Scope, predicate string, params map[string]string, page domain.PageRequest) (result domain.Page, err error) {
	const op = "errand.search"
	ctx, end := startSpan(ctx, op, scope, 0)
	defer end(&err)
	if err := validateScope(op, scope); err != nil {
		return domain.Page{}, err
	}
	node, err := filter.Parse(predicate)
	if err != nil {
		return domain.Page{}, mapError(op, err)
	}
	compiled, err := filter.Compile(node)
	if err != nil {
		return domain.Page{}, mapError(op, err)
	}
	store := e.store()
	candidates, err := store.FindCandidates(ctx, scope, compiled)
	if err != nil {
		return domain.Page{}, mapError(op, err)
	}
	ids := dedupIDs(candidates)
	if len(params) > 0 && len(ids) > 0 {
		byErrand, err := store.Params.ForErrands(ctx, e.DB, ids)
		if err != nil {
			return domain.Page{}, mapError(op, err)
		}
		kept := ids[:0]
		for _, id := range ids {
			if matchesParameters(byErrand[id], params) {
				kept = append(kept, id)
			}
		}
		ids = kept
	}
	if len(ids) == 0 {
		return domain.Page{}, domain.NotFound(op, "no errands match the given filter")
	}
	result, err = store.FindPageByIDs(ctx, scope, ids, page)
	if err != nil {
		return domain.Page{}, mapError(op, err)
	}
	if len(result.Items) == 0 {
		return domain.Page{}, domain.NotFound(op, "page %d is past the last page %d", result.Page, result.TotalPages-1)
	}
	e.log().Debug("engine: search", "namespace", scope.Namespace, "matches", len(ids), "page", result.Page)
	return result, nil
}

// dedupIDs keeps the first occurrence of every id.
func dedupIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// matchesParameters requires every wanted key to be present with the wanted value among its values.
func matchesParameters(have []domain.ExtraParameter, want map[string]string) bool {
	for key, value := range want {
		found := false
		for _, p := range have {
			if p.Key == key && p.HasValue(value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
