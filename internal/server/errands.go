package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"casedata/internal/domain"
	"casedata/internal/engine"
)

type ScopePath struct {
	MunicipalityID string `path:"municipalityId" doc:"Municipality id, e.g. 2281"`
	Namespace      string `path:"namespace" doc:"Errand namespace"`
}

func (p ScopePath) scope() domain.Scope {
	return domain.Scope{MunicipalityID: p.MunicipalityID, Namespace: p.Namespace}
}

type ErrandPath struct {
	ScopePath
	ErrandID int64 `path:"errandId"`
}

type errandBody struct {
	Body domain.Errand `json:"body"`
}

const paramQueryPrefix = "param."

func registerErrands(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-errand",
		Method:        http.MethodPost,
		Path:          "/{municipalityId}/{namespace}/errands",
		Summary:       "Create errand and start its process",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ScopePath
		Body CreateErrandRequest `json:"body"`
	}) (*struct {
		Location string        `header:"Location"`
		Body     domain.Errand `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		created, err := e.CreateErrand(ctx, input.scope(), input.Body.toDomain(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		location := ""
		if req := requestFromContext(ctx); req != nil {
			location = fmt.Sprintf("%s/%d", strings.TrimSuffix(req.URL.Path, "/"), created.ID)
		}
		return &struct {
			Location string        `header:"Location"`
			Body     domain.Errand `json:"body"`
		}{Location: location, Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-errands",
		Method:      http.MethodGet,
		Path:        "/{municipalityId}/{namespace}/errands",
		Summary:     "Search errands",
		Description: "filter is a predicate such as caseType:'PARKING_PERMIT' and stakeholders.role:'APPLICANT'. " +
			"Every param.<key>=<value> query parameter must match a value of the errand's parameter <key> exactly. " +
			"sort takes field or field,desc and may repeat.",
		Errors: []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScopePath
		Filter string `query:"filter"`
		Page   int    `query:"page" minimum:"0"`
		Size   int    `query:"size" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body domain.Page `json:"body"`
	}, error) {
		page := domain.PageRequest{Page: input.Page, Size: input.Size}
		params := map[string]string{}
		if req := requestFromContext(ctx); req != nil {
			query := req.URL.Query()
			sorts, err := parseSort(query["sort"])
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			page.Sort = sorts
			for name, values := range query {
				if key, ok := strings.CutPrefix(name, paramQueryPrefix); ok && key != "" && len(values) > 0 {
					params[key] = values[0]
				}
			}
		}
		result, err := e.Search(ctx, input.scope(), input.Filter, params, page)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Page `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-errand",
		Method:      http.MethodGet,
		Path:        "/{municipalityId}/{namespace}/errands/{errandId}",
		Summary:     "Get errand",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ErrandPath) (*errandBody, error) {
		errand, err := e.GetErrand(ctx, input.scope(), input.ErrandID)
		if err != nil {
			return nil, handleError(err)
		}
		return &errandBody{Body: errand}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-errand",
		Method:      http.MethodPatch,
		Path:        "/{municipalityId}/{namespace}/errands/{errandId}",
		Summary:     "Update errand fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ErrandPath
		Body engine.ErrandPatch `json:"body"`
	}) (*errandBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		errand, err := e.UpdateErrand(ctx, input.scope(), input.ErrandID, input.Body, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &errandBody{Body: errand}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-errand",
		Method:        http.MethodDelete,
		Path:          "/{municipalityId}/{namespace}/errands/{errandId}",
		Summary:       "Delete errand",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ErrandPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteErrand(ctx, input.scope(), input.ErrandID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "errand-history",
		Method:      http.MethodGet,
		Path:        "/{municipalityId}/{namespace}/errands/{errandId}/history",
		Summary:     "Errand change history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ErrandPath) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		evts, err := e.History(ctx, input.scope(), input.ErrandID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: nonNilSlice(evts)}, nil
	})
}

// parseSort reads sort values of the form field or field,asc|desc.
func parseSort(values []string) ([]domain.SortOrder, error) {
	var out []domain.SortOrder
	for _, v := range values {
		field, dir, _ := strings.Cut(strings.TrimSpace(v), ",")
		field = strings.TrimSpace(field)
		if field == "" {
			return nil, fmt.Errorf("sort field is required")
		}
		order := domain.SortOrder{Field: field}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
		case "desc":
			order.Desc = true
		default:
			return nil, fmt.Errorf("sort direction %q must be asc or desc", dir)
		}
		out = append(out, order)
	}
	return out, nil
}
