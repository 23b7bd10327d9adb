package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"casedata/internal/domain"
	"casedata/internal/engine"
)

type ParameterPath struct {
	ErrandPath
	Key string `path:"key"`
}

type parametersBody struct {
	Body []domain.ExtraParameter `json:"body"`
}

func registerParameters(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-parameters",
		Method:      http.MethodGet,
		Path:        errandRoute + "/parameters",
		Summary:     "List parameters",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ErrandPath) (*parametersBody, error) {
		params, err := e.GetParameters(ctx, input.scope(), input.ErrandID)
		if err != nil {
			return nil, handleError(err)
		}
		return &parametersBody{Body: nonNilSlice(params)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-parameters",
		Method:      http.MethodPut,
		Path:        errandRoute + "/parameters",
		Summary:     "Replace parameters",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ErrandPath
		Body []ParameterRequest `json:"body"`
	}) (*parametersBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		params, err := e.ReplaceParameters(ctx, input.scope(), input.ErrandID, mapSlice(input.Body, ParameterRequest.toDomain), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &parametersBody{Body: nonNilSlice(params)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-parameter",
		Method:      http.MethodGet,
		Path:        errandRoute + "/parameters/{key}",
		Summary:     "Get parameter values",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ParameterPath) (*struct {
		Body []string `json:"body"`
	}, error) {
		values, err := e.GetParameter(ctx, input.scope(), input.ErrandID, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: nonNilSlice(values)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-parameter",
		Method:      http.MethodPatch,
		Path:        errandRoute + "/parameters/{key}",
		Summary:     "Replace the values of a parameter",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ParameterPath
		Body ParameterValuesRequest `json:"body"`
	}) (*struct {
		Body domain.ExtraParameter `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		param, err := e.UpdateParameter(ctx, input.scope(), input.ErrandID, input.Key, input.Body.Values, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ExtraParameter `json:"body"`
		}{Body: param}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-parameter",
		Method:        http.MethodDelete,
		Path:          errandRoute + "/parameters/{key}",
		Summary:       "Delete parameter",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *ParameterPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteParameter(ctx, input.scope(), input.ErrandID, input.Key, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
