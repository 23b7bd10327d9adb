package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"casedata/internal/domain"
	"casedata/internal/engine"
)

const errandRoute = "/{municipalityId}/{namespace}/errands/{errandId}"

type ChildPath struct {
	ErrandPath
	ChildID int64 `path:"childId"`
}

func registerStatuses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-status",
		Method:        http.MethodPost,
		Path:          errandRoute + "/statuses",
		Summary:       "Add status",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ErrandPath
		Body StatusRequest `json:"body"`
	}) (*struct {
		Body domain.Status `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status, err := e.AddStatus(ctx, input.scope(), input.ErrandID, input.Body.toDomain(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Status `json:"body"`
		}{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-statuses",
		Method:      http.MethodPut,
		Path:        errandRoute + "/statuses",
		Summary:     "Replace statuses",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ErrandPath
		Body []StatusRequest `json:"body"`
	}) (*errandBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		errand, err := e.ReplaceStatuses(ctx, input.scope(), input.ErrandID, mapSlice(input.Body, StatusRequest.toDomain), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &errandBody{Body: errand}, nil
	})
}

func registerStakeholders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-stakeholder",
		Method:        http.MethodPost,
		Path:          errandRoute + "/stakeholders",
		Summary:       "Add stakeholder",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ErrandPath
		Body StakeholderRequest `json:"body"`
	}) (*struct {
		Body domain.Stakeholder `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddStakeholder(ctx, input.scope(), input.ErrandID, input.Body.toDomain(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stakeholder `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-stakeholders",
		Method:      http.MethodPut,
		Path:        errandRoute + "/stakeholders",
		Summary:     "Replace stakeholders",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ErrandPath
		Body []StakeholderRequest `json:"body"`
	}) (*errandBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		errand, err := e.ReplaceStakeholders(ctx, input.scope(), input.ErrandID, mapSlice(input.Body, StakeholderRequest.toDomain), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &errandBody{Body: errand}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-stakeholder",
		Method:        http.MethodDelete,
		Path:          errandRoute + "/stakeholders/{childId}",
		Summary:       "Delete stakeholder",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *ChildPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteStakeholderOnErrand(ctx, input.scope(), input.ErrandID, input.ChildID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerNotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-note",
		Method:        http.MethodPost,
		Path:          errandRoute + "/notes",
		Summary:       "Add note",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ErrandPath
		Body NoteRequest `json:"body"`
	}) (*struct {
		Body domain.Note `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		note, err := e.AddNote(ctx, input.scope(), input.ErrandID, input.Body.toDomain(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Note `json:"body"`
		}{Body: note}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-note",
		Method:      http.MethodPatch,
		Path:        errandRoute + "/notes/{childId}",
		Summary:     "Update note",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ChildPath
		Body engine.NotePatch `json:"body"`
	}) (*struct {
		Body domain.Note `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		note, err := e.UpdateNoteOnErrand(ctx, input.scope(), input.ErrandID, input.ChildID, input.Body, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Note `json:"body"`
		}{Body: note}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-note",
		Method:        http.MethodDelete,
		Path:          errandRoute + "/notes/{childId}",
		Summary:       "Delete note",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *ChildPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteNoteOnErrand(ctx, input.scope(), input.ErrandID, input.ChildID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-decision",
		Method:        http.MethodPost,
		Path:          errandRoute + "/decisions",
		Summary:       "Add decision",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ErrandPath
		Body DecisionRequest `json:"body"`
	}) (*struct {
		Body domain.Decision `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AddDecision(ctx, input.scope(), input.ErrandID, input.Body.toDomain(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Decision `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-decision",
		Method:        http.MethodDelete,
		Path:          errandRoute + "/decisions/{childId}",
		Summary:       "Delete decision",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *ChildPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDecisionOnErrand(ctx, input.scope(), input.ErrandID, input.ChildID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerFacilities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-facility",
		Method:        http.MethodPost,
		Path:          errandRoute + "/facilities",
		Summary:       "Add facility",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ErrandPath
		Body FacilityRequest `json:"body"`
	}) (*struct {
		Body domain.Facility `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.AddFacility(ctx, input.scope(), input.ErrandID, input.Body.toDomain(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Facility `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-facilities",
		Method:      http.MethodPut,
		Path:        errandRoute + "/facilities",
		Summary:     "Replace facilities",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ErrandPath
		Body []FacilityRequest `json:"body"`
	}) (*errandBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		errand, err := e.ReplaceFacilities(ctx, input.scope(), input.ErrandID, mapSlice(input.Body, FacilityRequest.toDomain), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &errandBody{Body: errand}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-facility",
		Method:      http.MethodPatch,
		Path:        errandRoute + "/facilities/{childId}",
		Summary:     "Update facility",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChildPath
		Body engine.FacilityPatch `json:"body"`
	}) (*struct {
		Body domain.Facility `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.UpdateFacilityOnErrand(ctx, input.scope(), input.ErrandID, input.ChildID, input.Body, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Facility `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-facility",
		Method:        http.MethodDelete,
		Path:          errandRoute + "/facilities/{childId}",
		Summary:       "Delete facility",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *ChildPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteFacilityOnErrand(ctx, input.scope(), input.ErrandID, input.ChildID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
