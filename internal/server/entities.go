package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"tasktracker/internal/engine"
	"tasktracker/internal/repo"
)

type listInput struct {
	Name     string `query:"name" doc:"Case-insensitive substring search"`
	Ordering string `query:"ordering" doc:"Ordering key, for example name_asc; unknown keys order by id"`
	Page     string `query:"page"`
}

func (in listInput) query() repo.ListQuery {
	return repo.ListQuery{
		Term:     strings.TrimSpace(in.Name),
		Ordering: strings.TrimSpace(in.Ordering),
		Page:     parsePage(in.Page),
	}
}

type labelRoute struct {
	kind     engine.LabelKind
	path     string
	singular string
}

var labelRoutes = []labelRoute{
	{kind: engine.KindTaskType, path: "/task-types", singular: "task type"},
	{kind: engine.KindPosition, path: "/positions", singular: "position"},
	{kind: engine.KindTeam, path: "/teams", singular: "team"},
}

func registerLabels(api huma.API, e engine.Engine) {
	for _, rt := range labelRoutes {
		registerLabelRoute(api, e, rt)
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-team",
		Method:      http.MethodGet,
		Path:        "/teams/{id}",
		Summary:     "Get team with its workers and projects",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body TeamDetailResponse `json:"body"`
	}, error) {
		d, err := e.GetTeamDetail(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamDetailResponse `json:"body"`
		}{Body: teamDetailResponse(d)}, nil
	})
}

func registerLabelRoute(api huma.API, e engine.Engine, rt labelRoute) {
	id := strings.ReplaceAll(string(rt.kind), "_", "-")
	item := rt.path + "/{id}"

	huma.Register(api, huma.Operation{
		OperationID: "list-" + id + "s",
		Method:      http.MethodGet,
		Path:        rt.path,
		Summary:     "List " + rt.singular + "s",
	}, func(ctx context.Context, input *listInput) (*struct {
		Body paginatedLabels `json:"body"`
	}, error) {
		page, err := e.ListLabels(ctx, rt.kind, input.query())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedLabels `json:"body"`
		}{Body: paginatedLabels{Items: mapLabels(page.Items), PageMeta: meta(page)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-" + id,
		Method:        http.MethodPost,
		Path:          rt.path,
		Summary:       "Create " + rt.singular,
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body LabelRequest `json:"body"`
	}) (*struct {
		Body LabelResponse `json:"body"`
	}, error) {
		l, err := e.CreateLabel(ctx, rt.kind, input.Body.Name, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LabelResponse `json:"body"`
		}{Body: labelResponse(l)}, nil
	})

	if rt.kind != engine.KindTeam {
		huma.Register(api, huma.Operation{
			OperationID: "get-" + id,
			Method:      http.MethodGet,
			Path:        item,
			Summary:     "Get " + rt.singular,
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ID int64 `path:"id"`
		}) (*struct {
			Body LabelResponse `json:"body"`
		}, error) {
			l, err := e.GetLabel(ctx, rt.kind, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body LabelResponse `json:"body"`
			}{Body: labelResponse(l)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "update-" + id,
		Method:      http.MethodPatch,
		Path:        item,
		Summary:     "Rename " + rt.singular,
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64        `path:"id"`
		Body LabelRequest `json:"body"`
	}) (*struct {
		Body LabelResponse `json:"body"`
	}, error) {
		l, err := e.UpdateLabel(ctx, rt.kind, input.ID, input.Body.Name, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LabelResponse `json:"body"`
		}{Body: labelResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-" + id,
		Method:        http.MethodDelete,
		Path:          item,
		Summary:       "Delete " + rt.singular,
		Description:   "Records referencing it keep existing with the reference cleared.",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteLabel(ctx, rt.kind, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWorkers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
		Description: "name matches username, first name or last name.",
	}, func(ctx context.Context, input *listInput) (*struct {
		Body paginatedWorkers `json:"body"`
	}, error) {
		page, err := e.ListWorkers(ctx, input.query())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedWorkers `json:"body"`
		}{Body: paginatedWorkers{Items: mapWorkers(page.Items), PageMeta: meta(page)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-worker",
		Method:        http.MethodPost,
		Path:          "/workers",
		Summary:       "Create worker",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateWorkerRequest `json:"body"`
	}) (*struct {
		Body WorkerResponse `json:"body"`
	}, error) {
		w, err := e.CreateWorker(ctx, engine.WorkerCreateOptions{
			Username:        input.Body.Username,
			FirstName:       input.Body.FirstName,
			LastName:        input.Body.LastName,
			Email:           input.Body.Email,
			Password:        input.Body.Password,
			PasswordConfirm: input.Body.PasswordConfirm,
			PositionID:      input.Body.PositionID,
			TeamID:          input.Body.TeamID,
			ActorID:         actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerResponse `json:"body"`
		}{Body: workerResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker",
		Method:      http.MethodGet,
		Path:        "/workers/{id}",
		Summary:     "Get worker with position, team and assigned tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body WorkerDetailResponse `json:"body"`
	}, error) {
		d, err := e.GetWorkerDetail(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerDetailResponse `json:"body"`
		}{Body: workerDetailResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-worker",
		Method:      http.MethodPatch,
		Path:        "/workers/{id}",
		Summary:     "Update worker",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body UpdateWorkerRequest `json:"body"`
	}) (*struct {
		Body WorkerResponse `json:"body"`
	}, error) {
		w, err := e.UpdateWorker(ctx, engine.WorkerUpdateOptions{
			ID:         input.ID,
			Username:   input.Body.Username,
			FirstName:  input.Body.FirstName,
			LastName:   input.Body.LastName,
			Email:      input.Body.Email,
			Password:   input.Body.Password,
			PositionID: input.Body.PositionID,
			TeamID:     input.Body.TeamID,
			ActorID:    actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerResponse `json:"body"`
		}{Body: workerResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-worker",
		Method:        http.MethodDelete,
		Path:          "/workers/{id}",
		Summary:       "Delete worker",
		Description:   "Removes the worker from every task it was assigned to.",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteWorker(ctx, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	registerAPIKeys(api, e)
}

// API keys are managed by their owner only.
func registerAPIKeys(api huma.API, e engine.Engine) {
	forbidden := func() huma.StatusError {
		return newAPIError(http.StatusForbidden, "forbidden", "api keys can only be managed by their owner", nil)
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/workers/{id}/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.WorkerID != input.ID {
			return nil, forbidden()
		}
		key, secret, err := e.CreateAPIKey(ctx, input.ID, input.Body.Name, principal.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{APIKeyResponse: apiKeyResponse(key), Key: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/workers/{id}/api-keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.WorkerID != input.ID {
			return nil, forbidden()
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/workers/{id}/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    int64  `path:"id"`
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.WorkerID != input.ID {
			return nil, forbidden()
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		owned := false
		for _, k := range keys {
			if k.ID == input.KeyID {
				owned = true
				break
			}
		}
		if !owned {
			return nil, newAPIError(http.StatusNotFound, "not_found", "api key not found", map[string]any{"key_id": input.KeyID})
		}
		if err := e.DeleteAPIKey(ctx, input.KeyID, principal.WorkerID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *listInput) (*struct {
		Body paginatedProjects `json:"body"`
	}, error) {
		page, err := e.ListProjects(ctx, input.query())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedProjects `json:"body"`
		}{Body: paginatedProjects{Items: mapProjects(page.Items), PageMeta: meta(page)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Deadline:    input.Body.Deadline,
			TeamIDs:     input.Body.TeamIDs,
			ActorID:     actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project with its teams and tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body ProjectDetailResponse `json:"body"`
	}, error) {
		d, err := e.GetProjectDetail(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectDetailResponse `json:"body"`
		}{Body: projectDetailResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			ID:          input.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Deadline:    input.Body.Deadline,
			TeamIDs:     input.Body.TeamIDs,
			ActorID:     actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{id}",
		Summary:       "Delete project",
		Description:   "Its tasks keep existing with the project cleared.",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteProject(ctx, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
