package server

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"tasktracker/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

// redirectOutput answers a form-style mutation with 303 See Other.
type redirectOutput struct {
	Status   int
	Location string `header:"Location"`
}

// myTasksActive treats anything that does not parse as true as absent.
func myTasksActive(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}

// parsePage returns 1 for missing or unparseable page numbers.
func parsePage(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// taskListingURL is where completion toggles send the client back to,
// keeping the active filters.
func taskListingURL(basePath string, myTasks bool, name string) string {
	q := url.Values{}
	if myTasks {
		q.Set("my_tasks", "True")
	}
	if name = strings.TrimSpace(name); name != "" {
		q.Set("name", name)
	}
	u := path.Join(basePath, "tasks")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

type taskListInput struct {
	Name    string `query:"name" doc:"Case-insensitive substring of the task name"`
	MyTasks string `query:"my_tasks" doc:"True limits the listing to tasks assigned to the caller"`
	Page    string `query:"page" doc:"1-based page number; out of range values are clamped"`
}

type taskToggleInput struct {
	ID      int64  `path:"id"`
	MyTasks string `query:"my_tasks"`
	Name    string `query:"name"`
}

func registerTasks(api huma.API, e engine.Engine, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Description: "Incomplete first, then latest deadline, then priority, then id.",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *taskListInput) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		mine := myTasksActive(input.MyTasks)
		name := strings.TrimSpace(input.Name)
		page, err := e.ListTasks(ctx, engine.TaskListOptions{
			Name:     name,
			MyTasks:  mine,
			WorkerID: actorID(ctx),
			Page:     parsePage(input.Page),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: paginatedTasks{
			Items:    mapTasks(page.Items),
			Name:     name,
			MyTasks:  mine,
			PageMeta: meta(page),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Deadline:    input.Body.Deadline,
			Priority:    input.Body.Priority,
			TaskTypeID:  input.Body.TaskTypeID,
			ProjectID:   input.Body.ProjectID,
			AssigneeIDs: input.Body.AssigneeIDs,
			ActorID:     actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task with its type, project and assignees",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body TaskDetailResponse `json:"body"`
	}, error) {
		d, err := e.GetTaskDetail(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskDetailResponse `json:"body"`
		}{Body: taskDetailResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task fields",
		Description: "Completion is changed only through the complete and not-complete endpoints.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:          input.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Deadline:    input.Body.Deadline,
			Priority:    input.Body.Priority,
			TaskTypeID:  input.Body.TaskTypeID,
			ProjectID:   input.Body.ProjectID,
			AssigneeIDs: input.Body.AssigneeIDs,
			ActorID:     actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	registerToggle := func(op, p, summary string, completed bool) {
		huma.Register(api, huma.Operation{
			OperationID:   op,
			Method:        http.MethodPost,
			Path:          p,
			Summary:       summary,
			Description:   "Redirects to the task listing, keeping my_tasks and name.",
			DefaultStatus: http.StatusSeeOther,
			Errors:        []int{http.StatusNotFound, http.StatusInternalServerError},
		}, func(ctx context.Context, input *taskToggleInput) (*redirectOutput, error) {
			if err := e.SetTaskCompleted(ctx, input.ID, completed, actorID(ctx)); err != nil {
				return nil, handleError(err)
			}
			return &redirectOutput{
				Status:   http.StatusSeeOther,
				Location: taskListingURL(basePath, myTasksActive(input.MyTasks), input.Name),
			}, nil
		})
	}
	registerToggle("complete-task", "/tasks/{id}/complete", "Mark task complete", true)
	registerToggle("reopen-task", "/tasks/{id}/not-complete", "Mark task not complete", false)
}
