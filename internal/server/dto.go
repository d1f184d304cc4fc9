package server

import (
	"tasktracker/internal/domain"
	"tasktracker/internal/repo"
)

// Request payloads. Fields are optional at the schema level so that missing
// values surface as field-level validation messages.

type LabelRequest struct {
	Name string `json:"name,omitempty" maxLength:"255"`
}

type CreateWorkerRequest struct {
	Username        string `json:"username,omitempty"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	Email           string `json:"email,omitempty"`
	Password        string `json:"password,omitempty"`
	PasswordConfirm string `json:"password_confirm,omitempty"`
	PositionID      *int64 `json:"position_id,omitempty"`
	TeamID          *int64 `json:"team_id,omitempty"`
}

type UpdateWorkerRequest struct {
	Username   *string `json:"username,omitempty"`
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Password   *string `json:"password,omitempty"`
	PositionID *int64  `json:"position_id,omitempty" doc:"0 clears the position"`
	TeamID     *int64  `json:"team_id,omitempty" doc:"0 clears the team"`
}

type CreateProjectRequest struct {
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	Deadline    string  `json:"deadline,omitempty" example:"2024-06-30"`
	TeamIDs     []int64 `json:"team_ids,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Deadline    *string  `json:"deadline,omitempty"`
	TeamIDs     *[]int64 `json:"team_ids,omitempty"`
}

type CreateTaskRequest struct {
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	Deadline    string  `json:"deadline,omitempty" example:"2024-06-30"`
	Priority    string  `json:"priority,omitempty" example:"URGENT" doc:"URGENT, HIGH, MEDIUM or LOW in any case; defaults to MEDIUM"`
	TaskTypeID  *int64  `json:"task_type_id,omitempty"`
	ProjectID   *int64  `json:"project_id,omitempty"`
	AssigneeIDs []int64 `json:"assignee_ids,omitempty"`
}

type UpdateTaskRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Deadline    *string  `json:"deadline,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	TaskTypeID  *int64   `json:"task_type_id,omitempty" doc:"0 clears the task type"`
	ProjectID   *int64   `json:"project_id,omitempty" doc:"0 clears the project"`
	AssigneeIDs *[]int64 `json:"assignee_ids,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Next     string `json:"next,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type LabelResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type TeamDetailResponse struct {
	LabelResponse
	Workers  []WorkerResponse  `json:"workers"`
	Projects []ProjectResponse `json:"projects"`
}

type WorkerResponse struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	PositionID *int64 `json:"position_id,omitempty"`
	TeamID     *int64 `json:"team_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type WorkerDetailResponse struct {
	WorkerResponse
	Position *LabelResponse `json:"position,omitempty"`
	Team     *LabelResponse `json:"team,omitempty"`
	Tasks    []TaskResponse `json:"tasks"`
}

type ProjectResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Deadline    string  `json:"deadline"`
	TeamIDs     []int64 `json:"team_ids"`
	CreatedAt   string  `json:"created_at"`
}

type ProjectDetailResponse struct {
	ProjectResponse
	Teams []LabelResponse `json:"teams"`
	Tasks []TaskResponse  `json:"tasks"`
}

type TaskResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Deadline    string  `json:"deadline"`
	IsCompleted bool    `json:"is_completed"`
	Priority    string  `json:"priority" enum:"URGENT,HIGH,MEDIUM,LOW"`
	TaskTypeID  *int64  `json:"task_type_id,omitempty"`
	ProjectID   *int64  `json:"project_id,omitempty"`
	AssigneeIDs []int64 `json:"assignee_ids"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type TaskDetailResponse struct {
	TaskResponse
	TaskType  *LabelResponse   `json:"task_type,omitempty"`
	Project   *ProjectResponse `json:"project,omitempty"`
	Assignees []WorkerResponse `json:"assignees"`
}

type PageMeta struct {
	Page        int  `json:"page"`
	PageSize    int  `json:"page_size"`
	Total       int  `json:"total"`
	NumPages    int  `json:"num_pages"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

type paginatedLabels struct {
	Items []LabelResponse `json:"items"`
	PageMeta
}

type paginatedWorkers struct {
	Items []WorkerResponse `json:"items"`
	PageMeta
}

type paginatedProjects struct {
	Items []ProjectResponse `json:"items"`
	PageMeta
}

type paginatedTasks struct {
	Items   []TaskResponse `json:"items"`
	Name    string         `json:"name,omitempty"`
	MyTasks bool           `json:"my_tasks"`
	PageMeta
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id,omitempty"`
	ActorID    int64  `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt string         `json:"expires_at"`
	Next      string         `json:"next"`
	Worker    WorkerResponse `json:"worker"`
}

type LoginFormResponse struct {
	Action string   `json:"action"`
	Method string   `json:"method"`
	Fields []string `json:"fields"`
	Next   string   `json:"next"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	WorkerID  int64  `json:"worker_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key" doc:"Shown once; only its hash is stored"`
}

// Mappers

func meta[T any](p repo.Page[T]) PageMeta {
	return PageMeta{
		Page:        p.Page,
		PageSize:    p.PageSize,
		Total:       p.Total,
		NumPages:    p.NumPages,
		HasNext:     p.HasNext(),
		HasPrevious: p.HasPrevious(),
	}
}

func labelResponse(l domain.Label) LabelResponse {
	return LabelResponse{ID: l.ID, Name: l.Name}
}

func labelRefResponse(l *domain.Label) *LabelResponse {
	if l == nil {
		return nil
	}
	r := labelResponse(*l)
	return &r
}

func mapLabels(items []domain.Label) []LabelResponse {
	out := make([]LabelResponse, 0, len(items))
	for _, l := range items {
		out = append(out, labelResponse(l))
	}
	return out
}

func workerResponse(w domain.Worker) WorkerResponse {
	return WorkerResponse{
		ID:         w.ID,
		Username:   w.Username,
		FirstName:  w.FirstName,
		LastName:   w.LastName,
		Email:      w.Email,
		PositionID: w.PositionID,
		TeamID:     w.TeamID,
		CreatedAt:  w.CreatedAt,
	}
}

func mapWorkers(items []domain.Worker) []WorkerResponse {
	out := make([]WorkerResponse, 0, len(items))
	for _, w := range items {
		out = append(out, workerResponse(w))
	}
	return out
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Deadline:    p.Deadline,
		TeamIDs:     nonNilIDs(p.TeamIDs),
		CreatedAt:   p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Deadline:    t.Deadline,
		IsCompleted: t.IsCompleted,
		Priority:    string(t.Priority),
		TaskTypeID:  t.TaskTypeID,
		ProjectID:   t.ProjectID,
		AssigneeIDs: nonNilIDs(t.AssigneeIDs),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func taskDetailResponse(d domain.TaskDetail) TaskDetailResponse {
	resp := TaskDetailResponse{
		TaskResponse: taskResponse(d.Task),
		TaskType:     labelRefResponse(d.TaskType),
		Assignees:    mapWorkers(d.Assignees),
	}
	if d.Project != nil {
		p := projectResponse(*d.Project)
		resp.Project = &p
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, WorkerID: k.WorkerID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func nonNilIDs(in []int64) []int64 {
	if in == nil {
		return []int64{}
	}
	return in
}

func teamDetailResponse(d domain.TeamDetail) TeamDetailResponse {
	return TeamDetailResponse{
		LabelResponse: labelResponse(d.Team),
		Workers:       mapWorkers(d.Workers),
		Projects:      mapProjects(d.Projects),
	}
}

func workerDetailResponse(d domain.WorkerDetail) WorkerDetailResponse {
	return WorkerDetailResponse{
		WorkerResponse: workerResponse(d.Worker),
		Position:       labelRefResponse(d.Position),
		Team:           labelRefResponse(d.Team),
		Tasks:          mapTasks(d.Tasks),
	}
}

func projectDetailResponse(d domain.ProjectDetail) ProjectDetailResponse {
	return ProjectDetailResponse{
		ProjectResponse: projectResponse(d.Project),
		Teams:           mapLabels(d.Teams),
		Tasks:           mapTasks(d.Tasks),
	}
}
