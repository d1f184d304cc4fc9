package domain

// Label is the shared shape of task types, positions and teams.
type Label struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type TaskType = Label

type Position = Label

type Team = Label

type TeamDetail struct {
	Team
	Workers  []Worker  `json:"workers"`
	Projects []Project `json:"projects"`
}

type Worker struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	PositionID   *int64 `json:"position_id,omitempty"`
	TeamID       *int64 `json:"team_id,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type WorkerDetail struct {
	Worker
	Position *Position `json:"position,omitempty"`
	Team     *Team     `json:"team,omitempty"`
	Tasks    []Task    `json:"tasks"`
}

type Project struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Deadline    string  `json:"deadline" format:"date"`
	TeamIDs     []int64 `json:"team_ids"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type ProjectDetail struct {
	Project
	Teams []Team `json:"teams"`
	Tasks []Task `json:"tasks"`
}

type Task struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Deadline    string   `json:"deadline" format:"date"`
	IsCompleted bool     `json:"is_completed"`
	Priority    Priority `json:"priority" enum:"URGENT,HIGH,MEDIUM,LOW"`
	TaskTypeID  *int64   `json:"task_type_id,omitempty"`
	ProjectID   *int64   `json:"project_id,omitempty"`
	AssigneeIDs []int64  `json:"assignee_ids"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type TaskDetail struct {
	Task
	TaskType  *TaskType `json:"task_type,omitempty"`
	Project   *Project  `json:"project,omitempty"`
	Assignees []Worker  `json:"assignees"`
}

// AssignedTo reports whether the worker is in the task's assignee set.
func (t Task) AssignedTo(workerID int64) bool {
	for _, id := range t.AssigneeIDs {
		if id == workerID {
			return true
		}
	}
	return false
}

type APIKey struct {
	ID        string `json:"id"`
	WorkerID  int64  `json:"worker_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id,omitempty"`
	ActorID    int64  `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json"`
}
