package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tasktracker/internal/domain"
	"tasktracker/internal/events"
	"tasktracker/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Name        string
	Description string
	Deadline    string
	// Priority is parsed case-insensitively; empty means MEDIUM.
	Priority    string
	TaskTypeID  *int64
	ProjectID   *int64
	AssigneeIDs []int64
	ActorID     int64
}

func checkPriority(ve *ValidationError, field, v string) domain.Priority {
	p, ok := domain.ParsePriority(v)
	if !ok {
		ve.Add(field, fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", strings.TrimSpace(v)))
	}
	return p
}

// CreateTask validates and stores a task. Tasks always start incomplete.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	var ve ValidationError
	now := e.timestamp()
	t := domain.Task{
		Name:        checkName(&ve, "name", opts.Name),
		Description: strings.TrimSpace(opts.Description),
		Deadline:    checkDate(&ve, "deadline", opts.Deadline),
		Priority:    checkPriority(&ve, "priority", opts.Priority),
		TaskTypeID:  normalizeRef(opts.TaskTypeID),
		ProjectID:   normalizeRef(opts.ProjectID),
		AssigneeIDs: dedupe(opts.AssigneeIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.checkTaskRefs(ctx, tx, &ve, t.TaskTypeID, t.ProjectID, t.AssigneeIDs); err != nil {
		return domain.Task{}, err
	}
	if err := ve.Err(); err != nil {
		return domain.Task{}, err
	}
	if t.ID, err = e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.events().Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"name":     t.Name,
		"priority": t.Priority,
		"deadline": t.Deadline,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) checkTaskRefs(ctx context.Context, tx *sql.Tx, ve *ValidationError, taskType, project *int64, assignees []int64) error {
	if err := e.checkRef(ctx, tx, ve, "task_type_id", repo.TaskTypes, taskType); err != nil {
		return err
	}
	if err := e.checkRef(ctx, tx, ve, "project_id", repo.Projects, project); err != nil {
		return err
	}
	return e.checkRefs(ctx, tx, ve, "assignee_ids", repo.Workers, assignees)
}

// TaskUpdateOptions changes only non-nil fields. A zero reference id clears
// the reference. Completion is not editable here; see SetTaskCompleted.
type TaskUpdateOptions struct {
	ID          int64
	Name        *string
	Description *string
	Deadline    *string
	Priority    *string
	TaskTypeID  *int64
	ProjectID   *int64
	AssigneeIDs *[]int64
	ActorID     int64
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	var (
		ve ValidationError
		u  = repo.TaskUpdate{UpdatedAt: e.timestamp()}
	)
	if opts.Name != nil {
		v := checkName(&ve, "name", *opts.Name)
		u.Name = &v
	}
	if opts.Description != nil {
		v := strings.TrimSpace(*opts.Description)
		u.Description = &v
	}
	if opts.Deadline != nil {
		v := checkDate(&ve, "deadline", *opts.Deadline)
		u.Deadline = &v
	}
	if opts.Priority != nil {
		v := checkPriority(&ve, "priority", *opts.Priority)
		u.Priority = &v
	}
	u.TaskTypeID = opts.TaskTypeID
	u.ProjectID = opts.ProjectID
	var assignees []int64
	if opts.AssigneeIDs != nil {
		assignees = dedupe(*opts.AssigneeIDs)
		u.AssigneeIDs = &assignees
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	before, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %d: %w", opts.ID, err)
	}
	if err := e.checkTaskRefs(ctx, tx, &ve, opts.TaskTypeID, opts.ProjectID, assignees); err != nil {
		return domain.Task{}, err
	}
	if err := ve.Err(); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.UpdateTask(ctx, tx, opts.ID, u); err != nil {
		return domain.Task{}, fmt.Errorf("update task %d: %w", opts.ID, err)
	}
	payload := events.EventPayload{}
	if u.Priority != nil && *u.Priority != before.Priority {
		payload["priority"] = map[string]any{"from": before.Priority, "to": *u.Priority}
	}
	if u.Deadline != nil && *u.Deadline != before.Deadline {
		payload["deadline"] = map[string]any{"from": before.Deadline, "to": *u.Deadline}
	}
	if err := e.events().Append(ctx, tx, "task.updated", "task", opts.ID, opts.ActorID, payload); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, opts.ID)
}

// SetTaskCompleted writes the completion flag and nothing else. Repeating
// the same value succeeds without changing state.
func (e Engine) SetTaskCompleted(ctx context.Context, id int64, completed bool, actorID int64) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetTaskCompleted(ctx, tx, id, completed); err != nil {
		return fmt.Errorf("task %d: %w", id, err)
	}
	evt := "task.reopened"
	if completed {
		evt = "task.completed"
	}
	if err := e.events().Append(ctx, tx, evt, "task", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID int64) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if err := e.events().Append(ctx, tx, "task.deleted", "task", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetTaskDetail(ctx context.Context, id int64) (domain.TaskDetail, error) {
	return e.Repo.GetTaskDetail(ctx, id)
}

// TaskListOptions is the listing input as received from a caller; the
// requester is only consulted when MyTasks is set.
type TaskListOptions struct {
	Name     string
	MyTasks  bool
	WorkerID int64
	Page     int
}

func (o TaskListOptions) query(pageSize int) repo.TaskQuery {
	q := repo.TaskQuery{Name: o.Name, Page: o.Page, PageSize: pageSize}
	if o.MyTasks && o.WorkerID > 0 {
		q.AssignedTo = o.WorkerID
	}
	return q
}

// ListTasks returns one page of the sorted, filtered task listing.
func (e Engine) ListTasks(ctx context.Context, opts TaskListOptions) (repo.Page[domain.Task], error) {
	return e.Repo.ListTasks(ctx, opts.query(e.pageSize()))
}

// AllTasks returns every matching task in listing order, ignoring paging.
func (e Engine) AllTasks(ctx context.Context, opts TaskListOptions) ([]domain.Task, error) {
	res := []domain.Task{}
	for t, err := range e.Repo.TaskSeq(ctx, opts.query(0)) {
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}
