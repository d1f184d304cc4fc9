package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"

	"tasktracker/internal/domain"
)

const taskColumns = `t.id,t.name,t.description,t.deadline,t.is_completed,t.priority,t.task_type_id,t.project_id,t.created_at,t.updated_at,
COALESCE((SELECT group_concat(a.worker_id) FROM task_assignees a WHERE a.task_id=t.id),'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t         domain.Task
		taskType  sql.NullInt64
		project   sql.NullInt64
		priority  string
		assignees string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Deadline, &t.IsCompleted, &priority,
		&taskType, &project, &t.CreatedAt, &t.UpdatedAt, &assignees)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Priority = domain.Priority(priority)
	t.TaskTypeID = refFromNull(taskType)
	t.ProjectID = refFromNull(project)
	t.AssigneeIDs, err = parseIDList(assignees)
	return t, err
}

// parseIDList decodes a group_concat id list into a sorted slice.
func parseIDList(s string) ([]int64, error) {
	ids := []int64{}
	if s == "" {
		return ids, nil
	}
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse assignee id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(name,description,deadline,is_completed,priority,task_type_id,project_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.Name, t.Description, t.Deadline, t.IsCompleted, string(t.Priority), nullableRef(t.TaskTypeID), nullableRef(t.ProjectID), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := r.SetTaskAssignees(ctx, tx, id, t.AssigneeIDs); err != nil {
		return 0, err
	}
	return id, nil
}

// SetTaskAssignees replaces the task's assignee set.
func (r Repo) SetTaskAssignees(ctx context.Context, tx *sql.Tx, taskID int64, workerIDs []int64) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id=?`, taskID); err != nil {
		return fmt.Errorf("clear assignees: %w", err)
	}
	for _, wid := range workerIDs {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO task_assignees(task_id,worker_id) VALUES (?,?)`, taskID, wid); err != nil {
			return fmt.Errorf("assign worker %d: %w", wid, err)
		}
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return r.getTask(ctx, nil, id)
}

func (r Repo) getTask(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

// GetTaskDetail loads the task with its task type, project and assignees.
func (r Repo) GetTaskDetail(ctx context.Context, id int64) (domain.TaskDetail, error) {
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return domain.TaskDetail{}, err
	}
	d := domain.TaskDetail{Task: t}
	if d.TaskType, err = r.getLabelRef(ctx, TaskTypes, t.TaskTypeID); err != nil {
		return d, err
	}
	if t.ProjectID != nil {
		p, err := r.GetProject(ctx, *t.ProjectID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return d, err
		}
		if err == nil {
			d.Project = &p
		}
	}
	if d.Assignees, err = r.WorkersByIDs(ctx, t.AssigneeIDs); err != nil {
		return d, err
	}
	return d, nil
}

// TaskUpdate carries the fields to change. Nil leaves a field untouched;
// a zero reference id clears the reference.
type TaskUpdate struct {
	Name        *string
	Description *string
	Deadline    *string
	Priority    *domain.Priority
	TaskTypeID  *int64
	ProjectID   *int64
	AssigneeIDs *[]int64
	UpdatedAt   string
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, id int64, u TaskUpdate) error {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, *u.Description)
	}
	if u.Deadline != nil {
		fields = append(fields, "deadline=?")
		args = append(args, *u.Deadline)
	}
	if u.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, string(*u.Priority))
	}
	if u.TaskTypeID != nil {
		fields = append(fields, "task_type_id=?")
		args = append(args, nullableRef(u.TaskTypeID))
	}
	if u.ProjectID != nil {
		fields = append(fields, "project_id=?")
		args = append(args, nullableRef(u.ProjectID))
	}
	fields = append(fields, "updated_at=?")
	args = append(args, u.UpdatedAt)
	args = append(args, id)
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err := oneAffected(res, err); err != nil {
		return err
	}
	if u.AssigneeIDs != nil {
		return r.SetTaskAssignees(ctx, tx, id, *u.AssigneeIDs)
	}
	return nil
}

// SetTaskCompleted writes only the completion flag.
func (r Repo) SetTaskCompleted(ctx context.Context, tx *sql.Tx, id int64, completed bool) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET is_completed=? WHERE id=?`, completed, id)
	return oneAffected(res, err)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	return oneAffected(res, err)
}

// TaskSeq yields every task matching q in listing order, ignoring paging. The
// query runs when the sequence is ranged, so the sequence can be reused.
func (r Repo) TaskSeq(ctx context.Context, q TaskQuery) iter.Seq2[domain.Task, error] {
	return func(yield func(domain.Task, error) bool) {
		where, args := q.where()
		rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks t`+where+` ORDER BY `+TaskOrder, args...)
		if err != nil {
			yield(domain.Task{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTask(rows)
			if !yield(t, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Task{}, err)
		}
	}
}

// ListTasks materializes one page of the task listing.
func (r Repo) ListTasks(ctx context.Context, q TaskQuery) (Page[domain.Task], error) {
	where, args := q.where()
	return listPage(ctx, r, pageQuery{
		cols: taskColumns, from: "tasks t", where: where, order: TaskOrder,
		args: args, page: q.Page, size: q.PageSize,
	}, scanTask)
}

// TasksByProject lists a project's tasks in listing order.
func (r Repo) TasksByProject(ctx context.Context, projectID int64) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.project_id=? ORDER BY `+TaskOrder, projectID)
}

// TasksByWorker lists the tasks assigned to a worker in listing order.
func (r Repo) TasksByWorker(ctx context.Context, workerID int64) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks t JOIN task_assignees w ON w.task_id=t.id WHERE w.worker_id=? ORDER BY `+TaskOrder, workerID)
}

func (r Repo) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
