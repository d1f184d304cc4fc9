package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tasktracker/internal/db"
	"tasktracker/internal/domain"
)

// ErrUsernameTaken is returned when a write collides with the unique
// username index.
var ErrUsernameTaken = errors.New("username already taken")

func usernameErr(username string, err error) error {
	if db.IsUniqueViolation(err, "workers.username") {
		return fmt.Errorf("username %q: %w", username, ErrUsernameTaken)
	}
	return err
}

const workerColumns = `id,username,first_name,last_name,email,password_hash,position_id,team_id,created_at`

// WorkerSearchFields are matched by worker name search.
var WorkerSearchFields = []string{"username", "first_name", "last_name"}

func scanWorker(row rowScanner) (domain.Worker, error) {
	var (
		w        domain.Worker
		position sql.NullInt64
		team     sql.NullInt64
	)
	err := row.Scan(&w.ID, &w.Username, &w.FirstName, &w.LastName, &w.Email, &w.PasswordHash, &position, &team, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	w.PositionID = refFromNull(position)
	w.TeamID = refFromNull(team)
	return w, err
}

func (r Repo) InsertWorker(ctx context.Context, tx *sql.Tx, w domain.Worker) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO workers(username,first_name,last_name,email,password_hash,position_id,team_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		w.Username, w.FirstName, w.LastName, w.Email, w.PasswordHash, nullableRef(w.PositionID), nullableRef(w.TeamID), w.CreatedAt)
	if err != nil {
		return 0, usernameErr(w.Username, err)
	}
	return res.LastInsertId()
}

func (r Repo) GetWorker(ctx context.Context, id int64) (domain.Worker, error) {
	return scanWorker(r.DB.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id))
}

func (r Repo) GetWorkerByUsername(ctx context.Context, username string) (domain.Worker, error) {
	return scanWorker(r.DB.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE username=?`, username))
}

// UsernameTaken reports whether another worker already holds username.
func (r Repo) UsernameTaken(ctx context.Context, tx *sql.Tx, username string, exceptID int64) (bool, error) {
	var one int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM workers WHERE username=? AND id<>?`, username, exceptID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// GetWorkerDetail loads the worker with position, team and assigned tasks.
func (r Repo) GetWorkerDetail(ctx context.Context, id int64) (domain.WorkerDetail, error) {
	w, err := r.GetWorker(ctx, id)
	if err != nil {
		return domain.WorkerDetail{}, err
	}
	d := domain.WorkerDetail{Worker: w}
	if d.Position, err = r.getLabelRef(ctx, Positions, w.PositionID); err != nil {
		return d, err
	}
	if d.Team, err = r.getLabelRef(ctx, Teams, w.TeamID); err != nil {
		return d, err
	}
	if d.Tasks, err = r.TasksByWorker(ctx, id); err != nil {
		return d, err
	}
	return d, nil
}

// WorkerUpdate carries the fields to change. Nil leaves a field untouched;
// a zero reference id clears the reference.
type WorkerUpdate struct {
	Username     *string
	FirstName    *string
	LastName     *string
	Email        *string
	PasswordHash *string
	PositionID   *int64
	TeamID       *int64
}

func (r Repo) UpdateWorker(ctx context.Context, tx *sql.Tx, id int64, u WorkerUpdate) error {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v any) {
		fields = append(fields, col+"=?")
		args = append(args, v)
	}
	if u.Username != nil {
		set("username", *u.Username)
	}
	if u.FirstName != nil {
		set("first_name", *u.FirstName)
	}
	if u.LastName != nil {
		set("last_name", *u.LastName)
	}
	if u.Email != nil {
		set("email", *u.Email)
	}
	if u.PasswordHash != nil {
		set("password_hash", *u.PasswordHash)
	}
	if u.PositionID != nil {
		set("position_id", nullableRef(u.PositionID))
	}
	if u.TeamID != nil {
		set("team_id", nullableRef(u.TeamID))
	}
	if len(fields) == 0 {
		ok, err := r.Exists(ctx, tx, Workers, id)
		if err == nil && !ok {
			return ErrNotFound
		}
		return err
	}
	args = append(args, id)
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE workers SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if u.Username != nil {
		err = usernameErr(*u.Username, err)
	}
	return oneAffected(res, err)
}

func (r Repo) DeleteWorker(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM workers WHERE id=?`, id)
	return oneAffected(res, err)
}

// ListWorkers pages through workers matching the term on any name field.
func (r Repo) ListWorkers(ctx context.Context, lq ListQuery) (Page[domain.Worker], error) {
	where, args := Search{Fields: WorkerSearchFields, Term: lq.Term}.Where()
	return listPage(ctx, r, pageQuery{
		cols: workerColumns, from: "workers", where: where, order: WorkerOrderings.OrderBy(lq.Ordering),
		args: args, page: lq.Page, size: lq.PageSize,
	}, scanWorker)
}

func (r Repo) WorkersByTeam(ctx context.Context, teamID int64) ([]domain.Worker, error) {
	return r.queryWorkers(ctx, `SELECT `+workerColumns+` FROM workers WHERE team_id=? ORDER BY id`, teamID)
}

func (r Repo) WorkersByIDs(ctx context.Context, ids []int64) ([]domain.Worker, error) {
	if len(ids) == 0 {
		return []domain.Worker{}, nil
	}
	return r.queryWorkers(ctx, `SELECT `+workerColumns+` FROM workers WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`, idArgs(ids)...)
}

func (r Repo) queryWorkers(ctx context.Context, query string, args ...any) ([]domain.Worker, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Worker{}
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
