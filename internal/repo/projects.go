package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tasktracker/internal/domain"
)

const projectColumns = `p.id,p.name,p.description,p.deadline,p.created_at,
COALESCE((SELECT group_concat(pt.team_id) FROM project_teams pt WHERE pt.project_id=p.id),'')`

func scanProject(row rowScanner) (domain.Project, error) {
	var (
		p     domain.Project
		teams string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Deadline, &p.CreatedAt, &teams)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.TeamIDs, err = parseIDList(teams)
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(name,description,deadline,created_at) VALUES (?,?,?,?)`,
		p.Name, p.Description, p.Deadline, p.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := r.SetProjectTeams(ctx, tx, id, p.TeamIDs); err != nil {
		return 0, err
	}
	return id, nil
}

// SetProjectTeams replaces the project's team links.
func (r Repo) SetProjectTeams(ctx context.Context, tx *sql.Tx, projectID int64, teamIDs []int64) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM project_teams WHERE project_id=?`, projectID); err != nil {
		return fmt.Errorf("clear project teams: %w", err)
	}
	for _, tid := range teamIDs {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO project_teams(project_id,team_id) VALUES (?,?)`, projectID, tid); err != nil {
			return fmt.Errorf("link team %d: %w", tid, err)
		}
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id=?`, id))
}

// GetProjectDetail loads the project with its teams and tasks.
func (r Repo) GetProjectDetail(ctx context.Context, id int64) (domain.ProjectDetail, error) {
	p, err := r.GetProject(ctx, id)
	if err != nil {
		return domain.ProjectDetail{}, err
	}
	d := domain.ProjectDetail{Project: p, Teams: []domain.Team{}}
	if len(p.TeamIDs) > 0 {
		rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM teams WHERE id IN (`+placeholders(len(p.TeamIDs))+`) ORDER BY id`, idArgs(p.TeamIDs)...)
		if err != nil {
			return d, err
		}
		defer rows.Close()
		for rows.Next() {
			var t domain.Team
			if err := rows.Scan(&t.ID, &t.Name); err != nil {
				return d, err
			}
			d.Teams = append(d.Teams, t)
		}
		if err := rows.Err(); err != nil {
			return d, err
		}
	}
	if d.Tasks, err = r.TasksByProject(ctx, id); err != nil {
		return d, err
	}
	return d, nil
}

// ProjectUpdate carries the fields to change; nil leaves a field untouched.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Deadline    *string
	TeamIDs     *[]int64
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, id int64, u ProjectUpdate) error {
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
	if len(fields) > 0 {
		args = append(args, id)
		res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
		if err := oneAffected(res, err); err != nil {
			return err
		}
	} else if ok, err := r.Exists(ctx, tx, Projects, id); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	if u.TeamIDs != nil {
		return r.SetProjectTeams(ctx, tx, id, *u.TeamIDs)
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	return oneAffected(res, err)
}

// ListProjects pages through projects matching the term on name.
func (r Repo) ListProjects(ctx context.Context, lq ListQuery) (Page[domain.Project], error) {
	where, args := Search{Fields: []string{"p.name"}, Term: lq.Term}.Where()
	return listPage(ctx, r, pageQuery{
		cols: projectColumns, from: "projects p", where: where, order: ProjectOrderings.OrderBy(lq.Ordering),
		args: args, page: lq.Page, size: lq.PageSize,
	}, scanProject)
}

// ProjectsByTeam lists projects linked to a team.
func (r Repo) ProjectsByTeam(ctx context.Context, teamID int64) ([]domain.Project, error) {
	return r.queryProjects(ctx, `SELECT `+projectColumns+` FROM projects p JOIN project_teams l ON l.project_id=p.id WHERE l.team_id=? ORDER BY p.id`, teamID)
}

func (r Repo) queryProjects(ctx context.Context, query string, args ...any) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// GetTeamDetail loads the team with its workers and projects.
func (r Repo) GetTeamDetail(ctx context.Context, id int64) (domain.TeamDetail, error) {
	t, err := r.GetLabel(ctx, Teams, id)
	if err != nil {
		return domain.TeamDetail{}, err
	}
	d := domain.TeamDetail{Team: t}
	if d.Workers, err = r.WorkersByTeam(ctx, id); err != nil {
		return d, err
	}
	if d.Projects, err = r.ProjectsByTeam(ctx, id); err != nil {
		return d, err
	}
	return d, nil
}
