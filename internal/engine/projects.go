package engine

import (
	"context"
	"fmt"
	"strings"

	"tasktracker/internal/domain"
	"tasktracker/internal/events"
	"tasktracker/internal/repo"
)

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name        string
	Description string
	Deadline    string
	TeamIDs     []int64
	ActorID     int64
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	var ve ValidationError
	p := domain.Project{
		Name:        checkName(&ve, "name", opts.Name),
		Description: strings.TrimSpace(opts.Description),
		Deadline:    checkDate(&ve, "deadline", opts.Deadline),
		TeamIDs:     dedupe(opts.TeamIDs),
		CreatedAt:   e.timestamp(),
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.checkRefs(ctx, tx, &ve, "team_ids", repo.Teams, p.TeamIDs); err != nil {
		return domain.Project{}, err
	}
	if err := ve.Err(); err != nil {
		return domain.Project{}, err
	}
	if p.ID, err = e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.events().Append(ctx, tx, "project.created", "project", p.ID, opts.ActorID, events.EventPayload{"name": p.Name, "deadline": p.Deadline}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ProjectUpdateOptions changes only non-nil fields.
type ProjectUpdateOptions struct {
	ID          int64
	Name        *string
	Description *string
	Deadline    *string
	TeamIDs     *[]int64
	ActorID     int64
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	var (
		ve ValidationError
		u  repo.ProjectUpdate
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
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if opts.TeamIDs != nil {
		ids := dedupe(*opts.TeamIDs)
		if err := e.checkRefs(ctx, tx, &ve, "team_ids", repo.Teams, ids); err != nil {
			return domain.Project{}, err
		}
		u.TeamIDs = &ids
	}
	if err := ve.Err(); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.UpdateProject(ctx, tx, opts.ID, u); err != nil {
		return domain.Project{}, fmt.Errorf("update project %d: %w", opts.ID, err)
	}
	if err := e.events().Append(ctx, tx, "project.updated", "project", opts.ID, opts.ActorID, nil); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, opts.ID)
}

// DeleteProject removes the project; its tasks stay with the project cleared.
func (e Engine) DeleteProject(ctx context.Context, id, actorID int64) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return fmt.Errorf("delete project %d: %w", id, err)
	}
	if err := e.events().Append(ctx, tx, "project.deleted", "project", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetProjectDetail(ctx context.Context, id int64) (domain.ProjectDetail, error) {
	return e.Repo.GetProjectDetail(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context, lq repo.ListQuery) (repo.Page[domain.Project], error) {
	if lq.PageSize <= 0 {
		lq.PageSize = e.pageSize()
	}
	return e.Repo.ListProjects(ctx, lq)
}
