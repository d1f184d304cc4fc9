package engine

import (
	"context"
	"fmt"

	"tasktracker/internal/domain"
	"tasktracker/internal/events"
	"tasktracker/internal/repo"
)

// LabelKind identifies one of the id+name entities.
type LabelKind string

const (
	KindTaskType LabelKind = "task_type"
	KindPosition LabelKind = "position"
	KindTeam     LabelKind = "team"
)

var labelTables = map[LabelKind]repo.Table{
	KindTaskType: repo.TaskTypes,
	KindPosition: repo.Positions,
	KindTeam:     repo.Teams,
}

func (k LabelKind) table() (repo.Table, error) {
	t, ok := labelTables[k]
	if !ok {
		return "", fmt.Errorf("unknown label kind %q", k)
	}
	return t, nil
}

func (e Engine) CreateLabel(ctx context.Context, kind LabelKind, name string, actorID int64) (domain.Label, error) {
	table, err := kind.table()
	if err != nil {
		return domain.Label{}, err
	}
	var ve ValidationError
	name = checkName(&ve, "name", name)
	if err := ve.Err(); err != nil {
		return domain.Label{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Label{}, err
	}
	defer tx.Rollback()

	id, err := e.Repo.InsertLabel(ctx, tx, table, name)
	if err != nil {
		return domain.Label{}, fmt.Errorf("insert %s: %w", kind, err)
	}
	if err := e.events().Append(ctx, tx, string(kind)+".created", string(kind), id, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.Label{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Label{}, err
	}
	return domain.Label{ID: id, Name: name}, nil
}

func (e Engine) GetLabel(ctx context.Context, kind LabelKind, id int64) (domain.Label, error) {
	table, err := kind.table()
	if err != nil {
		return domain.Label{}, err
	}
	return e.Repo.GetLabel(ctx, table, id)
}

func (e Engine) UpdateLabel(ctx context.Context, kind LabelKind, id int64, name string, actorID int64) (domain.Label, error) {
	table, err := kind.table()
	if err != nil {
		return domain.Label{}, err
	}
	var ve ValidationError
	name = checkName(&ve, "name", name)
	if err := ve.Err(); err != nil {
		return domain.Label{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Label{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateLabel(ctx, tx, table, id, name); err != nil {
		return domain.Label{}, fmt.Errorf("update %s %d: %w", kind, id, err)
	}
	if err := e.events().Append(ctx, tx, string(kind)+".updated", string(kind), id, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.Label{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Label{}, err
	}
	return domain.Label{ID: id, Name: name}, nil
}

// DeleteLabel removes the row; referencing workers, projects and tasks keep
// existing with the reference cleared.
func (e Engine) DeleteLabel(ctx context.Context, kind LabelKind, id int64, actorID int64) error {
	table, err := kind.table()
	if err != nil {
		return err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteLabel(ctx, tx, table, id); err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, err)
	}
	if err := e.events().Append(ctx, tx, string(kind)+".deleted", string(kind), id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListLabels(ctx context.Context, kind LabelKind, lq repo.ListQuery) (repo.Page[domain.Label], error) {
	table, err := kind.table()
	if err != nil {
		return repo.Page[domain.Label]{}, err
	}
	if lq.PageSize <= 0 {
		lq.PageSize = e.pageSize()
	}
	return e.Repo.ListLabels(ctx, table, lq)
}

func (e Engine) GetTeamDetail(ctx context.Context, id int64) (domain.TeamDetail, error) {
	return e.Repo.GetTeamDetail(ctx, id)
}
