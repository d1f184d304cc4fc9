package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tasktracker/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// Table names a store table that can be addressed by id.
type Table string

const (
	TaskTypes Table = "task_types"
	Positions Table = "positions"
	Teams     Table = "teams"
	Workers   Table = "workers"
	Projects  Table = "projects"
	Tasks     Table = "tasks"
)

// LabelTables are the tables sharing the id+name shape.
var LabelTables = []Table{TaskTypes, Positions, Teams}

func (t Table) isLabel() bool {
	for _, l := range LabelTables {
		if l == t {
			return true
		}
	}
	return false
}

// Exists reports whether a row with id is present in table.
func (r Repo) Exists(ctx context.Context, tx *sql.Tx, table Table, id int64) (bool, error) {
	var one int
	err := r.q(tx).QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id=?`, table), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertLabel(ctx context.Context, tx *sql.Tx, table Table, name string) (int64, error) {
	if !table.isLabel() {
		return 0, fmt.Errorf("%s is not a label table", table)
	}
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(name) VALUES (?)`, table), name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetLabel(ctx context.Context, table Table, id int64) (domain.Label, error) {
	if !table.isLabel() {
		return domain.Label{}, fmt.Errorf("%s is not a label table", table)
	}
	var l domain.Label
	err := r.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT id,name FROM %s WHERE id=?`, table), id).Scan(&l.ID, &l.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	return l, err
}

// getLabelRef loads an optional reference, nil when the id is unset.
func (r Repo) getLabelRef(ctx context.Context, table Table, id *int64) (*domain.Label, error) {
	if id == nil {
		return nil, nil
	}
	l, err := r.GetLabel(ctx, table, *id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r Repo) UpdateLabel(ctx context.Context, tx *sql.Tx, table Table, id int64, name string) error {
	if !table.isLabel() {
		return fmt.Errorf("%s is not a label table", table)
	}
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET name=? WHERE id=?`, table), name, id)
	return oneAffected(res, err)
}

func (r Repo) DeleteLabel(ctx context.Context, tx *sql.Tx, table Table, id int64) error {
	if !table.isLabel() {
		return fmt.Errorf("%s is not a label table", table)
	}
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=?`, table), id)
	return oneAffected(res, err)
}

// ListLabels pages through a label table filtered by name.
func (r Repo) ListLabels(ctx context.Context, table Table, lq ListQuery) (Page[domain.Label], error) {
	if !table.isLabel() {
		return Page[domain.Label]{}, fmt.Errorf("%s is not a label table", table)
	}
	where, args := Search{Fields: []string{"name"}, Term: lq.Term}.Where()
	return listPage(ctx, r, pageQuery{
		cols: "id,name", from: string(table), where: where, order: LabelOrderings.OrderBy(lq.Ordering),
		args: args, page: lq.Page, size: lq.PageSize,
	}, scanLabel)
}

func scanLabel(row rowScanner) (domain.Label, error) {
	var l domain.Label
	err := row.Scan(&l.ID, &l.Name)
	return l, err
}

func oneAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// nullableRef maps an unset or zero id to NULL.
func nullableRef(id *int64) any {
	if id == nil || *id == 0 {
		return nil
	}
	return *id
}

func refFromNull(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
