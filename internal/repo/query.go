package repo

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"tasktracker/internal/db"
	"tasktracker/internal/domain"
)

// DefaultPageSize applies when a query does not carry one.
const DefaultPageSize = 5

// Search matches a term as a case-insensitive substring of any of Fields.
type Search struct {
	Fields []string
	Term   string
}

// Clause renders the OR-of-contains predicate. An empty term or field set
// yields an empty clause which matches every row.
func (s Search) Clause() (string, []any) {
	term := strings.TrimSpace(s.Term)
	if term == "" || len(s.Fields) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(s.Fields))
	args := make([]any, 0, len(s.Fields))
	for _, f := range s.Fields {
		parts = append(parts, fmt.Sprintf("instr(%s(%s), %s(?)) > 0", db.FoldFunc, f, db.FoldFunc))
		args = append(args, term)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// Where wraps Clause in a WHERE keyword, or returns "" when unfiltered.
func (s Search) Where() (string, []any) {
	c, args := s.Clause()
	if c == "" {
		return "", nil
	}
	return " WHERE " + c, args
}

// Orderings maps a public ordering key to an ORDER BY expression.
type Orderings map[string]string

// OrderBy resolves key, falling back to insertion order. id is always the
// final tie-break.
func (o Orderings) OrderBy(key string) string {
	if expr, ok := o[strings.ToLower(strings.TrimSpace(key))]; ok {
		return expr + ", id ASC"
	}
	return "id ASC"
}

var (
	LabelOrderings = Orderings{
		"name_asc":  "name ASC",
		"name_desc": "name DESC",
	}
	ProjectOrderings = Orderings{
		"name_asc":      "name ASC",
		"name_desc":     "name DESC",
		"deadline_asc":  "deadline ASC",
		"deadline_desc": "deadline DESC",
	}
	WorkerOrderings = Orderings{
		"username_asc":  "username ASC",
		"username_desc": "username DESC",
	}
)

// Page is one slice of a listing plus the metadata needed to walk it.
type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
	NumPages int `json:"num_pages"`
}

func (p Page[T]) offset() int {
	return (p.Page - 1) * p.PageSize
}

func (p Page[T]) HasNext() bool { return p.Page < p.NumPages }

func (p Page[T]) HasPrevious() bool { return p.Page > 1 }

// ListQuery is the common listing input for non-task entities.
type ListQuery struct {
	Term     string
	Ordering string
	Page     int
	PageSize int
}

// newPage computes page bounds for total rows. Page numbers below 1 become 1,
// numbers past the end clamp to the last page. An empty set has one empty page.
func newPage[T any](total, page, size int) Page[T] {
	if size <= 0 {
		size = DefaultPageSize
	}
	numPages := (total + size - 1) / size
	if numPages < 1 {
		numPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > numPages {
		page = numPages
	}
	return Page[T]{Page: page, PageSize: size, Total: total, NumPages: numPages}
}

// pageQuery is one paged listing: cols selected FROM from, filtered by where
// and sorted by order.
type pageQuery struct {
	cols, from, where, order string
	args                     []any
	page, size               int
}

// listPage counts and fetches one page inside a single read-only transaction
// so total and items describe the same snapshot.
func listPage[T any](ctx context.Context, r Repo, q pageQuery, scan func(rowScanner) (T, error)) (Page[T], error) {
	tx, err := r.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Page[T]{}, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM `+q.from+q.where, q.args...).Scan(&total); err != nil {
		return Page[T]{}, fmt.Errorf("count %s: %w", q.from, err)
	}
	page := newPage[T](total, q.page, q.size)
	args := append(slices.Clone(q.args), page.PageSize, page.offset())
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+q.cols+` FROM `+q.from+q.where+` ORDER BY `+q.order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return page, err
	}
	defer rows.Close()
	page.Items = []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return page, err
	}
	return page, tx.Commit()
}

// TaskQuery selects tasks for the listing pipeline.
type TaskQuery struct {
	// Name filters by case-insensitive substring of the task name.
	Name string
	// AssignedTo restricts to tasks assigned to this worker when > 0.
	AssignedTo int64
	Page       int
	PageSize   int
}

// where builds the AND of the active filters.
func (q TaskQuery) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if c, a := (Search{Fields: []string{"t.name"}, Term: q.Name}).Clause(); c != "" {
		clauses = append(clauses, c)
		args = append(args, a...)
	}
	if q.AssignedTo > 0 {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM task_assignees ma WHERE ma.task_id=t.id AND ma.worker_id=?)")
		args = append(args, q.AssignedTo)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// priorityRankSQL renders domain priority ranks as a CASE over t.priority.
func priorityRankSQL() string {
	var b strings.Builder
	b.WriteString("CASE t.priority")
	for _, p := range domain.Priorities {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", p, p.Rank())
	}
	fmt.Fprintf(&b, " ELSE %d END", domain.Priority("").Rank())
	return b.String()
}

// TaskOrder is the listing order: open tasks first, farthest deadline first,
// most pressing priority first, then insertion order.
var TaskOrder = "t.is_completed ASC, t.deadline DESC, " + priorityRankSQL() + " ASC, t.id ASC"
