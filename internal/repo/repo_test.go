package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tasktracker/internal/db"
	"tasktracker/internal/domain"
	"tasktracker/internal/migrate"
	"tasktracker/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func addTask(t *testing.T, r repo.Repo, ctx context.Context, name, deadline string, done bool, p domain.Priority, assignees ...int64) int64 {
	t.Helper()
	id, err := r.InsertTask(ctx, nil, domain.Task{
		Name: name, Deadline: deadline, IsCompleted: done, Priority: p,
		AssigneeIDs: assignees, CreatedAt: ts, UpdatedAt: ts,
	})
	if err != nil {
		t.Fatalf("insert task %s: %v", name, err)
	}
	return id
}

func addWorker(t *testing.T, r repo.Repo, ctx context.Context, username string) int64 {
	t.Helper()
	id, err := r.InsertWorker(ctx, nil, domain.Worker{Username: username, CreatedAt: ts})
	if err != nil {
		t.Fatalf("insert worker %s: %v", username, err)
	}
	return id
}

func names(seq []domain.Task) []string {
	out := make([]string, len(seq))
	for i, t := range seq {
		out[i] = t.Name
	}
	return out
}

func collect(t *testing.T, r repo.Repo, ctx context.Context, q repo.TaskQuery) []domain.Task {
	t.Helper()
	var res []domain.Task
	for task, err := range r.TaskSeq(ctx, q) {
		if err != nil {
			t.Fatalf("task seq: %v", err)
		}
		res = append(res, task)
	}
	return res
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func seedSortExample(t *testing.T, r repo.Repo, ctx context.Context) {
	addTask(t, r, ctx, "A", "2024-01-04", false, domain.PriorityUrgent)
	addTask(t, r, ctx, "B", "2024-01-04", false, domain.PriorityLow)
	addTask(t, r, ctx, "C", "2024-01-04", false, domain.PriorityMedium)
	addTask(t, r, ctx, "D", "2024-01-03", false, domain.PriorityUrgent)
	addTask(t, r, ctx, "E", "2024-01-03", false, domain.PriorityHigh)
	addTask(t, r, ctx, "F", "2024-01-06", true, domain.PriorityUrgent)
	addTask(t, r, ctx, "G", "2024-01-05", true, domain.PriorityUrgent)
}

func TestTaskOrder(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedSortExample(t, r, ctx)
	got := names(collect(t, r, ctx, repo.TaskQuery{}))
	want := []string{"A", "C", "B", "D", "E", "F", "G"}
	if !equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestTaskOrderUnknownPriorityRanksAsMedium(t *testing.T) {
	r, ctx := newTestRepo(t)
	addTask(t, r, ctx, "low", "2024-01-04", false, domain.PriorityLow)
	odd := addTask(t, r, ctx, "odd", "2024-01-04", false, domain.PriorityMedium)
	addTask(t, r, ctx, "high", "2024-01-04", false, domain.PriorityHigh)
	if _, err := r.DB.ExecContext(ctx, `UPDATE tasks SET priority='SOMEDAY' WHERE id=?`, odd); err != nil {
		t.Fatal(err)
	}
	got := names(collect(t, r, ctx, repo.TaskQuery{}))
	if want := []string{"high", "odd", "low"}; !equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestTaskSeqIsRestartable(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedSortExample(t, r, ctx)
	seq := r.TaskSeq(ctx, repo.TaskQuery{})
	count := func() int {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatal(err)
			}
			n++
		}
		return n
	}
	if a, b := count(), count(); a != 7 || b != 7 {
		t.Fatalf("expected 7 twice, got %d and %d", a, b)
	}
	for range seq {
		break
	}
}

func TestTaskNameFilter(t *testing.T) {
	r, ctx := newTestRepo(t)
	addTask(t, r, ctx, "Great Task", "2024-01-04", false, domain.PriorityMedium)
	addTask(t, r, ctx, "Build UI", "2024-01-04", false, domain.PriorityMedium)
	addTask(t, r, ctx, "ÉCLAIR tasting", "2024-01-03", false, domain.PriorityMedium)
	addTask(t, r, ctx, "Create API", "2024-01-02", false, domain.PriorityMedium)

	if got := names(collect(t, r, ctx, repo.TaskQuery{Name: "EAT"})); !equal(got, []string{"Great Task", "Create API"}) {
		t.Fatalf("eat filter = %v", got)
	}
	if got := collect(t, r, ctx, repo.TaskQuery{Name: ""}); len(got) != 4 {
		t.Fatalf("empty filter returned %d tasks", len(got))
	}
	if got := names(collect(t, r, ctx, repo.TaskQuery{Name: "éclair"})); !equal(got, []string{"ÉCLAIR tasting"}) {
		t.Fatalf("unicode fold filter = %v", got)
	}
	if got := collect(t, r, ctx, repo.TaskQuery{Name: "%"}); len(got) != 0 {
		t.Fatalf("wildcard should match literally, got %v", names(got))
	}
}

func TestMyTasksFilter(t *testing.T) {
	r, ctx := newTestRepo(t)
	alice := addWorker(t, r, ctx, "alice")
	bob := addWorker(t, r, ctx, "bob")
	addTask(t, r, ctx, "alice only", "2024-01-04", false, domain.PriorityMedium, alice)
	addTask(t, r, ctx, "shared", "2024-01-03", false, domain.PriorityMedium, alice, bob)
	addTask(t, r, ctx, "bob only", "2024-01-02", false, domain.PriorityMedium, bob)
	addTask(t, r, ctx, "nobody", "2024-01-01", false, domain.PriorityMedium)

	mine := collect(t, r, ctx, repo.TaskQuery{AssignedTo: alice})
	if got := names(mine); !equal(got, []string{"alice only", "shared"}) {
		t.Fatalf("alice tasks = %v", got)
	}
	for _, task := range mine {
		if !task.AssignedTo(alice) {
			t.Fatalf("task %s not assigned to alice: %v", task.Name, task.AssigneeIDs)
		}
	}
	if got := collect(t, r, ctx, repo.TaskQuery{}); len(got) != 4 {
		t.Fatalf("without filter expected 4, got %d", len(got))
	}
	combined := names(collect(t, r, ctx, repo.TaskQuery{AssignedTo: bob, Name: "only"}))
	if !equal(combined, []string{"bob only"}) {
		t.Fatalf("combined filter = %v", combined)
	}
}

func TestListTasksPagination(t *testing.T) {
	r, ctx := newTestRepo(t)
	for _, n := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"} {
		addTask(t, r, ctx, n, "2024-01-01", false, domain.PriorityMedium)
	}
	first, err := r.ListTasks(ctx, repo.TaskQuery{Page: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Items) != 5 || first.Total != 7 || first.NumPages != 2 || !first.HasNext() {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second, err := r.ListTasks(ctx, repo.TaskQuery{Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got := names(second.Items); !equal(got, []string{"t6", "t7"}) {
		t.Fatalf("second page = %v", got)
	}
	seen := map[int64]bool{}
	for _, task := range append(first.Items, second.Items...) {
		if seen[task.ID] {
			t.Fatalf("task %d repeated across pages", task.ID)
		}
		seen[task.ID] = true
	}
	clamped, err := r.ListTasks(ctx, repo.TaskQuery{Page: 99})
	if err != nil {
		t.Fatal(err)
	}
	if clamped.Page != 2 {
		t.Fatalf("expected clamp to page 2, got %d", clamped.Page)
	}
	low, err := r.ListTasks(ctx, repo.TaskQuery{Page: -3})
	if err != nil {
		t.Fatal(err)
	}
	if low.Page != 1 || len(low.Items) != 5 {
		t.Fatalf("expected page 1, got %+v", low)
	}
}

func TestListTasksEmpty(t *testing.T) {
	r, ctx := newTestRepo(t)
	page, err := r.ListTasks(ctx, repo.TaskQuery{Page: 3})
	if err != nil {
		t.Fatal(err)
	}
	if page.Page != 1 || page.NumPages != 1 || len(page.Items) != 0 {
		t.Fatalf("unexpected empty page: %+v", page)
	}
}

func TestSetTaskCompletedTouchesOnlyFlag(t *testing.T) {
	r, ctx := newTestRepo(t)
	id := addTask(t, r, ctx, "toggle", "2024-01-04", false, domain.PriorityHigh)
	before, err := r.GetTask(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := r.SetTaskCompleted(ctx, nil, id, true); err != nil {
			t.Fatalf("complete #%d: %v", i, err)
		}
	}
	after, err := r.GetTask(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !after.IsCompleted {
		t.Fatalf("expected completed")
	}
	if after.Name != before.Name || after.Priority != before.Priority || after.Deadline != before.Deadline || after.UpdatedAt != before.UpdatedAt {
		t.Fatalf("other fields changed: %+v vs %+v", after, before)
	}
	if err := r.SetTaskCompleted(ctx, nil, 9999, true); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOptionalReferencesReadBackAbsent(t *testing.T) {
	r, ctx := newTestRepo(t)
	tid := addTask(t, r, ctx, "bare", "2024-01-04", false, domain.PriorityMedium)
	task, err := r.GetTaskDetail(ctx, tid)
	if err != nil {
		t.Fatal(err)
	}
	if task.TaskTypeID != nil || task.ProjectID != nil || task.TaskType != nil || task.Project != nil || len(task.Assignees) != 0 {
		t.Fatalf("expected absent references: %+v", task)
	}
	wid := addWorker(t, r, ctx, "loner")
	w, err := r.GetWorkerDetail(ctx, wid)
	if err != nil {
		t.Fatal(err)
	}
	if w.PositionID != nil || w.TeamID != nil || w.Position != nil || w.Team != nil {
		t.Fatalf("expected absent references: %+v", w)
	}
}

func TestDeletingReferencedRowsClearsReferences(t *testing.T) {
	r, ctx := newTestRepo(t)
	pos, err := r.InsertLabel(ctx, nil, repo.Positions, "Developer")
	if err != nil {
		t.Fatal(err)
	}
	team, err := r.InsertLabel(ctx, nil, repo.Teams, "Core")
	if err != nil {
		t.Fatal(err)
	}
	wid, err := r.InsertWorker(ctx, nil, domain.Worker{Username: "dev", PositionID: &pos, TeamID: &team, CreatedAt: ts})
	if err != nil {
		t.Fatal(err)
	}
	pid, err := r.InsertProject(ctx, nil, domain.Project{Name: "Apollo", Deadline: "2024-02-01", TeamIDs: []int64{team}, CreatedAt: ts})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteLabel(ctx, nil, repo.Positions, pos); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteLabel(ctx, nil, repo.Teams, team); err != nil {
		t.Fatal(err)
	}
	w, err := r.GetWorker(ctx, wid)
	if err != nil {
		t.Fatalf("worker should survive: %v", err)
	}
	if w.PositionID != nil || w.TeamID != nil {
		t.Fatalf("references not cleared: %+v", w)
	}
	p, err := r.GetProject(ctx, pid)
	if err != nil {
		t.Fatalf("project should survive: %v", err)
	}
	if len(p.TeamIDs) != 0 {
		t.Fatalf("team link not removed: %v", p.TeamIDs)
	}
}

func TestDeletingWorkerRemovesAssignments(t *testing.T) {
	r, ctx := newTestRepo(t)
	wid := addWorker(t, r, ctx, "temp")
	tid := addTask(t, r, ctx, "assigned", "2024-01-04", false, domain.PriorityMedium, wid)
	if err := r.DeleteWorker(ctx, nil, wid); err != nil {
		t.Fatal(err)
	}
	task, err := r.GetTask(ctx, tid)
	if err != nil {
		t.Fatal(err)
	}
	if len(task.AssigneeIDs) != 0 {
		t.Fatalf("assignment not removed: %v", task.AssigneeIDs)
	}
}

func TestDeletingTaskRemovesAssignments(t *testing.T) {
	r, ctx := newTestRepo(t)
	alice := addWorker(t, r, ctx, "alice")
	bob := addWorker(t, r, ctx, "bob")
	tid := addTask(t, r, ctx, "shared", "2024-01-04", false, domain.PriorityMedium, alice, bob)
	keep := addTask(t, r, ctx, "kept", "2024-01-04", false, domain.PriorityMedium, alice)

	if err := r.DeleteTask(ctx, nil, tid); err != nil {
		t.Fatal(err)
	}
	var rows int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_assignees WHERE task_id=?`, tid).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 0 {
		t.Fatalf("expected assignments removed, %d left", rows)
	}
	mine, err := r.TasksByWorker(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].ID != keep {
		t.Fatalf("unexpected tasks for alice: %v", names(mine))
	}
	if _, err := r.GetWorker(ctx, bob); err != nil {
		t.Fatalf("assignee should survive task deletion: %v", err)
	}
	if err := r.DeleteTask(ctx, nil, tid); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
}

func TestListTasksTotalMatchesItemsDuringWrites(t *testing.T) {
	r, ctx := newTestRepo(t)
	const inserts = 30
	done := make(chan error, 1)
	go func() {
		for i := 0; i < inserts; i++ {
			_, err := r.InsertTask(ctx, nil, domain.Task{
				Name: fmt.Sprintf("t%d", i), Deadline: "2024-01-04", Priority: domain.PriorityMedium,
				CreatedAt: ts, UpdatedAt: ts,
			})
			if err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < inserts; i++ {
		// Past-the-end pages clamp to the last one, whose size follows from total.
		page, err := r.ListTasks(ctx, repo.TaskQuery{Page: 1 << 20, PageSize: 4})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		want := page.Total - (page.NumPages-1)*page.PageSize
		if len(page.Items) != want {
			t.Fatalf("total %d page %d/%d has %d items, want %d", page.Total, page.Page, page.NumPages, len(page.Items), want)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestUsernameUniqueViolation(t *testing.T) {
	r, ctx := newTestRepo(t)
	addWorker(t, r, ctx, "alice")
	bob := addWorker(t, r, ctx, "bob")

	_, err := r.InsertWorker(ctx, nil, domain.Worker{Username: "alice", CreatedAt: ts})
	if !errors.Is(err, repo.ErrUsernameTaken) {
		t.Fatalf("insert duplicate: expected ErrUsernameTaken, got %v", err)
	}
	taken := "alice"
	if err := r.UpdateWorker(ctx, nil, bob, repo.WorkerUpdate{Username: &taken}); !errors.Is(err, repo.ErrUsernameTaken) {
		t.Fatalf("rename to duplicate: expected ErrUsernameTaken, got %v", err)
	}
	first := "Bob"
	if err := r.UpdateWorker(ctx, nil, bob, repo.WorkerUpdate{FirstName: &first}); err != nil {
		t.Fatalf("unrelated update: %v", err)
	}
}

func TestListWorkersSearchAndOrdering(t *testing.T) {
	r, ctx := newTestRepo(t)
	for _, w := range []domain.Worker{
		{Username: "zed", FirstName: "Anna", CreatedAt: ts},
		{Username: "amy", LastName: "Stone", CreatedAt: ts},
		{Username: "bert", FirstName: "Bert", CreatedAt: ts},
	} {
		if _, err := r.InsertWorker(ctx, nil, w); err != nil {
			t.Fatal(err)
		}
	}
	page, err := r.ListWorkers(ctx, repo.ListQuery{Term: "an", Ordering: "username_asc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].Username != "zed" {
		t.Fatalf("first_name search = %+v", page.Items)
	}
	page, err = r.ListWorkers(ctx, repo.ListQuery{Term: "STONE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].Username != "amy" {
		t.Fatalf("last_name search = %+v", page.Items)
	}
	page, err = r.ListWorkers(ctx, repo.ListQuery{Ordering: "username_desc"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Items[0].Username != "zed" || page.Items[2].Username != "amy" {
		t.Fatalf("username_desc order = %+v", page.Items)
	}
}

func TestListLabelsOrdering(t *testing.T) {
	r, ctx := newTestRepo(t)
	for _, n := range []string{"Bug", "Feature", "Chore"} {
		if _, err := r.InsertLabel(ctx, nil, repo.TaskTypes, n); err != nil {
			t.Fatal(err)
		}
	}
	cases := map[string][]string{
		"":          {"Bug", "Feature", "Chore"},
		"name_asc":  {"Bug", "Chore", "Feature"},
		"name_desc": {"Feature", "Chore", "Bug"},
		"bogus":     {"Bug", "Feature", "Chore"},
	}
	for ordering, want := range cases {
		page, err := r.ListLabels(ctx, repo.TaskTypes, repo.ListQuery{Ordering: ordering})
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, l := range page.Items {
			got = append(got, l.Name)
		}
		if !equal(got, want) {
			t.Fatalf("ordering %q = %v, want %v", ordering, got, want)
		}
	}
	if _, err := r.InsertLabel(ctx, nil, repo.Tasks, "nope"); err == nil {
		t.Fatalf("expected non-label table to be rejected")
	}
}

func TestAPIKeys(t *testing.T) {
	r, ctx := newTestRepo(t)
	wid := addWorker(t, r, ctx, "bot")
	key := domain.APIKey{ID: "k1", WorkerID: wid, Name: "ci", KeyHash: repo.HashAPIKey("secret"), CreatedAt: ts}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" secret "))
	if err != nil || got.WorkerID != wid || got.Name != "ci" {
		t.Fatalf("lookup by hash: %+v %v", got, err)
	}
	keys, err := r.ListAPIKeys(ctx, wid)
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys: %v %v", keys, err)
	}
	if err := r.DeleteWorker(ctx, nil, wid); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, key.KeyHash); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("key should cascade with worker, got %v", err)
	}
	if err := r.DeleteAPIKey(ctx, nil, "k1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
