package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tasktracker/internal/config"
	"tasktracker/internal/db"
	"tasktracker/internal/domain"
	"tasktracker/internal/engine"
	"tasktracker/internal/engine/auth"
	"tasktracker/internal/events"
	"tasktracker/internal/migrate"
	"tasktracker/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Hasher = auth.NewPasswordHasher(bcrypt.MinCost)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) worker(t *testing.T, username string) domain.Worker {
	t.Helper()
	w, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{
		Username: username, Password: "password123", PasswordConfirm: "password123",
	})
	if err != nil {
		t.Fatalf("create worker %s: %v", username, err)
	}
	return w
}

func fieldErrors(t *testing.T, err error) map[string][]string {
	t.Helper()
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	return ve.Fields
}

func countRows(t *testing.T, env testEnv, table string) int {
	t.Helper()
	var n int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "Write docs", Deadline: "2024-03-01"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Priority != domain.PriorityMedium || task.IsCompleted {
		t.Fatalf("unexpected defaults: %+v", task)
	}
	if task.TaskTypeID != nil || task.ProjectID != nil || len(task.AssigneeIDs) != 0 {
		t.Fatalf("optional references should be absent: %+v", task)
	}
	urgent, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "Fix prod", Deadline: "2024-01-02", Priority: "urgent"})
	if err != nil {
		t.Fatal(err)
	}
	if urgent.Priority != domain.PriorityUrgent {
		t.Fatalf("priority not normalised: %q", urgent.Priority)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	missing := int64(404)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Name:        "   ",
		Deadline:    "next week",
		Priority:    "critical",
		ProjectID:   &missing,
		AssigneeIDs: []int64{missing},
	})
	fields := fieldErrors(t, err)
	for _, f := range []string{"name", "deadline", "priority", "project_id", "assignee_ids"} {
		if len(fields[f]) == 0 {
			t.Fatalf("expected error for %s, got %v", f, fields)
		}
	}
	if n := countRows(t, env, "tasks"); n != 0 {
		t.Fatalf("nothing should be written, found %d tasks", n)
	}
	if n := countRows(t, env, "events"); n != 0 {
		t.Fatalf("nothing should be written, found %d events", n)
	}
}

func TestUpdateTaskCannotTouchCompletion(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "a", Deadline: "2024-03-01"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetTaskCompleted(env.Ctx, task.ID, true, 0); err != nil {
		t.Fatal(err)
	}
	name := "renamed"
	high := "HIGH"
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Name: &name, Priority: &high})
	if err != nil {
		t.Fatal(err)
	}
	if !updated.IsCompleted || updated.Name != "renamed" || updated.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if updated.Deadline != task.Deadline {
		t.Fatalf("deadline changed unexpectedly")
	}
	bogus := "nope"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Priority: &bogus}); err == nil {
		t.Fatalf("expected invalid priority rejected")
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: 999, Name: &name}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTaskClearsReferences(t *testing.T) {
	env := newTestEnv(t)
	tt, err := env.Engine.CreateLabel(env.Ctx, engine.KindTaskType, "Bug", 0)
	if err != nil {
		t.Fatal(err)
	}
	w := env.worker(t, "dev")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Name: "a", Deadline: "2024-03-01", TaskTypeID: &tt.ID, AssigneeIDs: []int64{w.ID, w.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(task.AssigneeIDs) != 1 {
		t.Fatalf("duplicates should collapse: %v", task.AssigneeIDs)
	}
	zero := int64(0)
	none := []int64{}
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, TaskTypeID: &zero, AssigneeIDs: &none})
	if err != nil {
		t.Fatal(err)
	}
	if updated.TaskTypeID != nil || len(updated.AssigneeIDs) != 0 {
		t.Fatalf("references not cleared: %+v", updated)
	}
}

func TestSetTaskCompletedIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "toggle", Deadline: "2024-03-01"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetTaskCompleted(env.Ctx, task.ID, false, 0); err != nil {
		t.Fatalf("reopen of open task should succeed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := env.Engine.SetTaskCompleted(env.Ctx, task.ID, true, 0); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsCompleted {
		t.Fatalf("expected completed")
	}
	if err := env.Engine.SetTaskCompleted(env.Ctx, 12345, true, 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	evts, err := env.Engine.Events.List(env.Ctx, events.Filter{EntityKind: "task", EntityID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 4 || evts[0].Type != "task.completed" || evts[2].Type != "task.reopened" {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestListTasksMyTasks(t *testing.T) {
	env := newTestEnv(t)
	me := env.worker(t, "me")
	other := env.worker(t, "other")
	for i, assignee := range []int64{me.ID, other.ID, me.ID} {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			Name: "task", Deadline: time.Date(2024, 2, i+1, 0, 0, 0, 0, time.UTC).Format(engine.DateLayout), AssigneeIDs: []int64{assignee},
		}); err != nil {
			t.Fatal(err)
		}
	}
	mine, err := env.Engine.ListTasks(env.Ctx, engine.TaskListOptions{MyTasks: true, WorkerID: me.ID})
	if err != nil {
		t.Fatal(err)
	}
	if mine.Total != 2 {
		t.Fatalf("expected 2 tasks for me, got %d", mine.Total)
	}
	all, err := env.Engine.ListTasks(env.Ctx, engine.TaskListOptions{MyTasks: false, WorkerID: me.ID})
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != 3 {
		t.Fatalf("expected 3 tasks without filter, got %d", all.Total)
	}
	everything, err := env.Engine.AllTasks(env.Ctx, engine.TaskListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(everything) != 3 || everything[0].Deadline != "2024-02-03" {
		t.Fatalf("unexpected full listing: %+v", everything)
	}
}

func TestListTasksUsesConfiguredPageSize(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Listing.PageSize = 2
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "t", Deadline: "2024-03-01"}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := env.Engine.ListTasks(env.Ctx, engine.TaskListOptions{Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.PageSize != 2 || page.NumPages != 2 || len(page.Items) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestWorkerValidation(t *testing.T) {
	env := newTestEnv(t)
	env.worker(t, "taken")
	_, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{
		Username:        "taken",
		Email:           "not-an-email",
		Password:        "short",
		PasswordConfirm: "different",
	})
	fields := fieldErrors(t, err)
	for _, f := range []string{"username", "email", "password", "password_confirm"} {
		if len(fields[f]) == 0 {
			t.Fatalf("expected error for %s, got %v", f, fields)
		}
	}
	if n := countRows(t, env, "workers"); n != 1 {
		t.Fatalf("expected only the first worker, got %d", n)
	}
}

func TestWorkerUpdateAndAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	pos, err := env.Engine.CreateLabel(env.Ctx, engine.KindPosition, "Developer", 0)
	if err != nil {
		t.Fatal(err)
	}
	w := env.worker(t, "alice")
	pw := "new-password"
	email := "alice@example.com"
	updated, err := env.Engine.UpdateWorker(env.Ctx, engine.WorkerUpdateOptions{ID: w.ID, Password: &pw, Email: &email, PositionID: &pos.ID})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Email != email || updated.PositionID == nil || *updated.PositionID != pos.ID {
		t.Fatalf("unexpected worker: %+v", updated)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "alice", "password123"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	got, err := env.Engine.Authenticate(env.Ctx, " alice ", pw)
	if err != nil || got.ID != w.ID {
		t.Fatalf("authenticate: %+v %v", got, err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "nobody", pw); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("unknown user should be invalid credentials, got %v", err)
	}
	other := env.worker(t, "bob")
	dup := "alice"
	if _, err := env.Engine.UpdateWorker(env.Ctx, engine.WorkerUpdateOptions{ID: other.ID, Username: &dup}); err == nil {
		t.Fatalf("expected duplicate username rejected")
	}
}

func TestDeletePositionKeepsWorker(t *testing.T) {
	env := newTestEnv(t)
	pos, err := env.Engine.CreateLabel(env.Ctx, engine.KindPosition, "QA", 0)
	if err != nil {
		t.Fatal(err)
	}
	w, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{
		Username: "qa", Password: "password123", PasswordConfirm: "password123", PositionID: &pos.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteLabel(env.Ctx, engine.KindPosition, pos.ID, 0); err != nil {
		t.Fatal(err)
	}
	d, err := env.Engine.GetWorkerDetail(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("worker should remain: %v", err)
	}
	if d.PositionID != nil || d.Position != nil {
		t.Fatalf("position not cleared: %+v", d)
	}
	if err := env.Engine.DeleteLabel(env.Ctx, engine.KindPosition, pos.ID, 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)
	team, err := env.Engine.CreateLabel(env.Ctx, engine.KindTeam, "Core", 0)
	if err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Apollo", Deadline: "2024-06-01", TeamIDs: []int64{team.ID}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "launch", Deadline: "2024-05-01", ProjectID: &p.ID}); err != nil {
		t.Fatal(err)
	}
	detail, err := env.Engine.GetProjectDetail(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Teams) != 1 || len(detail.Tasks) != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	teamDetail, err := env.Engine.GetTeamDetail(env.Ctx, team.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(teamDetail.Projects) != 1 || teamDetail.Projects[0].ID != p.ID {
		t.Fatalf("team should list project: %+v", teamDetail)
	}
	bad := "2024-13-01"
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Deadline: &bad}); err == nil {
		t.Fatalf("expected invalid deadline rejected")
	}
	if err := env.Engine.DeleteProject(env.Ctx, p.ID, 0); err != nil {
		t.Fatal(err)
	}
	tasks, err := env.Engine.AllTasks(env.Ctx, engine.TaskListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].ProjectID != nil {
		t.Fatalf("task should remain with project cleared: %+v", tasks)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "bot")
	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, w.ID, "ci", w.ID)
	if err != nil {
		t.Fatal(err)
	}
	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	if err != nil || found.ID != key.ID {
		t.Fatalf("lookup: %+v %v", found, err)
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, key.ID, w.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.CreateAPIKey(env.Ctx, 999, "x", 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown worker, got %v", err)
	}
}
