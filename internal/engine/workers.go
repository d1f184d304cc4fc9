package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tasktracker/internal/domain"
	"tasktracker/internal/engine/auth"
	"tasktracker/internal/events"
	"tasktracker/internal/repo"
)

// WorkerCreateOptions are parameters for creating a worker.
type WorkerCreateOptions struct {
	Username        string
	FirstName       string
	LastName        string
	Email           string
	Password        string
	PasswordConfirm string
	PositionID      *int64
	TeamID          *int64
	ActorID         int64
}

func (e Engine) CreateWorker(ctx context.Context, opts WorkerCreateOptions) (domain.Worker, error) {
	var ve ValidationError
	w := domain.Worker{
		Username:   checkName(&ve, "username", opts.Username),
		FirstName:  strings.TrimSpace(opts.FirstName),
		LastName:   strings.TrimSpace(opts.LastName),
		Email:      checkEmail(&ve, "email", opts.Email),
		PositionID: opts.PositionID,
		TeamID:     opts.TeamID,
		CreatedAt:  e.timestamp(),
	}
	checkPassword(&ve, "password", opts.Password)
	if opts.Password != opts.PasswordConfirm {
		ve.Add("password_confirm", "The two password fields didn't match.")
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()

	if w.Username != "" {
		taken, err := e.Repo.UsernameTaken(ctx, tx, w.Username, 0)
		if err != nil {
			return domain.Worker{}, err
		}
		if taken {
			ve.Add("username", usernameTakenMsg)
		}
	}
	if err := e.checkRef(ctx, tx, &ve, "position_id", repo.Positions, w.PositionID); err != nil {
		return domain.Worker{}, err
	}
	if err := e.checkRef(ctx, tx, &ve, "team_id", repo.Teams, w.TeamID); err != nil {
		return domain.Worker{}, err
	}
	if err := ve.Err(); err != nil {
		return domain.Worker{}, err
	}
	if w.PasswordHash, err = e.Hasher.Hash(opts.Password); err != nil {
		return domain.Worker{}, err
	}
	w.PositionID = normalizeRef(w.PositionID)
	w.TeamID = normalizeRef(w.TeamID)
	if w.ID, err = e.Repo.InsertWorker(ctx, tx, w); err != nil {
		return domain.Worker{}, usernameConflict(fmt.Errorf("insert worker: %w", err))
	}
	if err := e.events().Append(ctx, tx, "worker.created", "worker", w.ID, opts.ActorID, events.EventPayload{"username": w.Username}); err != nil {
		return domain.Worker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Worker{}, err
	}
	return w, nil
}

const usernameTakenMsg = "A user with that username already exists."

// usernameConflict reports a write that lost a race for a username the same
// way the pre-check does.
func usernameConflict(err error) error {
	if !errors.Is(err, repo.ErrUsernameTaken) {
		return err
	}
	var ve ValidationError
	ve.Add("username", usernameTakenMsg)
	return ve.Err()
}

// WorkerUpdateOptions changes only non-nil fields. A zero reference id
// clears the reference.
type WorkerUpdateOptions struct {
	ID         int64
	Username   *string
	FirstName  *string
	LastName   *string
	Email      *string
	Password   *string
	PositionID *int64
	TeamID     *int64
	ActorID    int64
}

func (e Engine) UpdateWorker(ctx context.Context, opts WorkerUpdateOptions) (domain.Worker, error) {
	var (
		ve ValidationError
		u  repo.WorkerUpdate
	)
	if opts.Username != nil {
		v := checkName(&ve, "username", *opts.Username)
		u.Username = &v
	}
	if opts.FirstName != nil {
		v := strings.TrimSpace(*opts.FirstName)
		u.FirstName = &v
	}
	if opts.LastName != nil {
		v := strings.TrimSpace(*opts.LastName)
		u.LastName = &v
	}
	if opts.Email != nil {
		v := checkEmail(&ve, "email", *opts.Email)
		u.Email = &v
	}
	if opts.Password != nil {
		checkPassword(&ve, "password", *opts.Password)
	}
	u.PositionID = opts.PositionID
	u.TeamID = opts.TeamID

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()

	exists, err := e.Repo.Exists(ctx, tx, repo.Workers, opts.ID)
	if err != nil {
		return domain.Worker{}, err
	}
	if !exists {
		return domain.Worker{}, fmt.Errorf("worker %d: %w", opts.ID, repo.ErrNotFound)
	}
	if u.Username != nil && *u.Username != "" {
		taken, err := e.Repo.UsernameTaken(ctx, tx, *u.Username, opts.ID)
		if err != nil {
			return domain.Worker{}, err
		}
		if taken {
			ve.Add("username", usernameTakenMsg)
		}
	}
	if err := e.checkRef(ctx, tx, &ve, "position_id", repo.Positions, opts.PositionID); err != nil {
		return domain.Worker{}, err
	}
	if err := e.checkRef(ctx, tx, &ve, "team_id", repo.Teams, opts.TeamID); err != nil {
		return domain.Worker{}, err
	}
	if err := ve.Err(); err != nil {
		return domain.Worker{}, err
	}
	if opts.Password != nil {
		hash, err := e.Hasher.Hash(*opts.Password)
		if err != nil {
			return domain.Worker{}, err
		}
		u.PasswordHash = &hash
	}
	if err := e.Repo.UpdateWorker(ctx, tx, opts.ID, u); err != nil {
		return domain.Worker{}, usernameConflict(fmt.Errorf("update worker %d: %w", opts.ID, err))
	}
	if err := e.events().Append(ctx, tx, "worker.updated", "worker", opts.ID, opts.ActorID, nil); err != nil {
		return domain.Worker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Worker{}, err
	}
	return e.Repo.GetWorker(ctx, opts.ID)
}

// DeleteWorker removes the worker with its assignments and API keys.
func (e Engine) DeleteWorker(ctx context.Context, id, actorID int64) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteWorker(ctx, tx, id); err != nil {
		return fmt.Errorf("delete worker %d: %w", id, err)
	}
	if err := e.events().Append(ctx, tx, "worker.deleted", "worker", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetWorkerDetail(ctx context.Context, id int64) (domain.WorkerDetail, error) {
	return e.Repo.GetWorkerDetail(ctx, id)
}

func (e Engine) ListWorkers(ctx context.Context, lq repo.ListQuery) (repo.Page[domain.Worker], error) {
	if lq.PageSize <= 0 {
		lq.PageSize = e.pageSize()
	}
	return e.Repo.ListWorkers(ctx, lq)
}

// Authenticate checks a username/password pair. Unknown users and wrong
// passwords both yield auth.ErrInvalidCredentials.
func (e Engine) Authenticate(ctx context.Context, username, password string) (domain.Worker, error) {
	w, err := e.Repo.GetWorkerByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Worker{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Worker{}, err
	}
	if err := e.Hasher.Verify(password, w.PasswordHash); err != nil {
		return domain.Worker{}, err
	}
	return w, nil
}

// CreateAPIKey issues a key for a worker. The returned secret is not stored.
func (e Engine) CreateAPIKey(ctx context.Context, workerID int64, name string, actorID int64) (domain.APIKey, string, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	ok, err := e.Repo.Exists(ctx, tx, repo.Workers, workerID)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	if !ok {
		return domain.APIKey{}, "", fmt.Errorf("worker %d: %w", workerID, repo.ErrNotFound)
	}
	id, secret := auth.NewAPIKey()
	key := domain.APIKey{
		ID:        id,
		WorkerID:  workerID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := e.events().Append(ctx, tx, "apikey.created", "worker", workerID, actorID, events.EventPayload{"key_id": id, "name": key.Name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) DeleteAPIKey(ctx context.Context, id string, actorID int64) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
		return fmt.Errorf("delete api key %s: %w", id, err)
	}
	if err := e.events().Append(ctx, tx, "apikey.deleted", "api_key", 0, actorID, events.EventPayload{"key_id": id}); err != nil {
		return err
	}
	return tx.Commit()
}

func normalizeRef(id *int64) *int64 {
	if id == nil || *id == 0 {
		return nil
	}
	return id
}
