package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"tasktracker/internal/config"
	"tasktracker/internal/db"
	"tasktracker/internal/engine"
	"tasktracker/internal/engine/auth"
	"tasktracker/internal/migrate"
)

// Env is an opened workspace: migrated store, resolved config and engine.
type Env struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	// Applied lists migrations run while opening.
	Applied []string
}

// ResolveConfig loads the optional workspace config file and applies
// overrides on top of it. The result is validated after overrides so
// flags and environment cannot smuggle in invalid values.
func ResolveConfig(workspace string, overrides func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if overrides != nil {
		overrides(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Open prepares the workspace directory, migrates the store and builds an
// engine bound to the resolved config.
func Open(ctx context.Context, workspace string, overrides func(*config.Config)) (*Env, error) {
	cfg, err := ResolveConfig(workspace, overrides)
	if err != nil {
		return nil, err
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Env{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Engine:    engine.New(conn, cfg),
		Applied:   applied,
	}, nil
}

func (e *Env) Close() error {
	if e == nil || e.DB == nil {
		return nil
	}
	return e.DB.Close()
}

// Tokens builds the session token manager from the auth config.
func (e *Env) Tokens() (auth.TokenManager, error) {
	return auth.NewTokenManager(auth.TokenConfig{
		Secret: e.Config.Auth.JWTSecret,
		TTL:    e.Config.Auth.TokenTTL,
		Issuer: e.Config.Auth.Issuer,
	})
}

// Logger returns a text logger at the configured level writing to w.
func (e *Env) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(e.Config.Log.Level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
