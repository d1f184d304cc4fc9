package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tasktracker/internal/app"
	"tasktracker/internal/config"
	"tasktracker/internal/domain"
	"tasktracker/internal/engine"
	"tasktracker/internal/events"
	"tasktracker/internal/migrate"
	"tasktracker/internal/repo"
	"tasktracker/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Task tracker CLI",
	Long: `tm manages a task tracker workspace: workers, projects and prioritized tasks.
Tasks are listed incomplete first, then by latest deadline, then by priority
(URGENT, HIGH, MEDIUM, LOW). Run 'tm serve' for the HTTP API.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKTRACKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
}

// applyOverrides lays flags and TASKTRACKER_* variables over the file config.
func applyOverrides(c *config.Config) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}
	setString(&c.Server.Addr, "server.addr")
	setString(&c.Server.BasePath, "server.base_path")
	setString(&c.Auth.JWTSecret, "auth.jwt_secret")
	setString(&c.Auth.CookieName, "auth.cookie_name")
	setString(&c.Auth.Issuer, "auth.issuer")
	setString(&c.Log.Level, "log.level")
	if viper.IsSet("listing.page_size") {
		c.Listing.PageSize = viper.GetInt("listing.page_size")
	}
	if viper.IsSet("auth.token_ttl") {
		c.Auth.TokenTTL = viper.GetDuration("auth.token_ttl")
	}
}

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(ctx, viper.GetString("workspace"), applyOverrides)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
		return fn(ctx, env.Engine)
	})
}

func serveCmd() *cobra.Command {
	var secureCookie bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
				logger, err := env.Logger(os.Stdout)
				if err != nil {
					return err
				}
				slog.SetDefault(logger)
				tokens, err := env.Tokens()
				if err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Engine:   env.Engine,
					BasePath: env.Config.Server.BasePath,
					Logger:   logger,
					Auth: server.AuthConfig{
						Tokens:       &tokens,
						CookieName:   env.Config.Auth.CookieName,
						SecureCookie: secureCookie,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{
					Addr:              env.Config.Server.Addr,
					Handler:           handler,
					ReadHeaderTimeout: 10 * time.Second,
				}
				errCh := make(chan error, 1)
				go func() {
					logger.Info("starting server",
						slog.String("addr", srv.Addr),
						slog.String("base_path", env.Config.Server.BasePath),
						slog.String("workspace", env.Workspace))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
					close(errCh)
				}()

				select {
				case err, ok := <-errCh:
					if ok {
						logger.Error("server stopped unexpectedly", slog.String("error", err.Error()))
						return err
					}
					return nil
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("failed to shutdown server", slog.String("error", err.Error()))
					return err
				}
				logger.Info("server stopped")
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config, 127.0.0.1:8080)")
	cmd.Flags().String("base-path", "", "API base path (default from config, /v0)")
	cmd.Flags().BoolVar(&secureCookie, "secure-cookie", false, "mark the session cookie Secure (serve behind TLS)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.base_path", cmd.Flags().Lookup("base-path"))
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				version, err := migrate.Version(ctx, env.DB)
				if err != nil {
					return err
				}
				out := map[string]any{"applied": env.Applied, "version": version}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				if len(env.Applied) == 0 {
					fmt.Printf("schema up to date (version %d)\n", version)
					return nil
				}
				for _, name := range env.Applied {
					fmt.Println("applied", name)
				}
				fmt.Printf("schema at version %d\n", version)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage tasktracker.yml",
		Long:  "tasktracker.yml in the workspace is optional; flags and TASKTRACKER_* variables override it (for example TASKTRACKER_AUTH_JWT_SECRET).",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config with a fresh signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			secret := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
			if err := os.WriteFile(path, []byte(config.GenerateDefault(secret)), 0o600); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), applyOverrides)
			if err != nil {
				return err
			}
			shown := *cfg
			shown.Auth.JWTSecret = "********"
			return printJSON(shown)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.ResolveConfig(viper.GetString("workspace"), applyOverrides)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func workerCmd() *cobra.Command {
	w := &cobra.Command{Use: "worker", Short: "Manage workers"}
	w.AddCommand(workerCreateCmd())
	w.AddCommand(workerListCmd())
	return w
}

func workerCreateCmd() *cobra.Command {
	var opts engine.WorkerCreateOptions
	var positionID, teamID int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PasswordConfirm = opts.Password
			if cmd.Flags().Changed("position-id") {
				opts.PositionID = &positionID
			}
			if cmd.Flags().Changed("team-id") {
				opts.TeamID = &teamID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorker(ctx, opts)
				if err != nil {
					return describe(err)
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Username, "username", "", "login name")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (8 to 72 bytes)")
	cmd.Flags().StringVar(&opts.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&opts.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().Int64Var(&positionID, "position-id", 0, "position id")
	cmd.Flags().Int64Var(&teamID, "team-id", 0, "team id")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func workerListCmd() *cobra.Command {
	var lq repo.ListQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				page, err := e.ListWorkers(ctx, lq)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Username", "First name", "Last name", "Email"})
				for _, w := range page.Items {
					tw.AppendRow(table.Row{w.ID, w.Username, w.FirstName, w.LastName, w.Email})
				}
				tw.AppendFooter(table.Row{"", "", "", "page", fmt.Sprintf("%d/%d", page.Page, page.NumPages)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&lq.Term, "name", "", "search username, first or last name")
	cmd.Flags().StringVar(&lq.Ordering, "ordering", "", "username_asc or username_desc")
	cmd.Flags().IntVar(&lq.Page, "page", 1, "page number")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskToggleCmd("complete", "Mark a task complete", true))
	t.AddCommand(taskToggleCmd("reopen", "Mark a task not complete", false))
	return t
}

func taskListCmd() *cobra.Command {
	var (
		opts       engine.TaskListOptions
		assignedTo string
		all        bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if assignedTo != "" {
					w, err := e.Repo.GetWorkerByUsername(ctx, assignedTo)
					if err != nil {
						return fmt.Errorf("worker %q: %w", assignedTo, err)
					}
					opts.MyTasks = true
					opts.WorkerID = w.ID
				}
				var (
					tasks  []domain.Task
					footer string
				)
				if all {
					items, err := e.AllTasks(ctx, opts)
					if err != nil {
						return err
					}
					tasks = items
					footer = fmt.Sprintf("%d tasks", len(items))
				} else {
					page, err := e.ListTasks(ctx, opts)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(page)
					}
					tasks = page.Items
					footer = fmt.Sprintf("page %d/%d", page.Page, page.NumPages)
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Deadline", "Priority", "Done", "Assignees"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Deadline, t.Priority, checkmark(t.IsCompleted), joinIDs(t.AssigneeIDs)})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "", footer})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "case-insensitive name substring")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "only tasks assigned to this username")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().BoolVar(&all, "all", false, "list every matching task without paging")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var taskTypeID, project int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("task-type-id") {
				opts.TaskTypeID = &taskTypeID
			}
			if cmd.Flags().Changed("project-id") {
				opts.ProjectID = &project
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return describe(err)
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "task name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "URGENT, HIGH, MEDIUM or LOW (default MEDIUM)")
	cmd.Flags().Int64Var(&taskTypeID, "task-type-id", 0, "task type id")
	cmd.Flags().Int64Var(&project, "project-id", 0, "project id")
	cmd.Flags().Int64SliceVar(&opts.AssigneeIDs, "assignee", nil, "assignee worker id (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func taskToggleCmd(use, short string, completed bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetTaskCompleted(ctx, id, completed, 0); err != nil {
					return err
				}
				t, err := e.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyDeleteCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var username, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkerByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("worker %q: %w", username, err)
				}
				key, secret, err := e.CreateAPIKey(ctx, w.ID, name, w.ID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": key.ID, "worker_id": key.WorkerID, "name": key.Name, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&username, "worker", "", "worker username")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a worker's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkerByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("worker %q: %w", username, err)
				}
				keys, err := e.Repo.ListAPIKeys(ctx, w.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "worker", "", "worker username")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteAPIKey(ctx, args[0], 0); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				w, err := env.Engine.Repo.GetWorkerByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("worker %q: %w", username, err)
				}
				tokens, err := env.Tokens()
				if err != nil {
					return err
				}
				token, exp, err := tokens.Issue(w.ID, w.Username)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "expires_at": exp.UTC().Format(time.RFC3339)})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "worker", "", "worker username")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f events.Filter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Events.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, fmt.Sprintf("%s/%d", evt.EntityKind, evt.EntityID), evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().Int64Var(&f.EntityID, "entity-id", 0, "entity id")
	return cmd
}

// describe expands validation failures into one line per field.
func describe(err error) error {
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	t := newTable()
	t.SetOutputMirror(os.Stderr)
	t.AppendHeader(table.Row{"Field", "Problem"})
	for field, msgs := range ve.Fields {
		for _, m := range msgs {
			t.AppendRow(table.Row{field, m})
		}
	}
	t.SortBy([]table.SortBy{{Name: "Field", Mode: table.Asc}})
	t.Render()
	return errors.New("validation failed")
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func checkmark(b bool) string {
	if b {
		return "x"
	}
	return ""
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
