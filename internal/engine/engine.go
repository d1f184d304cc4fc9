package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"tasktracker/internal/config"
	"tasktracker/internal/engine/auth"
	"tasktracker/internal/events"
	"tasktracker/internal/repo"
)

// MaxNameLen bounds every name-like field.
const MaxNameLen = 255

// DateLayout is the accepted deadline format.
const DateLayout = "2006-01-02"

const (
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLen = 72
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Hasher auth.PasswordHasher
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Hasher: auth.NewPasswordHasher(auth.DefaultBcryptCost),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) pageSize() int {
	if e.Config != nil && e.Config.Listing.PageSize > 0 {
		return e.Config.Listing.PageSize
	}
	return repo.DefaultPageSize
}

// begin opens a transaction whose events carry the engine clock.
func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// ValidationError collects field-level messages. Nothing is written when
// one is returned.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Err returns the error when any field failed, else nil.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func checkName(ve *ValidationError, field, v string) string {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		ve.Add(field, "This field is required.")
	case utf8.RuneCountInString(v) > MaxNameLen:
		ve.Add(field, fmt.Sprintf("Ensure this value has at most %d characters.", MaxNameLen))
	}
	return v
}

func checkDate(ve *ValidationError, field, v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		ve.Add(field, "This field is required.")
		return v
	}
	d, err := time.Parse(DateLayout, v)
	if err != nil {
		ve.Add(field, "Enter a valid date.")
		return v
	}
	return d.Format(DateLayout)
}

func checkEmail(ve *ValidationError, field, v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Name != "" {
		ve.Add(field, "Enter a valid email address.")
		return v
	}
	return addr.Address
}

func checkPassword(ve *ValidationError, field, v string) {
	switch {
	case len(v) < minPasswordLen:
		ve.Add(field, fmt.Sprintf("This password is too short. It must contain at least %d characters.", minPasswordLen))
	case len(v) > maxPasswordLen:
		ve.Add(field, fmt.Sprintf("Ensure this value has at most %d bytes.", maxPasswordLen))
	}
}

// checkRef validates an optional reference; nil and 0 are accepted as unset.
func (e Engine) checkRef(ctx context.Context, tx *sql.Tx, ve *ValidationError, field string, table repo.Table, id *int64) error {
	if id == nil || *id == 0 {
		return nil
	}
	ok, err := e.Repo.Exists(ctx, tx, table, *id)
	if err != nil {
		return err
	}
	if !ok {
		ve.Add(field, fmt.Sprintf("Select a valid choice. %d is not one of the available choices.", *id))
	}
	return nil
}

func (e Engine) checkRefs(ctx context.Context, tx *sql.Tx, ve *ValidationError, field string, table repo.Table, ids []int64) error {
	for _, id := range ids {
		id := id
		if id <= 0 {
			ve.Add(field, fmt.Sprintf("%d is not a valid value.", id))
			continue
		}
		if err := e.checkRef(ctx, tx, ve, field, table, &id); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
