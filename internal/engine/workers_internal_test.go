package engine

import (
	"errors"
	"fmt"
	"testing"

	"tasktracker/internal/repo"
)

func TestUsernameConflictBecomesFieldError(t *testing.T) {
	err := usernameConflict(fmt.Errorf("insert worker: %w", fmt.Errorf("username %q: %w", "alice", repo.ErrUsernameTaken)))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := ve.Fields["username"]; len(got) != 1 || got[0] != usernameTakenMsg {
		t.Fatalf("unexpected username messages: %v", got)
	}

	other := errors.New("disk I/O error")
	if got := usernameConflict(other); got != other {
		t.Fatalf("unrelated errors must pass through, got %v", got)
	}
}
