// Package store persists workflow snapshots, scoped to the user that owns them.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"instrumentation-backend/internal/models"
)

// Sentinel errors; callers match them with errors.Is.
var (
	ErrNotFound  = errors.New("session not found")
	ErrForbidden = errors.New("forbidden: session belongs to another user")
)

// PersistenceError reports a failed store operation. Ownership failures on
// save are reported as a PersistenceError wrapping ErrForbidden.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the snapshot persistence contract used by the workflow controller.
type Store interface {
	// Save creates a snapshot when snap.ID is empty and fully overwrites it
	// otherwise. On success snap carries its id, owner and timestamps.
	Save(ctx context.Context, owner string, snap *models.SessionSnapshot) (string, error)
	// Load returns the snapshot or ErrNotFound / ErrForbidden.
	Load(ctx context.Context, owner, id string) (*models.SessionSnapshot, error)
	// List returns the owner's snapshots, most recently updated first.
	List(ctx context.Context, owner string) ([]models.SessionSnapshot, error)
	// Remove deletes a snapshot. Removing a missing snapshot is not an error.
	Remove(ctx context.Context, owner, id string) error
}

// now is truncated to the precision PostgreSQL keeps so a saved snapshot
// compares equal to the loaded one.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func checkSnapshotID(id string) error {
	if id == "" {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return &PersistenceError{Op: "save", Err: fmt.Errorf("invalid snapshot id %q", id)}
	}
	return nil
}

func requireOwner(op, owner string) error {
	if owner == "" {
		return &PersistenceError{Op: op, Err: ErrForbidden}
	}
	return nil
}
