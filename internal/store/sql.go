package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"instrumentation-backend/internal/models"
)

// Dialect selects the schema used by SQLStore. Queries are written with $n
// placeholders, which both drivers accept.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS workflow_sessions (
	id                  UUID PRIMARY KEY,
	owner_id            TEXT        NOT NULL,
	name                TEXT        NOT NULL DEFAULT '',
	status              TEXT        NOT NULL,
	current_step        TEXT        NOT NULL,
	input_url           TEXT        NOT NULL DEFAULT '',
	input_image_frame   TEXT        NOT NULL DEFAULT '',
	input_video_frame   TEXT        NOT NULL DEFAULT '',
	input_details       TEXT        NOT NULL DEFAULT '',
	existing_metrics    JSONB       NOT NULL DEFAULT '[]',
	framework_answers   JSONB       NOT NULL DEFAULT '[]',
	selected_framework  TEXT        NOT NULL DEFAULT '',
	metrics             JSONB       NOT NULL DEFAULT '[]',
	events              JSONB       NOT NULL DEFAULT '[]',
	conversation        JSONB       NOT NULL DEFAULT '[]',
	approval            JSONB       NOT NULL DEFAULT '{}',
	external_session_id TEXT        NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS workflow_sessions_owner_updated_idx
	ON workflow_sessions (owner_id, updated_at DESC);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workflow_sessions (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT      NOT NULL,
	name                TEXT      NOT NULL DEFAULT '',
	status              TEXT      NOT NULL,
	current_step        TEXT      NOT NULL,
	input_url           TEXT      NOT NULL DEFAULT '',
	input_image_frame   TEXT      NOT NULL DEFAULT '',
	input_video_frame   TEXT      NOT NULL DEFAULT '',
	input_details       TEXT      NOT NULL DEFAULT '',
	existing_metrics    TEXT      NOT NULL DEFAULT '[]',
	framework_answers   TEXT      NOT NULL DEFAULT '[]',
	selected_framework  TEXT      NOT NULL DEFAULT '',
	metrics             TEXT      NOT NULL DEFAULT '[]',
	events              TEXT      NOT NULL DEFAULT '[]',
	conversation        TEXT      NOT NULL DEFAULT '[]',
	approval            TEXT      NOT NULL DEFAULT '{}',
	external_session_id TEXT      NOT NULL DEFAULT '',
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_sessions_owner_updated_idx
	ON workflow_sessions (owner_id, updated_at DESC);
`

const selectColumns = `
	id, owner_id, name, status, current_step,
	input_url, input_image_frame, input_video_frame, input_details,
	existing_metrics, framework_answers, selected_framework,
	metrics, events, conversation, approval,
	external_session_id, created_at, updated_at`

// SQLStore persists snapshots in a workflow_sessions table.
type SQLStore struct {
	DB      *sql.DB
	Dialect Dialect
	// Timeout bounds every statement; zero means 5 seconds.
	Timeout time.Duration
}

func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported database dialect: %q", dialect)
	}
	return &SQLStore{DB: db, Dialect: dialect}, nil
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Migrate creates the table and index if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	schema := postgresSchema
	if s.Dialect == DialectSQLite {
		schema = sqliteSchema
	}
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return &PersistenceError{Op: "migrate", Err: err}
	}
	return nil
}

// Save looks the record up first and then updates or inserts it inside one
// transaction, so a save either fully succeeds or leaves the record untouched.
func (s *SQLStore) Save(ctx context.Context, owner string, snap *models.SessionSnapshot) (string, error) {
	if err := requireOwner("save", owner); err != nil {
		return "", err
	}
	if err := checkSnapshotID(snap.ID); err != nil {
		return "", err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cols, err := encodeJSONColumns(snap)
	if err != nil {
		return "", &PersistenceError{Op: "save", Err: err}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", &PersistenceError{Op: "save", Err: err}
	}
	defer tx.Rollback()

	ts := now()
	id := snap.ID
	createdAt := ts
	exists := false

	if id == "" {
		id = uuid.New().String()
	} else {
		var existingOwner string
		var existingCreated time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT owner_id, created_at FROM workflow_sessions WHERE id = $1`, id,
		).Scan(&existingOwner, &existingCreated)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return "", &PersistenceError{Op: "save", Err: err}
		case existingOwner != owner:
			return "", &PersistenceError{Op: "save", Err: ErrForbidden}
		default:
			exists = true
			createdAt = existingCreated.UTC()
		}
	}

	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE workflow_sessions
			SET name                = $1,
			    status              = $2,
			    current_step        = $3,
			    input_url           = $4,
			    input_image_frame   = $5,
			    input_video_frame   = $6,
			    input_details       = $7,
			    existing_metrics    = $8,
			    framework_answers   = $9,
			    selected_framework  = $10,
			    metrics             = $11,
			    events              = $12,
			    conversation        = $13,
			    approval            = $14,
			    external_session_id = $15,
			    updated_at          = $16
			WHERE id = $17 AND owner_id = $18
		`,
			snap.Name, string(snap.Status), string(snap.CurrentStep),
			snap.InputURL, snap.InputImageFrame, snap.InputVideoFrame, snap.InputDetails,
			cols.existingMetrics, cols.frameworkAnswers, snap.SelectedFramework,
			cols.metrics, cols.events, cols.conversation, cols.approval,
			snap.ExternalSessionID, ts, id, owner,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_sessions (
				id, owner_id, name, status, current_step,
				input_url, input_image_frame, input_video_frame, input_details,
				existing_metrics, framework_answers, selected_framework,
				metrics, events, conversation, approval,
				external_session_id, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`,
			id, owner, snap.Name, string(snap.Status), string(snap.CurrentStep),
			snap.InputURL, snap.InputImageFrame, snap.InputVideoFrame, snap.InputDetails,
			cols.existingMetrics, cols.frameworkAnswers, snap.SelectedFramework,
			cols.metrics, cols.events, cols.conversation, cols.approval,
			snap.ExternalSessionID, createdAt, ts,
		)
	}
	if err != nil {
		return "", &PersistenceError{Op: "save", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return "", &PersistenceError{Op: "save", Err: err}
	}

	snap.ID, snap.OwnerID, snap.CreatedAt, snap.UpdatedAt = id, owner, createdAt, ts
	return id, nil
}

// Load fetches a snapshot and verifies ownership.
func (s *SQLStore) Load(ctx context.Context, owner, id string) (*models.SessionSnapshot, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM workflow_sessions WHERE id = $1`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}

	// The snapshot must belong to the requesting user.
	if snap.OwnerID != owner {
		return nil, ErrForbidden
	}
	return snap, nil
}

func (s *SQLStore) List(ctx context.Context, owner string) ([]models.SessionSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM workflow_sessions WHERE owner_id = $1 ORDER BY updated_at DESC, id ASC`, owner)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	out := []models.SessionSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return out, nil
}

// Remove permanently deletes a snapshot owned by owner.
func (s *SQLStore) Remove(ctx context.Context, owner, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.DB.ExecContext(ctx,
		`DELETE FROM workflow_sessions WHERE id = $1 AND owner_id = $2`, id, owner)
	if err != nil {
		return &PersistenceError{Op: "remove", Err: err}
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "remove", Err: err}
	}
	if rows > 0 {
		return nil
	}

	var existingOwner string
	err = s.DB.QueryRowContext(ctx,
		`SELECT owner_id FROM workflow_sessions WHERE id = $1`, id).Scan(&existingOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "remove", Err: err}
	}
	return ErrForbidden
}

type jsonColumns struct {
	existingMetrics  string
	frameworkAnswers string
	metrics          string
	events           string
	conversation     string
	approval         string
}

func encodeJSONColumns(snap *models.SessionSnapshot) (jsonColumns, error) {
	var cols jsonColumns
	fields := []struct {
		dst *string
		v   any
	}{
		{&cols.existingMetrics, snap.ExistingMetrics},
		{&cols.frameworkAnswers, snap.FrameworkAnswers},
		{&cols.metrics, snap.Metrics},
		{&cols.events, snap.Events},
		{&cols.conversation, snap.Conversation},
		{&cols.approval, snap.Approval},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.v)
		if err != nil {
			return jsonColumns{}, err
		}
		*f.dst = string(data)
	}
	return cols, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*models.SessionSnapshot, error) {
	snap := &models.SessionSnapshot{}
	var status, step string
	var existingMetrics, frameworkAnswers, metrics, events, conv, appr []byte

	err := row.Scan(
		&snap.ID,
		&snap.OwnerID,
		&snap.Name,
		&status,
		&step,
		&snap.InputURL,
		&snap.InputImageFrame,
		&snap.InputVideoFrame,
		&snap.InputDetails,
		&existingMetrics,
		&frameworkAnswers,
		&snap.SelectedFramework,
		&metrics,
		&events,
		&conv,
		&appr,
		&snap.ExternalSessionID,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	snap.Status = models.Status(status)
	snap.CurrentStep = models.Step(step)
	snap.CreatedAt = snap.CreatedAt.UTC()
	snap.UpdatedAt = snap.UpdatedAt.UTC()

	columns := []struct {
		data []byte
		dst  any
	}{
		{existingMetrics, &snap.ExistingMetrics},
		{frameworkAnswers, &snap.FrameworkAnswers},
		{metrics, &snap.Metrics},
		{events, &snap.Events},
		{conv, &snap.Conversation},
		{appr, &snap.Approval},
	}
	for _, c := range columns {
		if len(c.data) == 0 {
			continue
		}
		if err := json.Unmarshal(c.data, c.dst); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
		}
	}
	return snap, nil
}
