// Package store provides the durable SQLite-backed store for events,
// transaction state and credentials.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/trakhq/trak/pkg/models"
)

// Store owns the single SQLite database file. All operations are
// transactional; write failures surface as errors and are never
// swallowed.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies
// the schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The store is a process-owned single file; one writer keeps
	// SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma: %w", err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			project_name TEXT NOT NULL,
			session_id TEXT NOT NULL,
			session_name TEXT,
			event_type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			received_at TEXT NOT NULL,
			transcript_path TEXT,
			cwd TEXT,
			git TEXT,
			prompt_text TEXT,
			tool_name TEXT,
			tool_input TEXT,
			files_modified TEXT,
			tools_used TEXT,
			usage TEXT,
			model TEXT,
			stop_reason TEXT,
			notification_sent INTEGER NOT NULL DEFAULT 0,
			notification_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(project_id, session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_name_ts ON events(project_name, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_project_id ON events(project_id, id)`,
		`CREATE TABLE IF NOT EXISTS active_transactions (
			project_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			session_name TEXT,
			project_name TEXT NOT NULL,
			start_time TEXT NOT NULL,
			prompt_text TEXT,
			transcript_path TEXT,
			completed_at TEXT,
			duration_ms INTEGER,
			PRIMARY KEY (project_id, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_pending
			ON active_transactions(project_id, session_id) WHERE completed_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key_hash TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			project_id TEXT,
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			revoked_at TEXT
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// ---- events ----

// InsertEvent persists an event and returns its monotonic id. ReceivedAt
// is stamped with the server clock if unset.
func (s *Store) InsertEvent(ctx context.Context, e *models.Event) (int64, error) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	git, err := marshalJSON(e.GitContext)
	if err != nil {
		return 0, err
	}
	toolInput, err := marshalJSON(e.ToolInput)
	if err != nil {
		return 0, err
	}
	filesModified, err := marshalJSON(e.FilesModified)
	if err != nil {
		return 0, err
	}
	toolsUsed, err := marshalJSON(e.ToolsUsed)
	if err != nil {
		return 0, err
	}
	usage, err := marshalJSON(e.Usage)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			project_id, project_name, session_id, session_name, event_type,
			timestamp, received_at, transcript_path, cwd, git, prompt_text,
			tool_name, tool_input, files_modified, tools_used, usage, model, stop_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ProjectID, e.ProjectName, e.SessionID, nullString(e.SessionName), string(e.EventType),
		formatTime(e.Timestamp), formatTime(e.ReceivedAt), nullString(e.TranscriptPath),
		nullString(e.Cwd), git, nullString(e.PromptText),
		nullString(e.ToolName), toolInput, filesModified, toolsUsed, usage,
		nullString(e.Model), nullString(e.StopReason),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert event id: %w", err)
	}
	e.ID = id
	return id, nil
}

const eventColumns = `id, project_id, project_name, session_id, session_name, event_type,
	timestamp, received_at, transcript_path, cwd, git, prompt_text,
	tool_name, tool_input, files_modified, tools_used, usage, model, stop_reason,
	notification_sent, notification_id`

// EventsBySession returns all events for one session ordered by
// timestamp ascending.
func (s *Store) EventsBySession(ctx context.Context, projectID, sessionID string) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE project_id = ? AND session_id = ? ORDER BY timestamp ASC, id ASC`,
		projectID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events by session: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEventsByName returns the most recent limit events for a project,
// in chronological order.
func (s *Store) RecentEventsByName(ctx context.Context, projectName string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM (
			SELECT `+eventColumns+` FROM events
			WHERE project_name = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		projectName, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsSinceID returns events for a project with id strictly greater
// than sinceID, id ascending. Used for stream resumption.
func (s *Store) EventsSinceID(ctx context.Context, projectName string, sinceID int64) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE project_name = ? AND id > ? ORDER BY id ASC`,
		projectName, sinceID)
	if err != nil {
		return nil, fmt.Errorf("query events since id: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MaxEventID returns the highest event id stored for a project, or 0.
func (s *Store) MaxEventID(ctx context.Context, projectID string) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(id) FROM events WHERE project_id = ?`, projectID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("query max event id: %w", err)
	}
	return id.Int64, nil
}

// MarkNotificationSent records that a notification was dispatched for the
// event. The two notification fields are the only post-insert mutation
// events permit, and only while still unset.
func (s *Store) MarkNotificationSent(ctx context.Context, eventID int64, notificationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET notification_sent = 1, notification_id = ?
		 WHERE id = ? AND notification_sent = 0`,
		notificationID, eventID)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// DeleteOldEvents removes events whose server receipt time predates the
// cutoff. Returns the number deleted.
func (s *Store) DeleteOldEvents(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE received_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ---- transactions ----

// SaveTransaction upserts the persisted subset of a transaction by its
// composite key. In-memory accumulators are deliberately not stored.
func (s *Store) SaveTransaction(ctx context.Context, tx *models.ActiveTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_transactions (
			project_id, session_id, session_name, project_name,
			start_time, prompt_text, transcript_path, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, session_id) DO UPDATE SET
			session_name = excluded.session_name,
			project_name = excluded.project_name,
			start_time = excluded.start_time,
			prompt_text = excluded.prompt_text,
			transcript_path = excluded.transcript_path,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms`,
		tx.ProjectID, tx.SessionID, nullString(tx.SessionName), tx.ProjectName,
		formatTime(tx.StartTime), nullString(tx.PromptText), nullString(tx.TranscriptPath),
		nullTime(tx.CompletedAt), nullInt64(tx.DurationMs),
	)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

// GetTransaction returns the stored transaction for the key, or nil when
// absent.
func (s *Store) GetTransaction(ctx context.Context, projectID, sessionID string) (*models.ActiveTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, session_id, session_name, project_name,
		       start_time, prompt_text, transcript_path, completed_at, duration_ms
		FROM active_transactions WHERE project_id = ? AND session_id = ?`,
		projectID, sessionID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tx, err
}

// MarkTransactionCompleted finalizes the stored row for the key.
func (s *Store) MarkTransactionCompleted(ctx context.Context, projectID, sessionID string, durationMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE active_transactions
		SET completed_at = ?, duration_ms = ?
		WHERE project_id = ? AND session_id = ?`,
		formatTime(time.Now().UTC()), durationMs, projectID, sessionID)
	if err != nil {
		return fmt.Errorf("mark transaction completed: %w", err)
	}
	return nil
}

// GetPendingTransactions returns all rows not yet completed.
func (s *Store) GetPendingTransactions(ctx context.Context) ([]*models.ActiveTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, session_id, session_name, project_name,
		       start_time, prompt_text, transcript_path, completed_at, duration_ms
		FROM active_transactions WHERE completed_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("query pending transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.ActiveTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// ClearStaleTransactions deletes rows started before now-maxAge and
// returns the number removed.
func (s *Store) ClearStaleTransactions(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM active_transactions WHERE start_time < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("clear stale transactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	var out []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e                                                  models.Event
		eventType, timestamp, receivedAt                   string
		sessionName, transcriptPath, cwd, git, promptText  sql.NullString
		toolName, toolInput, filesModified, toolsUsed      sql.NullString
		usage, model, stopReason, notificationID           sql.NullString
		notificationSent                                   int
	)
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.ProjectName, &e.SessionID, &sessionName, &eventType,
		&timestamp, &receivedAt, &transcriptPath, &cwd, &git, &promptText,
		&toolName, &toolInput, &filesModified, &toolsUsed, &usage, &model, &stopReason,
		&notificationSent, &notificationID,
	)
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.EventType = models.EventType(eventType)
	e.SessionName = sessionName.String
	e.TranscriptPath = transcriptPath.String
	e.Cwd = cwd.String
	e.PromptText = promptText.String
	e.ToolName = toolName.String
	e.Model = model.String
	e.StopReason = stopReason.String
	e.NotificationSent = notificationSent != 0
	e.NotificationID = notificationID.String

	if e.Timestamp, err = parseTime(timestamp); err != nil {
		return nil, err
	}
	if e.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(git, &e.GitContext); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(toolInput, &e.ToolInput); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(filesModified, &e.FilesModified); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(toolsUsed, &e.ToolsUsed); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(usage, &e.Usage); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanTransaction(row rowScanner) (*models.ActiveTransaction, error) {
	var (
		tx                                       models.ActiveTransaction
		startTime                                string
		sessionName, promptText, transcriptPath  sql.NullString
		completedAt                              sql.NullString
		durationMs                               sql.NullInt64
	)
	err := row.Scan(&tx.ProjectID, &tx.SessionID, &sessionName, &tx.ProjectName,
		&startTime, &promptText, &transcriptPath, &completedAt, &durationMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	tx.SessionName = sessionName.String
	tx.PromptText = promptText.String
	tx.TranscriptPath = transcriptPath.String
	tx.DurationMs = durationMs.Int64
	if tx.StartTime, err = parseTime(startTime); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		tx.CompletedAt = &t
	}
	return &tx, nil
}

// ---- column helpers ----

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case *models.TokenUsage:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode column: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(col sql.NullString, dest any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dest); err != nil {
		return fmt.Errorf("decode column: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
