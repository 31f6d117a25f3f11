// Package journal keeps an append-only SQLite log of session lifecycle
// events for later inspection. It is a bus subscriber only; sessions are
// never restored from it.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/asheshgoplani/worktree-deck/internal/events"
	"github.com/asheshgoplani/worktree-deck/internal/logging"
)

var journalLog = logging.ForComponent(logging.CompJournal)

// SchemaVersion tracks the current database schema version.
const SchemaVersion = 1

// Journal wraps a SQLite database of lifecycle entries.
// Safe for concurrent use; several processes may share one file via WAL mode
// and the busy timeout.
type Journal struct {
	db *sql.DB
}

// Entry is one recorded event.
type Entry struct {
	ID           int64
	SessionID    string
	WorktreePath string
	Kind         events.Kind
	OldState     string
	NewState     string
	Detail       json.RawMessage
	At           time.Time
}

// Open creates or opens the journal at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	// Pragmas are per connection; one connection keeps them in force.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}
	return &Journal{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (j *Journal) Close() error {
	_, _ = j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return j.db.Close()
}

// Migrate creates tables if they don't exist.
func (j *Journal) Migrate() error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("journal: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id    TEXT NOT NULL,
			worktree_path TEXT NOT NULL,
			kind          TEXT NOT NULL,
			old_state     TEXT NOT NULL DEFAULT '',
			new_state     TEXT NOT NULL DEFAULT '',
			detail        TEXT NOT NULL DEFAULT '{}',
			at            INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("journal: create entries: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_entries_worktree ON entries (worktree_path, id)
	`); err != nil {
		return fmt.Errorf("journal: create index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("journal: set schema version: %w", err)
	}

	return tx.Commit()
}

// Record appends e. Output and restore events are not journaled; Record
// reports false for them.
func (j *Journal) Record(e events.Event) (bool, error) {
	var oldState, newState string
	var detail any

	switch ev := e.(type) {
	case events.SessionCreated:
		detail = map[string]any{"command": ev.Command, "args": ev.Args, "strategy": ev.StrategyID}
	case events.SessionStateChanged:
		oldState, newState = string(ev.Old), string(ev.New)
	case events.SessionProcessReplaced:
		detail = map[string]any{"command": ev.Command, "args": ev.Args, "pid": ev.PID}
	case events.SessionBackgroundTasks:
		detail = map[string]any{"count": ev.Count}
	case events.SessionExit:
		detail = map[string]any{"reason": ev.Status.Reason, "code": ev.Status.Code, "signal": ev.Status.Signal}
	case events.SessionDestroyed:
	default:
		return false, nil
	}

	raw := []byte("{}")
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return false, fmt.Errorf("journal: encode detail: %w", err)
		}
		raw = b
	}

	ref := e.Ref()
	_, err := j.db.Exec(`
		INSERT INTO entries (session_id, worktree_path, kind, old_state, new_state, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ref.ID, ref.WorktreePath, string(e.Kind()), oldState, newState, string(raw), e.Time().UnixNano())
	if err != nil {
		return false, fmt.Errorf("journal: insert: %w", err)
	}
	return true, nil
}

// Attach records every journaled event published on bus until the returned
// subscription is closed. Write failures are logged.
func (j *Journal) Attach(bus *events.Bus) (*events.Subscription, error) {
	return bus.SubscribeFunc(func(e events.Event) {
		if _, err := j.Record(e); err != nil {
			journalLog.Warn("journal_write_failed",
				slog.String("kind", string(e.Kind())),
				slog.String("worktree", e.Ref().WorktreePath),
				slog.String("error", err.Error()))
		}
	})
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	return j.query(`
		SELECT id, session_id, worktree_path, kind, old_state, new_state, detail, at
		FROM entries ORDER BY id DESC LIMIT ?
	`, limit)
}

// ForWorktree returns up to limit entries for path, newest first.
func (j *Journal) ForWorktree(path string, limit int) ([]Entry, error) {
	return j.query(`
		SELECT id, session_id, worktree_path, kind, old_state, new_state, detail, at
		FROM entries WHERE worktree_path = ? ORDER BY id DESC LIMIT ?
	`, path, limit)
}

// Prune deletes entries recorded before cutoff and returns how many went.
func (j *Journal) Prune(cutoff time.Time) (int64, error) {
	res, err := j.db.Exec("DELETE FROM entries WHERE at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

func (j *Journal) query(q string, args ...any) ([]Entry, error) {
	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind, detail string
		var at int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.WorktreePath, &kind, &e.OldState, &e.NewState, &detail, &at); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Kind = events.Kind(kind)
		e.Detail = json.RawMessage(detail)
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
