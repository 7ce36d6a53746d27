// Package store persists parsed actions to SQLite so a downstream
// executor (calendar writer, ledger) can pick them up. The relay never
// reads this data back on the hot path.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"wandabot/internal/domain"
)

// SQLiteStore implements domain.ActionSink using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		id          TEXT PRIMARY KEY,
		channel     TEXT NOT NULL,
		sender_id   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		data        TEXT NOT NULL,
		confidence  REAL,
		notes       TEXT,
		warnings    TEXT,
		status      TEXT NOT NULL DEFAULT 'pending',
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_actions_sender ON actions(sender_id, created_at);

	CREATE TABLE IF NOT EXISTS delivery_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		channel     TEXT NOT NULL,
		recipient   TEXT NOT NULL,
		ok          INTEGER NOT NULL,
		detail      TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_delivery_time ON delivery_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record inserts a parsed action with status 'pending'.
func (s *SQLiteStore) Record(ctx context.Context, rec domain.ActionRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal action data: %w", err)
	}

	var confidence any
	if rec.Confidence != nil {
		confidence = *rec.Confidence
	}
	var warnings any
	if len(rec.Warnings) > 0 {
		warnings = strings.Join(rec.Warnings, "; ")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO actions (id, channel, sender_id, kind, data, confidence, notes, warnings, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.Channel, rec.SenderID, rec.Kind, string(data),
		confidence, rec.Notes, warnings, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// StoredAction is an action row as read back from the database.
type StoredAction struct {
	ID         string
	Channel    string
	SenderID   string
	Kind       string
	Data       map[string]any
	Confidence *float64
	Notes      string
	Warnings   []string
	Status     string
	CreatedAt  time.Time
}

// PendingActions returns up to limit unprocessed actions, oldest first.
// This is the hand-off point for a downstream executor.
func (s *SQLiteStore) PendingActions(ctx context.Context, limit int) ([]StoredAction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, sender_id, kind, data, confidence, notes, warnings, status, created_at
		 FROM actions WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StoredAction
	for rows.Next() {
		var a StoredAction
		var dataJSON string
		var confidence sql.NullFloat64
		var notes, warnings sql.NullString
		if err := rows.Scan(&a.ID, &a.Channel, &a.SenderID, &a.Kind, &dataJSON,
			&confidence, &notes, &warnings, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dataJSON), &a.Data); err != nil {
			s.logger.Warn("corrupt action data, skipping", "id", a.ID, "error", err)
			continue
		}
		if confidence.Valid {
			c := confidence.Float64
			a.Confidence = &c
		}
		a.Notes = notes.String
		if warnings.String != "" {
			a.Warnings = strings.Split(warnings.String, "; ")
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// MarkProcessed flips an action's status once an executor has handled it.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = 'processed' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("action %s not found or already processed", id)
	}
	return nil
}

// LogDelivery appends an outbound delivery attempt to the audit trail.
func (s *SQLiteStore) LogDelivery(ctx context.Context, channel, recipient string, ok bool, detail string) error {
	okInt := 0
	if ok {
		okInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log (channel, recipient, ok, detail) VALUES (?, ?, ?, ?)`,
		channel, recipient, okInt, detail)
	return err
}

// Stats returns rough row counts for the status command.
func (s *SQLiteStore) Stats(ctx context.Context) (pending, processed int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN status = 'pending' THEN 1 END),
			COUNT(CASE WHEN status = 'processed' THEN 1 END)
		 FROM actions`).Scan(&pending, &processed)
	return pending, processed, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
