package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kukipiyo/PiyoXAssistant/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY,
	content TEXT NOT NULL,
	base_time TEXT NOT NULL,
	jitter_minutes INTEGER NOT NULL DEFAULT 0,
	date_pattern TEXT NOT NULL,
	status TEXT NOT NULL,
	next_dispatch_at TIMESTAMP,
	last_dispatched_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_messages_next_dispatch ON messages(next_dispatch_at);
`

// Database persists the message table and encrypted API credentials in
// SQLite.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
	logger    *logrus.Logger
}

func New(dbPath string, logger *logrus.Logger) (*Database, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := newEncryptor()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc, logger: logger}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveMessages replaces the whole message table with the given set inside
// one transaction. The in-memory list is the source of truth; the table is
// only its durable copy.
func (d *Database) SaveMessages(ctx context.Context, messages []*models.Message) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (
			id, content, base_time, jitter_minutes, date_pattern,
			status, next_dispatch_at, last_dispatched_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, msg := range messages {
		if _, err := stmt.ExecContext(ctx,
			msg.ID,
			msg.Content,
			msg.BaseTime,
			msg.JitterMinutes,
			msg.DatePattern,
			string(msg.Status),
			nullableTime(msg.NextDispatchAt),
			nullableTime(msg.LastDispatchedAt),
			now,
		); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// LoadMessages returns every persisted message ordered by id.
func (d *Database) LoadMessages(ctx context.Context) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, content, base_time, jitter_minutes, date_pattern,
		       status, next_dispatch_at, last_dispatched_at
		FROM messages ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var status string
		var nextAt, lastAt sql.NullTime
		if err := rows.Scan(
			&msg.ID, &msg.Content, &msg.BaseTime, &msg.JitterMinutes,
			&msg.DatePattern, &status, &nextAt, &lastAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Status = models.Status(status)
		if nextAt.Valid {
			t := nextAt.Time
			msg.NextDispatchAt = &t
		}
		if lastAt.Valid {
			t := lastAt.Time
			msg.LastDispatchedAt = &t
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
