package transcript

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/Tyrowin/supportdesk/internal/chat"
)

// SQLiteBackend stores one row per message, ordered by an autoincrement id.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at dbPath and migrates it.
func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite backend: empty path")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, errors.Wrap(err, "sqlite backend: create directory")
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=FULL")
	if err != nil {
		return nil, errors.Wrap(err, "sqlite backend: open")
	}
	// a single connection keeps :memory: databases and write ordering sane
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite backend: ping")
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcripts (
		user_id TEXT PRIMARY KEY,
		created_at_ms INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER) * 1000)
	);
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES transcripts(user_id),
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS messages_user_id ON messages(user_id, id);
	`
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "sqlite backend: migrate")
	}
	return nil
}

func (b *SQLiteBackend) Name() string { return DriverSQLite }

func (b *SQLiteBackend) Load(ctx context.Context) (map[string][]chat.Message, error) {
	state := make(map[string][]chat.Message)

	keys, err := b.db.QueryContext(ctx, `SELECT user_id FROM transcripts`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite backend: list transcripts")
	}
	for keys.Next() {
		var key string
		if err := keys.Scan(&key); err != nil {
			_ = keys.Close()
			return nil, errors.Wrap(err, "sqlite backend: scan transcript")
		}
		state[key] = []chat.Message{}
	}
	if err := keys.Close(); err != nil {
		return nil, errors.Wrap(err, "sqlite backend: close transcript rows")
	}

	rows, err := b.db.QueryContext(ctx, `SELECT user_id, sender, recipient, text, timestamp_ms FROM messages ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite backend: list messages")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key, sender, recipient, text string
			ts                           int64
		)
		if err := rows.Scan(&key, &sender, &recipient, &text, &ts); err != nil {
			return nil, errors.Wrap(err, "sqlite backend: scan message")
		}
		state[key] = append(state[key], chat.Message{
			Sender:    chat.FromWire(sender),
			Recipient: chat.FromWire(recipient),
			Text:      text,
			Timestamp: ts,
		})
	}
	return state, errors.Wrap(rows.Err(), "sqlite backend: iterate messages")
}

func (b *SQLiteBackend) Ensure(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR IGNORE INTO transcripts (user_id) VALUES (?)`, key)
	return errors.Wrap(err, "sqlite backend: ensure transcript")
}

func (b *SQLiteBackend) Append(ctx context.Context, key string, msg chat.Message) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite backend: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO transcripts (user_id) VALUES (?)`, key); err != nil {
		return errors.Wrap(err, "sqlite backend: ensure transcript")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (user_id, sender, recipient, text, timestamp_ms) VALUES (?, ?, ?, ?, ?)`,
		key, msg.Sender.String(), msg.Recipient.String(), msg.Text, msg.Timestamp,
	); err != nil {
		return errors.Wrap(err, "sqlite backend: insert message")
	}
	return errors.Wrap(tx.Commit(), "sqlite backend: commit")
}

func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
