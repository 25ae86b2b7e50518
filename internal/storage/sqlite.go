package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore implements storage using SQLite (for local/development)
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore creates a new SQLite storage. path may be ":memory:".
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	dsn := path + "?_foreign_keys=on"
	if path != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	// One writer at a time; this also keeps an in-memory database alive
	// on a single connection.
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store := &SQLiteStore{sqlStore{db: db, logger: logger}}
	if err := store.initSchema(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS authors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		UNIQUE (source_id, name),
		FOREIGN KEY (source_id) REFERENCES sources(id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL,
		native_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		UNIQUE (source_id, native_id),
		FOREIGN KEY (source_id) REFERENCES sources(id)
	);

	CREATE TABLE IF NOT EXISTS event_parents (
		event_id INTEGER NOT NULL,
		parent_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (event_id, parent_id),
		FOREIGN KEY (event_id) REFERENCES events(id),
		FOREIGN KEY (parent_id) REFERENCES events(id)
	);

	CREATE TABLE IF NOT EXISTS event_authors (
		event_id INTEGER NOT NULL,
		author_id INTEGER NOT NULL,
		PRIMARY KEY (event_id, author_id),
		FOREIGN KEY (event_id) REFERENCES events(id),
		FOREIGN KEY (author_id) REFERENCES authors(id)
	);

	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL,
		path TEXT NOT NULL,
		UNIQUE (source_id, path),
		FOREIGN KEY (source_id) REFERENCES sources(id)
	);

	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL,
		event_id INTEGER NOT NULL,
		parent_event_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		UNIQUE (event_id, parent_event_id, item_id),
		FOREIGN KEY (source_id) REFERENCES sources(id),
		FOREIGN KEY (event_id) REFERENCES events(id),
		FOREIGN KEY (parent_event_id) REFERENCES events(id),
		FOREIGN KEY (item_id) REFERENCES items(id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_source ON events(source_id);
	CREATE INDEX IF NOT EXISTS idx_actions_source ON actions(source_id);
	CREATE INDEX IF NOT EXISTS idx_items_source ON items(source_id);
`
