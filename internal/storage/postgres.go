package storage

import (
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements storage using PostgreSQL
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore creates a new PostgreSQL storage
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store := &PostgresStore{sqlStore{db: db, logger: logger}}
	if err := store.initSchema(postgresSchema); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS sources (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS authors (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES sources(id),
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		UNIQUE (source_id, name)
	);

	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES sources(id),
		native_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		UNIQUE (source_id, native_id)
	);

	CREATE TABLE IF NOT EXISTS event_parents (
		event_id BIGINT NOT NULL REFERENCES events(id),
		parent_id BIGINT NOT NULL REFERENCES events(id),
		position INTEGER NOT NULL,
		PRIMARY KEY (event_id, parent_id)
	);

	CREATE TABLE IF NOT EXISTS event_authors (
		event_id BIGINT NOT NULL REFERENCES events(id),
		author_id BIGINT NOT NULL REFERENCES authors(id),
		PRIMARY KEY (event_id, author_id)
	);

	CREATE TABLE IF NOT EXISTS items (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES sources(id),
		path TEXT NOT NULL,
		UNIQUE (source_id, path)
	);

	CREATE TABLE IF NOT EXISTS actions (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES sources(id),
		event_id BIGINT NOT NULL REFERENCES events(id),
		parent_event_id BIGINT NOT NULL REFERENCES events(id),
		item_id BIGINT NOT NULL REFERENCES items(id),
		kind TEXT NOT NULL CHECK (kind IN ('Create', 'Edit', 'Delete', 'Unknown')),
		UNIQUE (event_id, parent_event_id, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_source ON events(source_id);
	CREATE INDEX IF NOT EXISTS idx_actions_source ON actions(source_id);
	CREATE INDEX IF NOT EXISTS idx_items_source ON items(source_id);
`
