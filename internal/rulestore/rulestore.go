// Package rulestore persists keyword rules in SQLite.
package rulestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/tgmonitor/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS keyword_rules (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	content        TEXT NOT NULL,
	match_type     TEXT NOT NULL DEFAULT 'contains',
	action         TEXT NOT NULL DEFAULT 'monitor',
	case_sensitive INTEGER NOT NULL DEFAULT 0,
	style          TEXT NOT NULL DEFAULT '{}',
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_keyword_rules_type ON keyword_rules(match_type);

CREATE TABLE IF NOT EXISTS seed_files (
	path     TEXT PRIMARY KEY,
	checksum TEXT NOT NULL DEFAULT ''
);
`

// Store defines the rule persistence operations. Consumers should depend on
// this interface rather than the concrete *DB type.
type Store interface {
	List(ctx context.Context) ([]models.KeywordRule, error)
	Get(ctx context.Context, id int64) (models.KeywordRule, error)
	Insert(ctx context.Context, r models.KeywordRule) (models.KeywordRule, error)
	InsertBatch(ctx context.Context, rules []models.KeywordRule) ([]models.KeywordRule, error)
	Update(ctx context.Context, r models.KeywordRule) (models.KeywordRule, error)
	Delete(ctx context.Context, id int64) error
	DeleteBatch(ctx context.Context, ids []int64) (int, error)
	SeedChecksum(ctx context.Context, path string) (string, error)
	SetSeedChecksum(ctx context.Context, path, sum string) error
	Close() error
}

var _ Store = (*DB)(nil)

// DB wraps a sql.DB with rule-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("rulestore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rulestore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rulestore: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
