package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/tgmonitor/internal/apperr"
	"github.com/starford/tgmonitor/internal/models"
)

const selectCols = `id, content, match_type, action, case_sensitive, style, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (models.KeywordRule, error) {
	var (
		r     models.KeywordRule
		mt    string
		act   string
		style string
	)
	if err := s.Scan(&r.ID, &r.Content, &mt, &act, &r.CaseSensitive, &style, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return models.KeywordRule{}, err
	}
	r.MatchType = models.ParseMatchType(mt)
	r.Action = models.ParseAction(act)
	_ = json.Unmarshal([]byte(style), &r.Style)
	return r, nil
}

// List returns every stored rule ordered by id.
func (db *DB) List(ctx context.Context) ([]models.KeywordRule, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+selectCols+` FROM keyword_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("rulestore: list: %w", err)
	}
	defer rows.Close()

	var out []models.KeywordRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("rulestore: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one rule, or apperr.ErrNotFound.
func (db *DB) Get(ctx context.Context, id int64) (models.KeywordRule, error) {
	r, err := scanRule(db.conn.QueryRowContext(ctx, `SELECT `+selectCols+` FROM keyword_rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.KeywordRule{}, fmt.Errorf("rulestore: rule %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.KeywordRule{}, fmt.Errorf("rulestore: get: %w", err)
	}
	return r, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, ex execer, r models.KeywordRule, now time.Time) (models.KeywordRule, error) {
	style, _ := json.Marshal(r.Style)
	res, err := ex.ExecContext(ctx, `
		INSERT INTO keyword_rules (content, match_type, action, case_sensitive, style, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.Content, string(r.MatchType), string(r.Action), r.CaseSensitive, string(style), now, now)
	if err != nil {
		return models.KeywordRule{}, fmt.Errorf("rulestore: insert: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return models.KeywordRule{}, fmt.Errorf("rulestore: insert id: %w", err)
	}
	r.CreatedAt, r.UpdatedAt = now, now
	return r, nil
}

// Insert stores a new rule and returns it with its id and timestamps.
func (db *DB) Insert(ctx context.Context, r models.KeywordRule) (models.KeywordRule, error) {
	return insert(ctx, db.conn, r, time.Now().UTC())
}

// InsertBatch stores rules in one transaction.
func (db *DB) InsertBatch(ctx context.Context, rules []models.KeywordRule) ([]models.KeywordRule, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("rulestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	now := time.Now().UTC()
	out := make([]models.KeywordRule, 0, len(rules))
	for _, r := range rules {
		stored, err := insert(ctx, tx, r, now)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("rulestore: commit: %w", err)
	}
	return out, nil
}

// Update overwrites a rule by id, or returns apperr.ErrNotFound.
func (db *DB) Update(ctx context.Context, r models.KeywordRule) (models.KeywordRule, error) {
	style, _ := json.Marshal(r.Style)
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE keyword_rules SET
			content        = ?,
			match_type     = ?,
			action         = ?,
			case_sensitive = ?,
			style          = ?,
			updated_at     = ?
		WHERE id = ?
	`, r.Content, string(r.MatchType), string(r.Action), r.CaseSensitive, string(style), now, r.ID)
	if err != nil {
		return models.KeywordRule{}, fmt.Errorf("rulestore: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.KeywordRule{}, fmt.Errorf("rulestore: rule %d: %w", r.ID, apperr.ErrNotFound)
	}
	return db.Get(ctx, r.ID)
}

// Delete removes a rule by id, or returns apperr.ErrNotFound.
func (db *DB) Delete(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM keyword_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("rulestore: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rulestore: rule %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// DeleteBatch removes every listed id and returns how many existed.
func (db *DB) DeleteBatch(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	res, err := db.conn.ExecContext(ctx, `DELETE FROM keyword_rules WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("rulestore: delete batch: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SeedChecksum returns the checksum recorded for a seed file, or "" if the
// file was never imported.
func (db *DB) SeedChecksum(ctx context.Context, path string) (string, error) {
	var cs string
	err := db.conn.QueryRowContext(ctx, `SELECT checksum FROM seed_files WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("rulestore: seed checksum: %w", err)
	}
	return cs, nil
}

// SetSeedChecksum records the checksum of an imported seed file.
func (db *DB) SetSeedChecksum(ctx context.Context, path, sum string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO seed_files (path, checksum) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET checksum = excluded.checksum
	`, path, sum)
	if err != nil {
		return fmt.Errorf("rulestore: set seed checksum: %w", err)
	}
	return nil
}
