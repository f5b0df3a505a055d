// Package ruleseed imports keyword rules from a YAML seed file and re-imports
// it whenever the file changes.
package ruleseed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/starford/tgmonitor/internal/apperr"
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/ruleservice"
)

// Importer stores a batch of rules, skipping duplicates.
type Importer interface {
	CreateBatch(ctx context.Context, rules []models.KeywordRule) (ruleservice.BatchResult, error)
}

// ChecksumStore remembers the last imported checksum per seed file.
type ChecksumStore interface {
	SeedChecksum(ctx context.Context, path string) (string, error)
	SetSeedChecksum(ctx context.Context, path, sum string) error
}

// File is the seed file layout.
type File struct {
	Keywords []models.KeywordRule `yaml:"keywords"`
}

// Result summarizes one import.
type Result struct {
	Path      string
	Unchanged bool
	Added     int
	Skipped   int
}

// Seeder imports one seed file.
type Seeder struct {
	path   string
	rules  Importer
	sums   ChecksumStore
	logger *slog.Logger
}

// New creates a Seeder for path.
func New(path string, rules Importer, sums ChecksumStore, logger *slog.Logger) *Seeder {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{path: path, rules: rules, sums: sums, logger: logger}
}

// Path returns the absolute seed file path.
func (s *Seeder) Path() string { return s.path }

// Import reads the seed file and stores its rules. A file whose checksum
// matches the last import is skipped. Rules already present are skipped.
func (s *Seeder) Import(ctx context.Context) (Result, error) {
	res := Result{Path: s.path}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return res, fmt.Errorf("ruleseed: read %s: %w", s.path, err)
	}

	sum := digest(data)
	prev, err := s.sums.SeedChecksum(ctx, s.path)
	if err != nil {
		return res, err
	}
	if prev == sum {
		res.Unchanged = true
		return res, nil
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return res, fmt.Errorf("ruleseed: parse %s: %w", s.path, err)
	}

	var usable []models.KeywordRule
	for _, r := range f.Keywords {
		r.ID = 0
		if r = r.Normalize(); r.Blank() {
			continue
		}
		usable = append(usable, r)
	}

	if len(usable) > 0 {
		batch, err := s.rules.CreateBatch(ctx, usable)
		if err != nil && !errors.Is(err, apperr.ErrAlreadyExists) {
			return res, fmt.Errorf("ruleseed: import %s: %w", s.path, err)
		}
		res.Added, res.Skipped = len(batch.Added), len(batch.Skipped)
	}

	if err := s.sums.SetSeedChecksum(ctx, s.path, sum); err != nil {
		return res, err
	}
	s.logger.Info("ruleseed: imported",
		slog.String("path", s.path),
		slog.Int("added", res.Added),
		slog.Int("skipped", res.Skipped))
	return res, nil
}

func digest(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
