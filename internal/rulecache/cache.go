// Package rulecache holds the active compiled rule set.
package rulecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/starford/tgmonitor/internal/matcher"
	"github.com/starford/tgmonitor/internal/models"
)

// Source lists the stored rules.
type Source interface {
	List(ctx context.Context) ([]models.KeywordRule, error)
}

// Cache publishes a compiled RuleSet that is replaced wholesale on refresh.
// Readers never observe a partially built set.
type Cache struct {
	src    Source
	logger *slog.Logger
	active atomic.Pointer[matcher.RuleSet]
}

// New creates a cache holding an empty rule set.
func New(src Source, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{src: src, logger: logger}
	c.active.Store(matcher.Compile(nil, logger))
	return c
}

// Active returns the current rule set. It is never nil.
func (c *Cache) Active() *matcher.RuleSet {
	return c.active.Load()
}

// Refresh reloads rules from the source and swaps them in. On failure the
// previous set stays active.
func (c *Cache) Refresh(ctx context.Context) error {
	rules, err := c.src.List(ctx)
	if err != nil {
		return fmt.Errorf("rulecache: refresh: %w", err)
	}
	rs := matcher.Compile(rules, c.logger)
	c.active.Store(rs)
	c.logger.Debug("rulecache: refreshed", slog.Int("rules", rs.Len()))
	return nil
}
