// Package ruleservice implements keyword rule administration on top of the
// rule store, keeping the active rule set in step with every mutation.
package ruleservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tgmonitor/internal/apperr"
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/rulestore"
)

// Refresher reloads the active rule set.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Service coordinates rule validation, storage and cache refresh.
type Service struct {
	store  rulestore.Store
	cache  Refresher
	logger *slog.Logger
}

// NewService creates a new rule service.
func NewService(store rulestore.Store, cache Refresher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// BatchResult reports what a batch add stored and what it skipped as
// duplicates.
type BatchResult struct {
	Added   []models.KeywordRule `json:"added"`
	Skipped []models.KeywordRule `json:"skipped"`
}

// Validate checks a normalized rule.
func Validate(r models.KeywordRule) error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.Required, validation.Length(1, 1024), validation.By(notBlank),
			validation.When(r.MatchType == models.MatchRegex, validation.By(validPattern))),
		validation.Field(&r.MatchType, validation.Required, validation.In(
			models.MatchFullWord, models.MatchContains, models.MatchRegex, models.MatchFuzzy, models.MatchUser)),
		validation.Field(&r.Action, validation.Required, validation.In(models.ActionMonitor, models.ActionExclude)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}

func notBlank(v any) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}

func validPattern(v any) error {
	s, _ := v.(string)
	if _, err := regexp.Compile(s); err != nil {
		return errors.New("must be a valid regular expression")
	}
	return nil
}

// List returns all stored rules.
func (s *Service) List(ctx context.Context) ([]models.KeywordRule, error) {
	rules, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []models.KeywordRule{}
	}
	return rules, nil
}

// Get returns one rule.
func (s *Service) Get(ctx context.Context, id int64) (models.KeywordRule, error) {
	return s.store.Get(ctx, id)
}

// Create validates and stores a rule. A rule with the same match type and
// content (case-insensitively) yields apperr.ErrAlreadyExists.
func (s *Service) Create(ctx context.Context, r models.KeywordRule) (models.KeywordRule, error) {
	r = r.Normalize()
	if err := Validate(r); err != nil {
		return models.KeywordRule{}, err
	}
	existing, err := s.store.List(ctx)
	if err != nil {
		return models.KeywordRule{}, err
	}
	if dup, ok := findDuplicate(existing, r, 0); ok {
		return models.KeywordRule{}, fmt.Errorf("rule %d %q: %w", dup.ID, dup.Content, apperr.ErrAlreadyExists)
	}
	stored, err := s.store.Insert(ctx, r)
	if err != nil {
		return models.KeywordRule{}, err
	}
	s.refresh(ctx)
	return stored, nil
}

// CreateBatch stores every rule that is not a duplicate of a stored rule or
// of an earlier rule in the batch. It fails with apperr.ErrAlreadyExists only
// when every rule was a duplicate.
func (s *Service) CreateBatch(ctx context.Context, rules []models.KeywordRule) (BatchResult, error) {
	if len(rules) == 0 {
		return BatchResult{}, fmt.Errorf("%w: no rules given", apperr.ErrInvalidInput)
	}
	normalized := make([]models.KeywordRule, len(rules))
	for i, r := range rules {
		r = r.Normalize()
		if err := Validate(r); err != nil {
			return BatchResult{}, fmt.Errorf("rule %d: %w", i, err)
		}
		normalized[i] = r
	}

	existing, err := s.store.List(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	var res BatchResult
	var fresh []models.KeywordRule
	for _, r := range normalized {
		if _, ok := findDuplicate(existing, r, 0); ok {
			res.Skipped = append(res.Skipped, r)
			continue
		}
		existing = append(existing, r)
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return res, fmt.Errorf("all %d rules: %w", len(rules), apperr.ErrAlreadyExists)
	}
	res.Added, err = s.store.InsertBatch(ctx, fresh)
	if err != nil {
		return BatchResult{}, err
	}
	s.refresh(ctx)
	return res, nil
}

// Update replaces a stored rule. It rejects a change that would collide with
// another rule.
func (s *Service) Update(ctx context.Context, r models.KeywordRule) (models.KeywordRule, error) {
	r = r.Normalize()
	if err := Validate(r); err != nil {
		return models.KeywordRule{}, err
	}
	if _, err := s.store.Get(ctx, r.ID); err != nil {
		return models.KeywordRule{}, err
	}
	existing, err := s.store.List(ctx)
	if err != nil {
		return models.KeywordRule{}, err
	}
	if dup, ok := findDuplicate(existing, r, r.ID); ok {
		return models.KeywordRule{}, fmt.Errorf("rule %d %q: %w", dup.ID, dup.Content, apperr.ErrAlreadyExists)
	}
	updated, err := s.store.Update(ctx, r)
	if err != nil {
		return models.KeywordRule{}, err
	}
	s.refresh(ctx)
	return updated, nil
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

// DeleteBatch removes rules by id and returns how many were removed.
func (s *Service) DeleteBatch(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no ids given", apperr.ErrInvalidInput)
	}
	n, err := s.store.DeleteBatch(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.refresh(ctx)
	}
	return n, nil
}

// refresh reloads the cache after a mutation. Failures are logged; the
// periodic refresh catches up.
func (s *Service) refresh(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Refresh(ctx); err != nil {
		s.logger.Warn("ruleservice: cache refresh failed", slog.String("error", err.Error()))
	}
}

func findDuplicate(rules []models.KeywordRule, r models.KeywordRule, ignoreID int64) (models.KeywordRule, bool) {
	for _, e := range rules {
		if ignoreID != 0 && e.ID == ignoreID {
			continue
		}
		if e.SameKey(r) {
			return e, true
		}
	}
	return models.KeywordRule{}, false
}
