// Package matcher decides whether a message or its sender should be relayed.
//
// A RuleSet is compiled once per rule refresh and is immutable afterwards, so
// it can be shared by the dispatcher and admin readers without locking.
package matcher

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/tgmonitor/internal/models"
)

type compiled struct {
	rule   models.KeywordRule
	folded string         // lowercased content, used when not case sensitive
	parts  []string       // fuzzy sub-terms, already folded when needed
	re     *regexp.Regexp // nil for non-regex rules and for patterns that failed to compile
	user   string         // user rule content without the leading "@"
}

// RuleSet is an immutable, precompiled set of keyword rules.
type RuleSet struct {
	users   []compiled
	content []compiled
}

// Compile normalizes rules, drops the ones with empty content and precompiles
// regex patterns. A pattern that fails to compile is logged here and the rule
// never matches.
func Compile(rules []models.KeywordRule, logger *slog.Logger) *RuleSet {
	if logger == nil {
		logger = slog.Default()
	}
	rs := &RuleSet{}
	for _, r := range rules {
		r = r.Normalize()
		if r.Blank() {
			continue
		}
		c := compiled{rule: r, folded: strings.ToLower(r.Content)}
		switch r.MatchType {
		case models.MatchUser:
			c.user = strings.TrimPrefix(strings.TrimSpace(r.Content), "@")
			rs.users = append(rs.users, c)
			continue
		case models.MatchRegex:
			pattern := r.Content
			if !r.CaseSensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				logger.Warn("matcher: invalid regex rule",
					slog.Int64("rule_id", r.ID),
					slog.String("pattern", r.Content),
					slog.String("error", err.Error()),
				)
			}
			c.re = re
		case models.MatchFuzzy:
			for _, p := range strings.Split(r.Content, "?") {
				p = strings.TrimSpace(p)
				if p == "" {
					continue
				}
				if !r.CaseSensitive {
					p = strings.ToLower(p)
				}
				c.parts = append(c.parts, p)
			}
		}
		rs.content = append(rs.content, c)
	}
	return rs
}

// Len returns the number of usable rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.users) + len(rs.content)
}

// Rules returns the usable rules in load order, user rules first.
func (rs *RuleSet) Rules() []models.KeywordRule {
	if rs == nil {
		return nil
	}
	out := make([]models.KeywordRule, 0, rs.Len())
	for _, c := range rs.users {
		out = append(out, c.rule)
	}
	for _, c := range rs.content {
		out = append(out, c.rule)
	}
	return out
}

// MatchUser returns the user rules that match the sender. A rule matches when
// its content, without a leading "@", equals the sender id or any of the
// sender's usernames (case-insensitively, "@" stripped as well).
func (rs *RuleSet) MatchUser(id int64, usernames []string) []models.KeywordRule {
	if rs == nil {
		return nil
	}
	idStr := strconv.FormatInt(id, 10)
	var out []models.KeywordRule
	for _, c := range rs.users {
		if c.user == "" {
			continue
		}
		if c.user == idStr || anyUsername(usernames, c.user) {
			out = append(out, c.rule)
		}
	}
	return out
}

func anyUsername(usernames []string, want string) bool {
	for _, u := range usernames {
		if strings.EqualFold(strings.TrimPrefix(u, "@"), want) {
			return true
		}
	}
	return false
}

// MatchText returns the non-user rules that match body.
func (rs *RuleSet) MatchText(body string) []models.KeywordRule {
	if rs == nil || strings.TrimSpace(body) == "" {
		return nil
	}
	folded := strings.ToLower(body)
	var out []models.KeywordRule
	for _, c := range rs.content {
		if c.match(body, folded) {
			out = append(out, c.rule)
		}
	}
	return out
}

func (c compiled) match(body, folded string) bool {
	cs := c.rule.CaseSensitive
	switch c.rule.MatchType {
	case models.MatchFullWord:
		if cs {
			return body == c.rule.Content
		}
		return strings.EqualFold(body, c.rule.Content)
	case models.MatchContains:
		if cs {
			return strings.Contains(body, c.rule.Content)
		}
		return strings.Contains(folded, c.folded)
	case models.MatchRegex:
		return c.re != nil && c.re.MatchString(body)
	case models.MatchFuzzy:
		if len(c.parts) == 0 {
			return false
		}
		target := body
		if !cs {
			target = folded
		}
		for _, p := range c.parts {
			if !strings.Contains(target, p) {
				return false
			}
		}
		return true
	}
	return false
}
