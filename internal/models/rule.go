// Package models defines the domain types for tgmonitor.
package models

import (
	"strconv"
	"strings"
	"time"
)

// MatchType selects how a rule's content is compared against a message or sender.
type MatchType string

const (
	MatchFullWord MatchType = "full_word"
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
	MatchFuzzy    MatchType = "fuzzy"
	MatchUser     MatchType = "user"
)

// legacy numeric order used by older keyword files.
var matchTypeOrder = []MatchType{MatchFullWord, MatchContains, MatchRegex, MatchFuzzy, MatchUser}

// ParseMatchType accepts a name (case-insensitive, with or without the
// underscore) or a legacy ordinal. Anything else yields MatchContains.
func ParseMatchType(s string) MatchType {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for _, mt := range matchTypeOrder {
		if norm == strings.ReplaceAll(string(mt), "_", "") {
			return mt
		}
	}
	if n, err := strconv.Atoi(norm); err == nil && n >= 0 && n < len(matchTypeOrder) {
		return matchTypeOrder[n]
	}
	return MatchContains
}

// Valid reports whether mt is one of the known match types.
func (mt MatchType) Valid() bool {
	for _, known := range matchTypeOrder {
		if mt == known {
			return true
		}
	}
	return false
}

// UnmarshalText lets YAML and JSON decoders apply the lenient parsing.
func (mt *MatchType) UnmarshalText(b []byte) error {
	*mt = ParseMatchType(string(b))
	return nil
}

// Action decides what a matching rule does with the message.
type Action string

const (
	ActionMonitor Action = "monitor"
	ActionExclude Action = "exclude"
)

// ParseAction accepts "monitor"/"exclude" or the legacy ordinals 1/0.
// Anything else yields ActionMonitor.
func ParseAction(s string) Action {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exclude", "0":
		return ActionExclude
	default:
		return ActionMonitor
	}
}

// UnmarshalText lets YAML and JSON decoders apply the lenient parsing.
func (a *Action) UnmarshalText(b []byte) error {
	*a = ParseAction(string(b))
	return nil
}

// Style is the set of markup flags a rule applies to the relayed body.
type Style struct {
	Bold          bool `json:"bold"          yaml:"bold"`
	Italic        bool `json:"italic"        yaml:"italic"`
	Underline     bool `json:"underline"     yaml:"underline"`
	Strikethrough bool `json:"strikethrough" yaml:"strikethrough"`
	Quote         bool `json:"quote"         yaml:"quote"`
	Monospace     bool `json:"monospace"     yaml:"monospace"`
	Spoiler       bool `json:"spoiler"       yaml:"spoiler"`
}

// Or returns the flag-wise union of s and o.
func (s Style) Or(o Style) Style {
	return Style{
		Bold:          s.Bold || o.Bold,
		Italic:        s.Italic || o.Italic,
		Underline:     s.Underline || o.Underline,
		Strikethrough: s.Strikethrough || o.Strikethrough,
		Quote:         s.Quote || o.Quote,
		Monospace:     s.Monospace || o.Monospace,
		Spoiler:       s.Spoiler || o.Spoiler,
	}
}

// KeywordRule is one matching pattern with its action and style.
type KeywordRule struct {
	ID            int64     `json:"id"             yaml:"id,omitempty"`
	Content       string    `json:"content"        yaml:"content"`
	MatchType     MatchType `json:"match_type"     yaml:"match_type"`
	Action        Action    `json:"action"         yaml:"action"`
	CaseSensitive bool      `json:"case_sensitive" yaml:"case_sensitive"`
	Style         Style     `json:"style"          yaml:"style"`
	CreatedAt     time.Time `json:"created_at"     yaml:"-"`
	UpdatedAt     time.Time `json:"updated_at"     yaml:"-"`
}

// Normalize replaces unknown enum values with defaults. Content is kept
// as written; surrounding spaces are part of the pattern.
func (r KeywordRule) Normalize() KeywordRule {
	if !r.MatchType.Valid() {
		r.MatchType = ParseMatchType(string(r.MatchType))
	}
	if r.Action != ActionMonitor && r.Action != ActionExclude {
		r.Action = ParseAction(string(r.Action))
	}
	return r
}

// Blank reports whether the content is empty or only whitespace. Blank rules
// are ignored.
func (r KeywordRule) Blank() bool {
	return strings.TrimSpace(r.Content) == ""
}

// SameKey reports whether two rules collide: same match type and content
// compared case-insensitively.
func (r KeywordRule) SameKey(o KeywordRule) bool {
	return r.MatchType == o.MatchType && strings.EqualFold(r.Content, o.Content)
}
