// Package markup implements the Telegram HTML dialect used for notifications.
package markup

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// Escape replaces the characters Telegram HTML reserves.
func Escape(s string) string {
	return escaper.Replace(s)
}

// EntityType names an inline rich-text span kind.
type EntityType string

const (
	EntityBold          EntityType = "bold"
	EntityItalic        EntityType = "italic"
	EntityUnderline     EntityType = "underline"
	EntityStrikethrough EntityType = "strikethrough"
	EntitySpoiler       EntityType = "spoiler"
	EntityCode          EntityType = "code"
	EntityPre           EntityType = "pre"
	EntityBlockquote    EntityType = "blockquote"
	EntityTextURL       EntityType = "text_url"
	EntityMentionName   EntityType = "mention_name"
)

// Entity is a formatting span over a message text. Offset and Length count
// UTF-16 code units, as the protocol does.
type Entity struct {
	Type     EntityType `json:"type"`
	Offset   int        `json:"offset"`
	Length   int        `json:"length"`
	URL      string     `json:"url,omitempty"`
	UserID   int64      `json:"user_id,omitempty"`
	Language string     `json:"language,omitempty"`
}

func (e Entity) end() int { return e.Offset + e.Length }

func (e Entity) open() string {
	switch e.Type {
	case EntityBold:
		return "<b>"
	case EntityItalic:
		return "<i>"
	case EntityUnderline:
		return "<u>"
	case EntityStrikethrough:
		return "<s>"
	case EntitySpoiler:
		return "<tg-spoiler>"
	case EntityCode:
		return "<code>"
	case EntityPre:
		if e.Language != "" {
			return fmt.Sprintf(`<pre><code class="language-%s">`, Escape(e.Language))
		}
		return "<pre>"
	case EntityBlockquote:
		return "<blockquote>"
	case EntityTextURL:
		return `<a href="` + Escape(e.URL) + `">`
	case EntityMentionName:
		return fmt.Sprintf(`<a href="tg://user?id=%d">`, e.UserID)
	}
	return ""
}

func (e Entity) close() string {
	switch e.Type {
	case EntityBold:
		return "</b>"
	case EntityItalic:
		return "</i>"
	case EntityUnderline:
		return "</u>"
	case EntityStrikethrough:
		return "</s>"
	case EntitySpoiler:
		return "</tg-spoiler>"
	case EntityCode:
		return "</code>"
	case EntityPre:
		if e.Language != "" {
			return "</code></pre>"
		}
		return "</pre>"
	case EntityBlockquote:
		return "</blockquote>"
	case EntityTextURL, EntityMentionName:
		return "</a>"
	}
	return ""
}

// EntitiesToHTML expands text plus its entity spans into escaped Telegram
// HTML. Unknown entity types and spans outside the text are ignored; the
// text itself is always kept.
func EntitiesToHTML(text string, entities []Entity) string {
	units := utf16.Encode([]rune(text))

	spans := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Length <= 0 || e.Offset < 0 || e.end() > len(units) || e.open() == "" {
			continue
		}
		spans = append(spans, e)
	}
	if len(spans) == 0 {
		return Escape(text)
	}
	// Outer spans first: earliest start, then longest.
	slices.SortStableFunc(spans, func(a, b Entity) int {
		if a.Offset != b.Offset {
			return a.Offset - b.Offset
		}
		return b.Length - a.Length
	})

	var (
		sb    strings.Builder
		stack []Entity
		next  int
		last  int
	)
	flush := func(to int) {
		if to > last {
			sb.WriteString(Escape(string(utf16.Decode(units[last:to]))))
			last = to
		}
	}
	for pos := 0; pos <= len(units); pos++ {
		closing := false
		for len(stack) > 0 && stack[len(stack)-1].end() == pos {
			if !closing {
				flush(pos)
				closing = true
			}
			sb.WriteString(stack[len(stack)-1].close())
			stack = stack[:len(stack)-1]
		}
		for next < len(spans) && spans[next].Offset == pos {
			e := spans[next]
			next++
			// Drop spans that would cross an open one.
			if len(stack) > 0 && e.end() > stack[len(stack)-1].end() {
				continue
			}
			flush(pos)
			sb.WriteString(e.open())
			stack = append(stack, e)
		}
	}
	flush(len(units))
	return sb.String()
}
