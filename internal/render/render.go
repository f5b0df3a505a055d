// Package render turns a forwarded decision into the HTML notification sent
// to the destination chat.
package render

import (
	"strconv"
	"strings"
	"time"

	"github.com/starford/tgmonitor/internal/markup"
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/protocol"
)

// Separator closes every envelope before the advertisement line.
const Separator = "--------------------------------"

const timeLayout = "2006-01-02 15:04:05"

// displayZone is the fixed offset all timestamps are rendered in.
var displayZone = time.FixedZone("UTC+8", 8*60*60)

// Notification is a rendered message ready for delivery.
type Notification struct {
	ID    string
	HTML  string
	Media *protocol.Media
}

// MergeStyles ORs every flag across rules.
func MergeStyles(rules []models.KeywordRule) models.Style {
	var s models.Style
	for _, r := range rules {
		s = s.Or(r.Style)
	}
	return s
}

// ApplyStyle wraps body in the tags selected by s. Nesting from the inside
// out is spoiler, monospace, bold, italic, underline, strikethrough, quote.
func ApplyStyle(body string, s models.Style) string {
	wrap := func(on bool, open, close string) {
		if on {
			body = open + body + close
		}
	}
	wrap(s.Spoiler, "<tg-spoiler>", "</tg-spoiler>")
	wrap(s.Monospace, "<code>", "</code>")
	wrap(s.Bold, "<b>", "</b>")
	wrap(s.Italic, "<i>", "</i>")
	wrap(s.Underline, "<u>", "</u>")
	wrap(s.Strikethrough, "<s>", "</s>")
	wrap(s.Quote, "<blockquote>", "</blockquote>")
	return body
}

// Input is everything the envelope is built from. Body is already Telegram
// HTML; every other string is escaped here.
type Input struct {
	Rules         []models.KeywordRule
	Body          string
	Sender        models.PeerRecord
	Origin        models.PeerRecord
	Date          time.Time
	MessageID     int
	Advertisement string
}

// Envelope renders the full notification text. Identical inputs always give
// identical output.
func Envelope(in Input) string {
	var sb strings.Builder

	sb.WriteString("<b>Keywords:</b> ")
	for i, r := range in.Rules {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("#" + markup.Escape(r.Content))
	}
	sb.WriteByte('\n')

	sb.WriteString("Sender ID: <code>" + strconv.FormatInt(in.Sender.ID, 10) + "</code>\n")
	sb.WriteString("Sender: " + senderLink(in.Sender))
	if names := joinUsernames(in.Sender.Usernames); names != "" {
		sb.WriteString("  " + names)
	}
	sb.WriteByte('\n')

	origin := "none"
	if main := in.Origin.MainUsername(); main != "" {
		origin = "@" + markup.Escape(main)
	}
	sb.WriteString("Source: <code>[" + markup.Escape(in.Origin.DisplayName()) + "]</code>  " + origin + "\n")
	sb.WriteString("Time: <code>" + in.Date.In(displayZone).Format(timeLayout) + "</code>\n")
	sb.WriteString("Content: " + ApplyStyle(in.Body, MergeStyles(in.Rules)) + "\n")
	sb.WriteString(`Link: <a href="` + Permalink(in.Origin, in.MessageID) + `">[Open]</a>` + "\n")
	sb.WriteString(Separator + "\n")

	if ad := strings.TrimSpace(in.Advertisement); ad != "" {
		sb.WriteString("<b>" + markup.Escape(ad) + "</b>")
	}
	return sb.String()
}

// Permalink addresses a message by the origin's main username, or by its
// numeric id when it has none.
func Permalink(origin models.PeerRecord, messageID int) string {
	path := "c/" + strconv.FormatInt(origin.ID, 10)
	if main := origin.MainUsername(); main != "" {
		path = markup.Escape(main)
	}
	return "https://t.me/" + path + "/" + strconv.Itoa(messageID)
}

func senderLink(p models.PeerRecord) string {
	name := p.DisplayName()
	if name == "" {
		name = strconv.FormatInt(p.ID, 10)
	}
	name = markup.Escape(name)
	switch {
	case p.Kind == models.PeerUser:
		return `<a href="tg://user?id=` + strconv.FormatInt(p.ID, 10) + `">` + name + "</a>"
	case p.MainUsername() != "":
		return `<a href="https://t.me/` + markup.Escape(p.MainUsername()) + `">` + name + "</a>"
	default:
		return name
	}
}

func joinUsernames(names []string) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimPrefix(n, "@"); n != "" {
			parts = append(parts, "@"+markup.Escape(n))
		}
	}
	return strings.Join(parts, " ")
}
