package markup

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Link is an anchor found by Strip. Offset and Length are UTF-16 units of
// the stripped text.
type Link struct {
	Href   string
	Offset int
	Length int
}

var entityRunes = map[string]rune{
	"&amp;":  '&',
	"&lt;":   '<',
	"&gt;":   '>',
	"&quot;": '"',
	"&#39;":  '\'',
}

// Strip removes tags from Telegram HTML, decodes the escapes Escape produces
// and reports every <a href> anchor with its position in the plain text.
func Strip(html string) (string, []Link) {
	var (
		sb    strings.Builder
		links []Link
		open  *Link
		pos   int
	)
	for i := 0; i < len(html); {
		switch html[i] {
		case '<':
			j := strings.IndexByte(html[i:], '>')
			if j < 0 {
				sb.WriteString(html[i:])
				pos += len(utf16.Encode([]rune(html[i:])))
				i = len(html)
				continue
			}
			tag := html[i+1 : i+j]
			switch {
			case strings.HasPrefix(tag, "a "):
				open = &Link{Href: unescape(attr(tag, "href")), Offset: pos}
			case tag == "/a" && open != nil:
				open.Length = pos - open.Offset
				links = append(links, *open)
				open = nil
			}
			i += j + 1
		case '&':
			if j := strings.IndexByte(html[i:], ';'); j > 0 {
				if r, ok := entityRunes[html[i:i+j+1]]; ok {
					sb.WriteRune(r)
					pos++
					i += j + 1
					continue
				}
			}
			sb.WriteByte('&')
			pos++
			i++
		default:
			r, size := utf8.DecodeRuneInString(html[i:])
			sb.WriteRune(r)
			pos += utf16.RuneLen(r)
			i += size
		}
	}
	return sb.String(), links
}

func attr(tag, name string) string {
	key := name + `="`
	k := strings.Index(tag, key)
	if k < 0 {
		return ""
	}
	rest := tag[k+len(key):]
	if end := strings.IndexByte(rest, '"'); end >= 0 {
		return rest[:end]
	}
	return rest
}

// unescaper decodes in a single pass, so "&amp;lt;" becomes "&lt;".
var unescaper = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

func unescape(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return unescaper.Replace(s)
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
