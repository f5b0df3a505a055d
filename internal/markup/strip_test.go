package markup

import (
	"reflect"
	"testing"
)

func TestStrip(t *testing.T) {
	text, links := Strip(`<b>Hi</b> <a href="tg://user?id=42">Bob &amp; co</a>, see <a href="https://t.me/x?a=1&amp;b=2">x</a>`)
	if text != "Hi Bob & co, see x" {
		t.Errorf("text = %q", text)
	}
	want := []Link{
		{Href: "tg://user?id=42", Offset: 3, Length: 8},
		{Href: "https://t.me/x?a=1&b=2", Offset: 17, Length: 1},
	}
	if !reflect.DeepEqual(links, want) {
		t.Errorf("links = %+v, want %+v", links, want)
	}
}

func TestStripHrefDecodesOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		_, links := Strip(`<a href="https://t.me/x?q=&amp;lt;b&amp;gt;&amp;amp;">x</a>`)
		if len(links) != 1 || links[0].Href != "https://t.me/x?q=&lt;b&gt;&amp;" {
			t.Fatalf("links = %+v", links)
		}
	}
}

func TestStripUTF16Offsets(t *testing.T) {
	text, links := Strip(`😀你 <a href="tg://user?id=1">名</a>`)
	if text != "😀你 名" {
		t.Errorf("text = %q", text)
	}
	if len(links) != 1 || links[0].Offset != 4 || links[0].Length != 1 {
		t.Errorf("links = %+v", links)
	}
}

func TestStripRoundTripsEscape(t *testing.T) {
	in := `a < b & "c" > d`
	if got, _ := Strip(Escape(in)); got != in {
		t.Errorf("Strip(Escape(%q)) = %q", in, got)
	}
}

func TestStripUnterminated(t *testing.T) {
	text, links := Strip("x <b unterminated & y")
	if text != "x <b unterminated & y" || links != nil {
		t.Errorf("got %q, %v", text, links)
	}
}

func TestUTF16Len(t *testing.T) {
	if n := UTF16Len("a😀你"); n != 4 {
		t.Errorf("UTF16Len = %d, want 4", n)
	}
}
