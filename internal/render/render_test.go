package render

import (
	"strings"
	"testing"
	"time"

	"github.com/starford/tgmonitor/internal/models"
)

var allStyles = []models.Style{
	{},
	{Bold: true},
	{Italic: true, Quote: true},
	{Spoiler: true, Monospace: true},
	{Underline: true, Strikethrough: true, Bold: true},
	{Bold: true, Italic: true, Underline: true, Strikethrough: true, Quote: true, Monospace: true, Spoiler: true},
}

func TestMergeStylesCommutativeAndAssociative(t *testing.T) {
	for _, a := range allStyles {
		for _, b := range allStyles {
			ab := ApplyStyle("x", MergeStyles([]models.KeywordRule{{Style: a}, {Style: b}}))
			ba := ApplyStyle("x", MergeStyles([]models.KeywordRule{{Style: b}, {Style: a}}))
			if ab != ba {
				t.Errorf("merge not commutative for %+v, %+v: %q vs %q", a, b, ab, ba)
			}
			for _, c := range allStyles {
				left := a.Or(b).Or(c)
				right := a.Or(b.Or(c))
				if left != right {
					t.Errorf("merge not associative for %+v %+v %+v", a, b, c)
				}
			}
		}
	}
}

func TestApplyStyleNestingOrder(t *testing.T) {
	all := models.Style{Bold: true, Italic: true, Underline: true, Strikethrough: true, Quote: true, Monospace: true, Spoiler: true}
	got := ApplyStyle("body", all)
	want := "<blockquote><s><u><i><b><code><tg-spoiler>body</tg-spoiler></code></b></i></u></s></blockquote>"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
	if got := ApplyStyle("body", models.Style{}); got != "body" {
		t.Errorf("empty style changed body: %q", got)
	}
}

func sampleInput() Input {
	return Input{
		Rules: []models.KeywordRule{
			{Content: "你好世界", Style: models.Style{Bold: true}},
			{Content: "a<b", Style: models.Style{Italic: true}},
		},
		Body: "今天你好世界啊",
		Sender: models.PeerRecord{
			ID: 1001, Kind: models.PeerUser, FirstName: "Eve", LastName: "<script>",
			Usernames: []string{"eve", "eve2"}, Complete: true,
		},
		Origin: models.PeerRecord{
			ID: 2002, Kind: models.PeerChannel, Title: `Deals & "Steals"`,
			Usernames: []string{"deals"}, Complete: true,
		},
		Date:          time.Date(2024, 3, 1, 16, 30, 0, 0, time.UTC),
		MessageID:     55,
		Advertisement: "Join <now>",
	}
}

func TestEnvelope(t *testing.T) {
	got := Envelope(sampleInput())
	want := strings.Join([]string{
		"<b>Keywords:</b> #你好世界, #a&lt;b",
		"Sender ID: <code>1001</code>",
		`Sender: <a href="tg://user?id=1001">Eve &lt;script&gt;</a>  @eve @eve2`,
		"Source: <code>[Deals &amp; &quot;Steals&quot;]</code>  @deals",
		"Time: <code>2024-03-02 00:30:00</code>",
		"Content: <i><b>今天你好世界啊</b></i>",
		`Link: <a href="https://t.me/deals/55">[Open]</a>`,
		Separator,
		"<b>Join &lt;now&gt;</b>",
	}, "\n")
	if got != want {
		t.Errorf("got:\n%s\n\nwant:\n%s", got, want)
	}
}

func TestEnvelopeDeterministic(t *testing.T) {
	first := Envelope(sampleInput())
	for i := 0; i < 20; i++ {
		if got := Envelope(sampleInput()); got != first {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestEnvelopeWithoutUsernamesOrAd(t *testing.T) {
	in := sampleInput()
	in.Sender = models.PeerRecord{ID: 7, Kind: models.PeerUser}
	in.Origin = models.PeerRecord{ID: 1234567, Kind: models.PeerSmallGroup, Title: "Friends"}
	in.Advertisement = "   "

	got := Envelope(in)
	for _, want := range []string{
		`Sender: <a href="tg://user?id=7">7</a>` + "\n",
		"Source: <code>[Friends]</code>  none\n",
		`<a href="https://t.me/c/1234567/55">`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("envelope missing %q:\n%s", want, got)
		}
	}
	if !strings.HasSuffix(got, Separator+"\n") {
		t.Errorf("envelope should end with separator when no ad:\n%s", got)
	}
}

func TestEnvelopeChannelSender(t *testing.T) {
	in := sampleInput()
	in.Sender = models.PeerRecord{ID: 2002, Kind: models.PeerChannel, Broadcast: true, Title: "News", Usernames: []string{"news"}}
	got := Envelope(in)
	if !strings.Contains(got, `Sender: <a href="https://t.me/news">News</a>  @news`) {
		t.Errorf("channel sender line wrong:\n%s", got)
	}
}

func TestEnvelopeKeywordTag(t *testing.T) {
	in := sampleInput()
	in.Rules = []models.KeywordRule{{Content: "你好世界"}}
	if got := Envelope(in); !strings.Contains(got, "#你好世界") {
		t.Errorf("keyword tag missing:\n%s", got)
	}
}
