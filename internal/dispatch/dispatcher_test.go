package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/tgmonitor/internal/delivery"
	"github.com/starford/tgmonitor/internal/matcher"
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/peers"
	"github.com/starford/tgmonitor/internal/protocol"
	"github.com/starford/tgmonitor/internal/sse"
	"github.com/starford/tgmonitor/internal/testutil"
)

const (
	selfID    = 1
	targetID  = 500
	channelID = 900
	groupID   = 700
	aliceID   = 42
)

type staticRules struct{ rs *matcher.RuleSet }

func (s staticRules) Active() *matcher.RuleSet { return s.rs }

type fixedAd string

func (f fixedAd) Pick() string { return string(f) }

type recorder struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recorder) Publish(ev sse.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type harness struct {
	d      *Dispatcher
	dir    *peers.Directory
	client *testutil.FakeClient
	events *recorder
}

func newHarness(t *testing.T, rules ...models.KeywordRule) *harness {
	t.Helper()
	dir := peers.NewDirectory()
	self := models.PeerRecord{ID: selfID, Kind: models.PeerUser, FirstName: "Me", Complete: true}
	dir.Seed([]models.PeerRecord{
		self,
		{ID: targetID, Kind: models.PeerChannel, Title: "Inbox", Complete: true},
		{ID: channelID, Kind: models.PeerChannel, Broadcast: true, Title: "News", Usernames: []string{"news"}, Complete: true},
		{ID: groupID, Kind: models.PeerSmallGroup, Title: "Group", Complete: true},
		{ID: aliceID, Kind: models.PeerUser, FirstName: "Alice", Usernames: []string{"alice"}, Complete: true},
	})

	client := testutil.NewFakeClient()
	coord := delivery.New(dir, time.Second, testutil.Logger())
	coord.SetSender(client)
	coord.SetTarget(targetID)

	rec := &recorder{}
	d := New(Options{
		Self:     self,
		Dir:      dir,
		Resolver: client,
		Rules:    staticRules{matcher.Compile(rules, testutil.Logger())},
		Delivery: coord,
		Ads:      fixedAd(""),
		Events:   rec,
		Logger:   testutil.Logger(),
	})
	return &harness{d: d, dir: dir, client: client, events: rec}
}

func contains(content string) models.KeywordRule {
	return models.KeywordRule{Content: content, MatchType: models.MatchContains, Action: models.ActionMonitor}
}

func message(peer models.PeerRef, from *models.PeerRef, text string) protocol.NewMessage {
	return protocol.NewMessage{Message: protocol.Message{
		ID:   10,
		Peer: peer,
		From: from,
		Date: time.Date(2024, 3, 1, 16, 30, 0, 0, time.UTC),
		Text: text,
	}}
}

func TestMatchingMessageIsDelivered(t *testing.T) {
	h := newHarness(t, contains("sale"))
	alice := models.PeerRef{Kind: models.PeerUser, ID: aliceID}
	h.d.Handle(context.Background(), message(models.PeerRef{Kind: models.PeerSmallGroup, ID: groupID}, &alice, "big sale today"))

	sent := h.client.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].PeerID != targetID {
		t.Errorf("peer = %d", sent[0].PeerID)
	}
	if !strings.Contains(sent[0].HTML, "#sale") || !strings.Contains(sent[0].HTML, "big sale today") {
		t.Errorf("html = %q", sent[0].HTML)
	}
	if len(sent[0].Mentions) == 0 || sent[0].Mentions[0].UserID != aliceID {
		t.Errorf("mentions = %+v", sent[0].Mentions)
	}
	if h.events.count() != 1 {
		t.Errorf("forwarded events = %d", h.events.count())
	}
}

func TestNonMatchingMessageIsDropped(t *testing.T) {
	h := newHarness(t, contains("sale"))
	alice := models.PeerRef{Kind: models.PeerUser, ID: aliceID}
	h.d.Handle(context.Background(), message(models.PeerRef{Kind: models.PeerSmallGroup, ID: groupID}, &alice, "hello"))
	if n := len(h.client.Sent()); n != 0 {
		t.Errorf("sent %d, want 0", n)
	}
}

func TestLoopGuard(t *testing.T) {
	h := newHarness(t, contains("sale"))
	h.d.Handle(context.Background(), message(models.PeerRef{Kind: models.PeerChannel, ID: targetID}, nil, "sale"))
	if n := len(h.client.Sent()); n != 0 {
		t.Errorf("message from destination relayed %d times", n)
	}
}

func TestChannelPostAttributedToChannel(t *testing.T) {
	h := newHarness(t, models.KeywordRule{Content: "@news", MatchType: models.MatchUser, Action: models.ActionMonitor})
	ev := message(models.PeerRef{Kind: models.PeerChannel, ID: channelID}, nil, "anything")
	ev.Message.Post = true
	h.d.Handle(context.Background(), ev)
	if n := len(h.client.Sent()); n != 1 {
		t.Fatalf("sent %d, want 1", n)
	}
}

func TestOutgoingPrivateMessageAttributedToSelf(t *testing.T) {
	h := newHarness(t, models.KeywordRule{Content: "1", MatchType: models.MatchUser, Action: models.ActionMonitor})
	ev := message(models.PeerRef{Kind: models.PeerUser, ID: aliceID}, nil, "hi")
	ev.Message.Out = true
	h.d.Handle(context.Background(), ev)
	sent := h.client.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d, want 1", len(sent))
	}
	if !strings.Contains(sent[0].HTML, "Sender ID: <code>1</code>") {
		t.Errorf("html = %q", sent[0].HTML)
	}
}

func TestUnknownSenderSkipped(t *testing.T) {
	h := newHarness(t, contains("sale"))
	ghost := models.PeerRef{Kind: models.PeerUser, ID: 999}
	h.d.Handle(context.Background(), message(models.PeerRef{Kind: models.PeerSmallGroup, ID: groupID}, &ghost, "sale"))
	if n := len(h.client.Sent()); n != 0 {
		t.Errorf("sent %d, want 0", n)
	}
}

func TestAttachedPeersAreUpserted(t *testing.T) {
	h := newHarness(t, contains("sale"))
	bob := models.PeerRef{Kind: models.PeerUser, ID: 77}
	ev := message(models.PeerRef{Kind: models.PeerSmallGroup, ID: groupID}, &bob, "sale")
	ev.Peers = []models.PeerRecord{{ID: 77, Kind: models.PeerUser, FirstName: "Bob"}}
	h.d.Handle(context.Background(), ev)
	if _, ok := h.dir.Resolve(77); !ok {
		t.Fatal("attached peer not stored")
	}
	if n := len(h.client.Sent()); n != 1 {
		t.Errorf("sent %d, want 1", n)
	}
}

func TestStubSenderIsResolved(t *testing.T) {
	h := newHarness(t, contains("sale"))
	const bobID = 77
	h.dir.Upsert(models.PeerRecord{ID: bobID, Kind: models.PeerUser})
	h.client.Peers[bobID] = models.PeerRecord{ID: bobID, Kind: models.PeerUser, FirstName: "Bob", Usernames: []string{"bobby"}, Complete: true}

	bob := models.PeerRef{Kind: models.PeerUser, ID: bobID}
	h.d.Handle(context.Background(), message(models.PeerRef{Kind: models.PeerSmallGroup, ID: groupID}, &bob, "sale"))

	rec, _ := h.dir.Resolve(bobID)
	if !rec.Complete || rec.FirstName != "Bob" {
		t.Fatalf("directory record = %+v", rec)
	}
	sent := h.client.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0].HTML, "@bobby") {
		t.Errorf("sent = %+v", sent)
	}
}

func TestUnknownOriginIsResolved(t *testing.T) {
	h := newHarness(t, contains("sale"))
	const chatID = 333
	h.client.Peers[chatID] = models.PeerRecord{ID: chatID, Kind: models.PeerSmallGroup, Title: "Fresh", Complete: true}

	alice := models.PeerRef{Kind: models.PeerUser, ID: aliceID}
	h.d.Handle(context.Background(), message(models.PeerRef{Kind: models.PeerSmallGroup, ID: chatID}, &alice, "sale"))

	if len(h.client.Sent()) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.client.Sent()))
	}
	if _, ok := h.dir.Resolve(chatID); !ok {
		t.Error("origin not merged into directory")
	}
}

func TestStubKeptWhenResolveFails(t *testing.T) {
	h := newHarness(t, contains("sale"))
	const bobID = 78
	h.dir.Upsert(models.PeerRecord{ID: bobID, Kind: models.PeerUser, FirstName: "Stub"})

	bob := models.PeerRef{Kind: models.PeerUser, ID: bobID}
	h.d.Handle(context.Background(), message(models.PeerRef{Kind: models.PeerSmallGroup, ID: groupID}, &bob, "sale"))

	if len(h.client.Sent()) != 1 {
		t.Errorf("sent %d messages, want 1", len(h.client.Sent()))
	}
}

func TestPeersSeenAndUserName(t *testing.T) {
	h := newHarness(t)
	h.d.Handle(context.Background(), protocol.PeersSeen{Peers: []models.PeerRecord{{ID: 88, Kind: models.PeerUser, FirstName: "Old"}}})
	h.d.Handle(context.Background(), protocol.UserName{UserID: 88, FirstName: "New", Usernames: []string{"new_name"}})
	rec, ok := h.dir.Resolve(88)
	if !ok || rec.FirstName != "New" || rec.MainUsername() != "new_name" {
		t.Errorf("record = %+v", rec)
	}
}

type panicRules struct{}

func (panicRules) Active() *matcher.RuleSet { panic("boom") }

func TestHandlePanicDoesNotStopRun(t *testing.T) {
	h := newHarness(t)
	h.d.rules = panicRules{}

	ch := make(chan protocol.Event, 3)
	alice := models.PeerRef{Kind: models.PeerUser, ID: aliceID}
	ch <- message(models.PeerRef{Kind: models.PeerSmallGroup, ID: groupID}, &alice, "x")
	ch <- protocol.PeersSeen{Peers: []models.PeerRecord{{ID: 55, Kind: models.PeerUser}}}
	close(ch)

	if err := h.d.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := h.dir.Resolve(55); !ok {
		t.Error("event after panic was not handled")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx, make(chan protocol.Event)) }()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected context error")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestUnknownAndOtherEventsAreIgnored(t *testing.T) {
	h := newHarness(t, contains("x"))
	for _, ev := range []protocol.Event{
		protocol.Unknown{Type: "message_reactions"},
		protocol.UserTyping{UserID: aliceID},
		protocol.ChatParticipants{ChatID: groupID, Count: 3},
		protocol.DeletedMessages{IDs: []int{1}},
	} {
		h.d.Handle(context.Background(), ev)
	}
	if n := len(h.client.Sent()); n != 0 {
		t.Errorf("sent %d, want 0", n)
	}
}
