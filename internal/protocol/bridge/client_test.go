package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/protocol"
	"github.com/starford/tgmonitor/internal/transport"
)

type fakeSidecar struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu      sync.Mutex
	hellos  []helloParams
	sent    []protocol.SendRequest
	methods []string
	auth    string
	// flood, when set, is the number of updates pushed on subscribe,
	// regardless of the window granted.
	flood int
}

func newFakeSidecar(t *testing.T) (*fakeSidecar, *httptest.Server) {
	f := &fakeSidecar{t: t}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSidecar) record(method string) {
	f.mu.Lock()
	f.methods = append(f.methods, method)
	f.mu.Unlock()
}

func (f *fakeSidecar) saw(method string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.methods {
		if m == method {
			return true
		}
	}
	return false
}

func (f *fakeSidecar) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auth = r.Header.Get("Authorization")
	f.mu.Unlock()

	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	reply := func(id string, result any) {
		raw, _ := json.Marshal(result)
		_ = ws.WriteJSON(frame{ID: id, Result: raw})
	}
	push := func(event string, data any) {
		raw, _ := json.Marshal(data)
		_ = ws.WriteJSON(frame{Event: event, Data: raw})
	}

	for {
		var in frame
		if err := ws.ReadJSON(&in); err != nil {
			return
		}
		f.record(in.Method)
		switch in.Method {
		case "hello":
			var p helloParams
			_ = json.Unmarshal(in.Params, &p)
			f.mu.Lock()
			f.hellos = append(f.hellos, p)
			f.mu.Unlock()
			reply(in.ID, struct{}{})
		case "login":
			var p loginParams
			_ = json.Unmarshal(in.Params, &p)
			switch p.Proof {
			case "":
				reply(in.ID, loginResult{Challenge: "code"})
			case "12345":
				reply(in.ID, loginResult{Challenge: "none"})
			default:
				_ = ws.WriteJSON(frame{ID: in.ID, Error: "PHONE_CODE_INVALID"})
			}
		case "self":
			reply(in.ID, models.PeerRecord{ID: 1, Kind: models.PeerUser, FirstName: "Me", Complete: true})
		case "dialogs":
			reply(in.ID, []models.PeerRecord{
				{ID: 10, Kind: models.PeerChannel, Title: "News", Active: true, CanSend: true, Complete: true},
			})
		case "resolve_peer":
			var p resolveParams
			_ = json.Unmarshal(in.Params, &p)
			reply(in.ID, models.PeerRecord{ID: p.ID, Kind: models.PeerUser, Complete: true})
		case "subscribe":
			reply(in.ID, struct{}{})
			f.mu.Lock()
			flood := f.flood
			f.mu.Unlock()
			if flood > 0 {
				for i := 0; i < flood; i++ {
					push("new_message", protocol.NewMessage{
						Message: protocol.Message{ID: i, Peer: models.PeerRef{Kind: models.PeerChannel, ID: 10}},
					})
				}
				continue
			}
			push("new_message", protocol.NewMessage{
				Message: protocol.Message{ID: 5, Peer: models.PeerRef{Kind: models.PeerChannel, ID: 10}, Text: "hello"},
				Peers:   []models.PeerRecord{{ID: 10, Kind: models.PeerChannel, Title: "News"}},
			})
			push("message_reactions", map[string]int{"n": 1})
		case "send":
			var req protocol.SendRequest
			_ = json.Unmarshal(in.Params, &req)
			f.mu.Lock()
			f.sent = append(f.sent, req)
			f.mu.Unlock()
			reply(in.ID, struct{}{})
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, srv *httptest.Server, tc transport.Config) *Client {
	t.Helper()
	c := New(Options{URL: wsURL(srv), Token: "tok", SessionName: "main", RequestTimeout: 2 * time.Second, Window: 4}, tc, quietLogger())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLoginSequence(t *testing.T) {
	side, srv := newFakeSidecar(t)
	c := newTestClient(t, srv, transport.Direct)
	ctx := context.Background()

	ch, err := c.Login(ctx, "+15550001111", "")
	if err != nil || ch != protocol.ChallengeCode {
		t.Fatalf("Login start = %v, %v", ch, err)
	}
	if _, err := c.Login(ctx, "+15550001111", "000"); err == nil || !strings.Contains(err.Error(), "PHONE_CODE_INVALID") {
		t.Errorf("bad code error = %v", err)
	}
	ch, err = c.Login(ctx, "+15550001111", "12345")
	if err != nil || ch != protocol.ChallengeNone {
		t.Fatalf("Login code = %v, %v", ch, err)
	}
	if !c.Connected() {
		t.Error("expected connected")
	}

	side.mu.Lock()
	defer side.mu.Unlock()
	if side.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", side.auth)
	}
	if len(side.hellos) != 1 || side.hellos[0].Session != "main" || side.hellos[0].MTProxy != nil {
		t.Errorf("hellos = %+v", side.hellos)
	}
}

func TestSelfDialogsResolve(t *testing.T) {
	_, srv := newFakeSidecar(t)
	c := newTestClient(t, srv, transport.Direct)
	ctx := context.Background()

	self, err := c.Self(ctx)
	if err != nil || self.ID != 1 || self.FirstName != "Me" {
		t.Fatalf("Self = %+v, %v", self, err)
	}
	ds, err := c.Dialogs(ctx)
	if err != nil || len(ds) != 1 || ds[0].Title != "News" || !ds[0].CanSend {
		t.Fatalf("Dialogs = %+v, %v", ds, err)
	}
	p, err := c.ResolvePeer(ctx, 77)
	if err != nil || p.ID != 77 {
		t.Fatalf("ResolvePeer = %+v, %v", p, err)
	}
}

func TestMTProxyForwardedInHello(t *testing.T) {
	side, srv := newFakeSidecar(t)
	c := newTestClient(t, srv, transport.Config{Type: transport.TypeMTProxy, URL: "tg://proxy?server=p.example&port=443&secret=ee00"})

	if _, err := c.Self(context.Background()); err != nil {
		t.Fatal(err)
	}
	side.mu.Lock()
	defer side.mu.Unlock()
	got := side.hellos[0].MTProxy
	if got == nil || got.Server != "p.example" || got.Port != "443" || got.Secret != "ee00" {
		t.Errorf("mtproxy hello = %+v", got)
	}
}

func TestSubscribeDeliversTypedEvents(t *testing.T) {
	side, srv := newFakeSidecar(t)
	c := newTestClient(t, srv, transport.Direct)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Subscribe(ctx); err == nil {
		t.Error("second Subscribe should fail")
	}

	ev := <-events
	msg, ok := ev.(protocol.NewMessage)
	if !ok {
		t.Fatalf("first event %T, want NewMessage", ev)
	}
	if msg.Message.ID != 5 || msg.Message.Text != "hello" || len(msg.Peers) != 1 {
		t.Errorf("message = %+v", msg)
	}

	ev = <-events
	if u, ok := ev.(protocol.Unknown); !ok || u.Kind() != "message_reactions" {
		t.Errorf("second event = %#v", ev)
	}

	cancel()
	for range events {
	}
	deadline := time.Now().Add(2 * time.Second)
	for !side.saw("unsubscribe") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !side.saw("unsubscribe") {
		t.Error("sidecar never saw unsubscribe")
	}
	if !side.saw("ack") {
		t.Error("sidecar never saw ack after consuming a half window")
	}
}

func TestSubscribeDiscardsPastWindow(t *testing.T) {
	side, srv := newFakeSidecar(t)
	side.mu.Lock()
	side.flood = 10
	side.mu.Unlock()
	c := newTestClient(t, srv, transport.Direct)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Nothing consumes yet; the reader must still answer calls.
	if err := c.Send(context.Background(), protocol.SendRequest{PeerID: 1, HTML: "x"}); err != nil {
		t.Fatalf("Send while window is full: %v", err)
	}
	// Window 4 buffered plus at most one held by the forwarder.
	if n := c.Overruns(); n < 5 || n > 6 {
		t.Errorf("overruns = %d, want 5 or 6", n)
	}

	got := 0
	for got < 4 {
		select {
		case <-events:
			got++
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d buffered events, want at least 4", got)
		}
	}
}

func TestSend(t *testing.T) {
	side, srv := newFakeSidecar(t)
	c := newTestClient(t, srv, transport.Direct)

	req := protocol.SendRequest{
		PeerID:         99,
		HTML:           "<b>hi</b>",
		DisablePreview: true,
		Mentions:       []protocol.Mention{{UserID: 3, Offset: 0, Length: 2}},
		Media:          &protocol.Media{Kind: "photo", Ref: "abc"},
	}
	if err := c.Send(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	side.mu.Lock()
	defer side.mu.Unlock()
	if len(side.sent) != 1 {
		t.Fatalf("sent = %+v", side.sent)
	}
	got := side.sent[0]
	if got.PeerID != 99 || !got.DisablePreview || got.Media == nil || got.Media.Ref != "abc" || len(got.Mentions) != 1 {
		t.Errorf("sent = %+v", got)
	}
}

func TestReconnectAndClose(t *testing.T) {
	side, srv := newFakeSidecar(t)
	c := newTestClient(t, srv, transport.Direct)
	ctx := context.Background()

	if _, err := c.Self(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !c.Connected() {
		t.Error("expected connected after reconnect")
	}
	side.mu.Lock()
	hellos := len(side.hellos)
	side.mu.Unlock()
	if hellos != 2 {
		t.Errorf("hellos = %d, want 2", hellos)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Connected() {
		t.Error("connected after Close")
	}
	if _, err := c.Self(ctx); err == nil {
		t.Error("call after Close should fail")
	}
}

func TestDialFailure(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/none", RequestTimeout: time.Second}, transport.Direct, quietLogger())
	if _, err := c.Self(context.Background()); err == nil {
		t.Error("expected dial error")
	}
	if c.Connected() {
		t.Error("should not be connected")
	}
}

func TestFactoryRejectsBadTransport(t *testing.T) {
	f := NewFactory(Options{URL: "ws://x"}, quietLogger())
	if _, err := f(transport.Config{Type: transport.TypeSOCKS5}); err == nil {
		t.Error("expected transport validation error")
	}
	if _, err := f(transport.Direct); err != nil {
		t.Errorf("direct transport rejected: %v", err)
	}
}
