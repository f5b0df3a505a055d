// Package sse streams monitor activity to admin clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types published by the monitor.
const (
	TypeNotificationForwarded = "notification.forwarded"
	TypeMonitorStarted        = "monitor.started"
	TypeMonitorStopped        = "monitor.stopped"
	TypeSessionChanged        = "session.changed"
	TypeRulesChanged          = "rules.changed"
)

// Event is one SSE message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RuleEvent is the payload of rule.created, rule.updated and rule.deleted.
type RuleEvent struct {
	IDs []int64 `json:"ids"`
}

type ruleEventReq struct {
	kind string
	ids  []int64
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets how often idle streams receive a comment line so that
// proxies keep the connection open. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// Broker fans events out to connected clients.
//
// A single loop goroutine owns the client set, the event sequence and the
// rules.changed throttle; public methods talk to it over channels.
type Broker struct {
	rulesMin  time.Duration
	heartbeat time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	ruleEventCh   chan ruleEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. rulesThrottle is the minimum gap between two
// rules.changed events; a change inside the gap is announced when it ends.
func NewBroker(rulesThrottle time.Duration, opts ...Option) *Broker {
	if rulesThrottle <= 0 {
		rulesThrottle = 2 * time.Second
	}

	b := &Broker{
		rulesMin:      rulesThrottle,
		heartbeat:     15 * time.Second,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		ruleEventCh:   make(chan ruleEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// frame encodes one event in the text/event-stream format.
func frame(seq uint64, event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var seq uint64
	var lastRules time.Time

	// trailing fires once the throttle gap ends if a change was held back.
	var trailing *time.Timer
	var trailingC <-chan time.Time

	broadcast := func(event Event) {
		seq++
		raw, err := frame(seq, event)
		if err != nil {
			return
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// slow client
			}
		}
	}

	rulesChanged := func(now time.Time) {
		lastRules = now
		broadcast(Event{Type: TypeRulesChanged, Data: map[string]string{}})
	}

	for {
		select {
		case <-b.stopCh:
			if trailing != nil {
				trailing.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.ruleEventCh:
			switch req.kind {
			case "created", "updated", "deleted":
				broadcast(Event{Type: "rule." + req.kind, Data: RuleEvent{IDs: req.ids}})
			}

			now := time.Now()
			if wait := b.rulesMin - now.Sub(lastRules); wait > 0 {
				if trailingC == nil {
					trailing = time.NewTimer(wait)
					trailingC = trailing.C
				}
				continue
			}
			rulesChanged(now)

		case now := <-trailingC:
			trailingC = nil
			rulesChanged(now)

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishRuleEvent publishes a rule.<kind> event followed by a throttled
// rules.changed.
func (b *Broker) PublishRuleEvent(kind string, ids ...int64) {
	if b.closed.Load() {
		return
	}
	select {
	case b.ruleEventCh <- ruleEventReq{kind: kind, ids: ids}:
	case <-b.stopped:
	}
}

// ServeHTTP is the stream endpoint (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("retry: 3000\n\n"))
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	var beat <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		beat = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-beat:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
