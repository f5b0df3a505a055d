// Package bridge implements protocol.Client against a protocol sidecar that
// speaks JSON frames over a WebSocket. The sidecar owns the MTProto session;
// this side correlates requests by id and consumes pushed updates under a
// credit window.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/protocol"
	"github.com/starford/tgmonitor/internal/transport"
)

// Options configures the bridge client.
type Options struct {
	URL            string
	Token          string
	SessionName    string
	RequestTimeout time.Duration
	// Window is the number of updates the sidecar may push ahead of
	// consumption. It bounds the event queue.
	Window int
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.Window <= 0 {
		o.Window = 256
	}
	return o
}

// Client is a protocol.Client backed by the sidecar.
type Client struct {
	opts   Options
	tc     transport.Config
	logger *slog.Logger

	mu     sync.Mutex // guards cur and closed; held while dialing
	cur    *conn
	closed bool

	pmu     sync.Mutex
	pending map[string]chan frame

	sub      atomic.Pointer[subscription]
	overruns atomic.Int64
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

func (c *conn) write(f frame, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteJSON(f)
}

type subscription struct {
	queue chan protocol.Event
	done  chan struct{}
}

// New creates a client. No connection is made until the first call.
func New(opts Options, tc transport.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:    opts.withDefaults(),
		tc:      tc.Normalize(),
		logger:  logger,
		pending: make(map[string]chan frame),
	}
}

// NewFactory returns a protocol.Factory building bridge clients.
func NewFactory(opts Options, logger *slog.Logger) protocol.Factory {
	return func(tc transport.Config) (protocol.Client, error) {
		if err := tc.Validate(); err != nil {
			return nil, fmt.Errorf("bridge: transport: %w", err)
		}
		return New(opts, tc, logger), nil
	}
}

func (c *Client) dial(ctx context.Context) (*conn, error) {
	nd, err := c.tc.Dialer()
	if err != nil {
		return nil, err
	}
	d := &websocket.Dialer{
		NetDialContext:   nd.DialContext,
		HandshakeTimeout: 15 * time.Second,
	}
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	ws, _, err := d.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", c.opts.URL, err)
	}
	cn := &conn{ws: ws, done: make(chan struct{})}
	go c.readLoop(cn)

	hello := helloParams{Session: c.opts.SessionName}
	if c.tc.Type == transport.TypeMTProxy {
		s, err := c.tc.MTProxy()
		if err != nil {
			_ = ws.Close()
			return nil, err
		}
		hello.MTProxy = &mtproxyParam{Server: s.Server, Port: s.Port, Secret: s.Secret}
	}
	if err := c.roundTrip(ctx, cn, "hello", hello, nil); err != nil {
		_ = ws.Close()
		return nil, err
	}
	c.logger.Info("bridge: connected",
		slog.String("url", c.opts.URL),
		slog.String("transport", c.tc.String()))
	return cn, nil
}

// connection returns the live connection, dialing when there is none.
func (c *Client) connection(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, protocol.ErrNotConnected
	}
	if c.cur != nil {
		select {
		case <-c.cur.done:
			c.cur = nil
		default:
			return c.cur, nil
		}
	}
	cn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.cur = cn
	return cn, nil
}

func (c *Client) readLoop(cn *conn) {
	defer func() {
		close(cn.done)
		_ = cn.ws.Close()
	}()
	for {
		var f frame
		if err := cn.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn("bridge: read failed", slog.String("error", err.Error()))
			}
			return
		}
		switch {
		case f.ID != "":
			c.pmu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.pmu.Unlock()
			if ok {
				ch <- f
			}
		case f.Event != "":
			c.push(f)
		}
	}
}

func (c *Client) push(f frame) {
	ev, err := decodeEvent(f.Event, f.Data)
	if err != nil {
		c.logger.Warn("bridge: bad event payload",
			slog.String("event", f.Event),
			slog.String("error", err.Error()))
		return
	}
	sub := c.sub.Load()
	if sub == nil {
		c.logger.Debug("bridge: event without subscriber", slog.String("event", f.Event))
		return
	}
	select {
	case sub.queue <- ev:
	case <-sub.done:
	default:
		// The sidecar pushed past the granted window. Blocking here would
		// stall the reader, and with it the response to any in-flight Send
		// the consumer may be waiting on, so the excess is discarded.
		n := c.overruns.Add(1)
		c.logger.Error("bridge: sidecar exceeded event window, event discarded",
			slog.String("event", f.Event),
			slog.Int64("overruns", n))
	}
}

// Overruns returns how many pushed events were discarded because the sidecar
// ignored the credit window.
func (c *Client) Overruns() int64 { return c.overruns.Load() }

func (c *Client) roundTrip(ctx context.Context, cn *conn, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("bridge: %s: encode: %w", method, err)
	}
	id := uuid.NewString()
	ch := make(chan frame, 1)
	c.pendingAdd(id, ch)
	defer c.pendingDel(id)

	if err := cn.write(frame{ID: id, Method: method, Params: raw}, c.opts.RequestTimeout); err != nil {
		return fmt.Errorf("bridge: %s: write: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	select {
	case f := <-ch:
		if f.Error != "" {
			return fmt.Errorf("bridge: %s: %s", method, f.Error)
		}
		if out != nil && len(f.Result) > 0 {
			if err := json.Unmarshal(f.Result, out); err != nil {
				return fmt.Errorf("bridge: %s: decode: %w", method, err)
			}
		}
		return nil
	case <-cn.done:
		return fmt.Errorf("bridge: %s: %w", method, protocol.ErrNotConnected)
	case <-ctx.Done():
		return fmt.Errorf("bridge: %s: %w", method, ctx.Err())
	}
}

func (c *Client) pendingAdd(id string, ch chan frame) {
	c.pmu.Lock()
	c.pending[id] = ch
	c.pmu.Unlock()
}

func (c *Client) pendingDel(id string) {
	c.pmu.Lock()
	delete(c.pending, id)
	c.pmu.Unlock()
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	cn, err := c.connection(ctx)
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, cn, method, params, out)
}

// Login implements protocol.Client.
func (c *Client) Login(ctx context.Context, phone, proof string) (protocol.Challenge, error) {
	var res loginResult
	if err := c.call(ctx, "login", loginParams{Phone: phone, Proof: proof}, &res); err != nil {
		return 0, err
	}
	return parseChallenge(res.Challenge)
}

// Self implements protocol.Client.
func (c *Client) Self(ctx context.Context) (models.PeerRecord, error) {
	var rec models.PeerRecord
	if err := c.call(ctx, "self", struct{}{}, &rec); err != nil {
		return models.PeerRecord{}, err
	}
	return rec, nil
}

// Connected reports whether a live connection to the sidecar exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return false
	}
	select {
	case <-c.cur.done:
		return false
	default:
		return true
	}
}

// Reconnect drops the current connection and dials a fresh one. The sidecar
// restores the session by name.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.ErrNotConnected
	}
	if c.cur != nil {
		_ = c.cur.ws.Close()
		<-c.cur.done
		c.cur = nil
	}
	cn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.cur = cn
	return nil
}

// Dialogs implements protocol.Client.
func (c *Client) Dialogs(ctx context.Context) ([]models.PeerRecord, error) {
	var recs []models.PeerRecord
	if err := c.call(ctx, "dialogs", struct{}{}, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// ResolvePeer implements protocol.Client.
func (c *Client) ResolvePeer(ctx context.Context, id int64) (models.PeerRecord, error) {
	var rec models.PeerRecord
	if err := c.call(ctx, "resolve_peer", resolveParams{ID: id}, &rec); err != nil {
		return models.PeerRecord{}, err
	}
	return rec, nil
}

// Subscribe asks the sidecar to start pushing updates. The returned channel
// is unbuffered; an update counts as consumed once it is received, and the
// sidecar is granted more credit as updates are consumed.
func (c *Client) Subscribe(ctx context.Context) (<-chan protocol.Event, error) {
	cn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	sub := &subscription{
		queue: make(chan protocol.Event, c.opts.Window),
		done:  make(chan struct{}),
	}
	if !c.sub.CompareAndSwap(nil, sub) {
		return nil, fmt.Errorf("bridge: already subscribed")
	}
	if err := c.roundTrip(ctx, cn, "subscribe", subscribeParams{Window: c.opts.Window}, nil); err != nil {
		c.sub.CompareAndSwap(sub, nil)
		return nil, err
	}

	out := make(chan protocol.Event)
	go c.forward(ctx, cn, sub, out)
	return out, nil
}

func (c *Client) forward(ctx context.Context, cn *conn, sub *subscription, out chan<- protocol.Event) {
	defer func() {
		close(sub.done)
		c.sub.CompareAndSwap(sub, nil)
		close(out)
	}()

	batch := max(c.opts.Window/2, 1)
	consumed := 0
	ack := func() {
		if consumed == 0 {
			return
		}
		raw, _ := json.Marshal(ackParams{Count: consumed})
		if err := cn.write(frame{Method: "ack", Params: raw}, c.opts.RequestTimeout); err != nil {
			c.logger.Warn("bridge: ack failed", slog.String("error", err.Error()))
		}
		consumed = 0
	}
	unsubscribe := func() {
		if err := cn.write(frame{Method: "unsubscribe", Params: json.RawMessage("{}")}, c.opts.RequestTimeout); err != nil {
			c.logger.Debug("bridge: unsubscribe failed", slog.String("error", err.Error()))
		}
	}

	for {
		var ev protocol.Event
		select {
		case ev = <-sub.queue:
		case <-cn.done:
			return
		case <-ctx.Done():
			unsubscribe()
			return
		}
		select {
		case out <- ev:
			consumed++
			if consumed >= batch {
				ack()
			}
		case <-ctx.Done():
			unsubscribe()
			return
		}
	}
}

// Send implements protocol.Client.
func (c *Client) Send(ctx context.Context, req protocol.SendRequest) error {
	return c.call(ctx, "send", req, nil)
}

// Close tears down the connection. The client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cur == nil {
		return nil
	}
	err := c.cur.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.cur.ws.Close()
	<-c.cur.done
	c.cur = nil
	if err != nil && err != websocket.ErrCloseSent {
		return fmt.Errorf("bridge: close: %w", err)
	}
	return nil
}

var _ protocol.Client = (*Client)(nil)
