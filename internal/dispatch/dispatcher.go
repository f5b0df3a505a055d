// Package dispatch consumes protocol events in order and relays matching
// messages to the destination chat.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/tgmonitor/internal/delivery"
	"github.com/starford/tgmonitor/internal/matcher"
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/protocol"
	"github.com/starford/tgmonitor/internal/render"
	"github.com/starford/tgmonitor/internal/sse"
)

// Directory is the peer lookup the dispatcher updates and reads.
type Directory interface {
	Upsert(rec models.PeerRecord)
	Resolve(id int64) (models.PeerRecord, bool)
	ResolveRef(ref models.PeerRef) (models.PeerRecord, bool)
}

// Resolver fetches the full record of a peer the directory only knows as a
// stub, or not at all.
type Resolver interface {
	ResolvePeer(ctx context.Context, id int64) (models.PeerRecord, error)
}

// Rules returns the rule set currently in effect.
type Rules interface {
	Active() *matcher.RuleSet
}

// Deliverer sends a rendered notification.
type Deliverer interface {
	Target() int64
	Deliver(ctx context.Context, n render.Notification) delivery.Outcome
}

// Ads supplies the optional advertisement line.
type Ads interface {
	Pick() string
}

// Publisher receives activity events for admin clients.
type Publisher interface {
	Publish(ev sse.Event)
}

// Options configures a Dispatcher. Dir, Rules and Delivery are required.
type Options struct {
	Self          models.PeerRecord
	Dir           Directory
	Resolver      Resolver
	Rules         Rules
	Delivery      Deliverer
	Ads           Ads
	Events        Publisher
	HandleTimeout time.Duration
	Logger        *slog.Logger
}

// Dispatcher processes one event at a time.
type Dispatcher struct {
	self     models.PeerRecord
	dir      Directory
	resolver Resolver
	rules    Rules
	delivery Deliverer
	ads      Ads
	events   Publisher
	timeout  time.Duration
	logger   *slog.Logger
}

// New builds a dispatcher for the account described by opts.Self.
func New(opts Options) *Dispatcher {
	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		self:     opts.Self,
		dir:      opts.Dir,
		resolver: opts.Resolver,
		rules:    opts.Rules,
		delivery: opts.Delivery,
		ads:      opts.Ads,
		events:   opts.Events,
		timeout:  opts.HandleTimeout,
		logger:   opts.Logger,
	}
}

// Run handles events until the channel closes or ctx is cancelled. An event
// already being handled runs to completion under its own timeout.
func (d *Dispatcher) Run(ctx context.Context, events <-chan protocol.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Handle(ctx, ev)
		}
	}
}

// Handle processes a single event. It never panics.
func (d *Dispatcher) Handle(ctx context.Context, ev protocol.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: handler panic",
				slog.String("kind", ev.Kind()),
				slog.String("error", fmt.Sprint(r)))
		}
	}()

	switch e := ev.(type) {
	case protocol.NewMessage:
		d.onMessage(ctx, e)
	case protocol.PeersSeen:
		for _, p := range e.Peers {
			d.dir.Upsert(p)
		}
	case protocol.UserName:
		d.onUserName(e)
	case protocol.EditedMessage:
		d.logger.Debug("dispatch: message edited",
			slog.Int64("peer_id", e.Message.Peer.ID),
			slog.Int("message_id", e.Message.ID))
	case protocol.DeletedMessages:
		d.logger.Debug("dispatch: messages deleted",
			slog.Int64("peer_id", e.Peer.ID),
			slog.Int("count", len(e.IDs)))
	case protocol.UserTyping:
		d.logger.Debug("dispatch: typing",
			slog.Int64("peer_id", e.Peer.ID),
			slog.Int64("user_id", e.UserID),
			slog.String("action", e.Action))
	case protocol.UserStatus:
		d.logger.Debug("dispatch: user status",
			slog.Int64("user_id", e.UserID),
			slog.Bool("online", e.Online))
	case protocol.UserUpdate:
		d.logger.Debug("dispatch: user update",
			slog.Int64("user_id", e.UserID),
			slog.String("field", e.Field))
	case protocol.ChatParticipants:
		d.logger.Info("dispatch: chat participants",
			slog.Int64("chat_id", e.ChatID),
			slog.Int("count", e.Count))
	case protocol.ServiceMessage:
		d.logger.Info("dispatch: service message",
			slog.Int64("peer_id", e.Peer.ID),
			slog.String("action", e.Action))
	default:
		d.logger.Debug("dispatch: unhandled event", slog.String("kind", ev.Kind()))
	}
}

func (d *Dispatcher) onUserName(e protocol.UserName) {
	rec, ok := d.dir.Resolve(e.UserID)
	if !ok {
		return
	}
	rec.FirstName = e.FirstName
	rec.LastName = e.LastName
	if e.Usernames != nil {
		rec.Usernames = e.Usernames
	}
	d.dir.Upsert(rec)
}

func (d *Dispatcher) onMessage(ctx context.Context, e protocol.NewMessage) {
	for _, p := range e.Peers {
		d.dir.Upsert(p)
	}
	msg := e.Message
	log := d.logger.With(slog.Int64("peer_id", msg.Peer.ID), slog.Int("message_id", msg.ID))

	origin, ok := d.lookup(ctx, msg.Peer)
	if !ok {
		log.Warn("dispatch: origin not found")
		return
	}
	if target := d.delivery.Target(); target != 0 && origin.ID == target {
		return
	}

	sender, ok := d.sender(ctx, msg, origin)
	if !ok {
		log.Warn("dispatch: sender not found", slog.Int64("from_id", msg.From.ID))
		return
	}

	dec := d.rules.Active().Decide(matcher.Sender{ID: sender.ID, Usernames: sender.Usernames}, msg.Text)
	log.Debug("dispatch: decision",
		slog.String("verdict", dec.Verdict.String()),
		slog.String("reason", string(dec.Reason)))
	if dec.Verdict != matcher.Forward {
		return
	}

	var ad string
	if d.ads != nil {
		ad = d.ads.Pick()
	}
	n := render.Notification{
		ID: uuid.NewString(),
		HTML: render.Envelope(render.Input{
			Rules:         dec.Rules,
			Body:          msg.Body(),
			Sender:        sender,
			Origin:        origin,
			Date:          msg.Date,
			MessageID:     msg.ID,
			Advertisement: ad,
		}),
		Media: msg.Media,
	}

	out := d.delivery.Deliver(ctx, n)
	if out == delivery.Delivered && d.events != nil {
		d.events.Publish(sse.Event{Type: sse.TypeNotificationForwarded, Data: map[string]any{
			"id":         n.ID,
			"origin_id":  origin.ID,
			"sender_id":  sender.ID,
			"message_id": msg.ID,
			"reason":     dec.Reason,
		}})
	}
}

// sender picks the peer a message is attributed to.
func (d *Dispatcher) sender(ctx context.Context, msg protocol.Message, origin models.PeerRecord) (models.PeerRecord, bool) {
	if msg.From != nil {
		return d.lookup(ctx, *msg.From)
	}
	switch {
	case msg.Post || origin.Broadcast:
		return origin, true
	case origin.Kind == models.PeerUser && msg.Out:
		return d.self, true
	default:
		return origin, true
	}
}

// lookup resolves ref through the directory. Stubs and unknown peers are
// fetched from the resolver and merged first; a failed fetch falls back to
// whatever the directory holds.
func (d *Dispatcher) lookup(ctx context.Context, ref models.PeerRef) (models.PeerRecord, bool) {
	rec, ok := d.dir.ResolveRef(ref)
	if (ok && rec.Complete) || d.resolver == nil {
		return rec, ok
	}
	full, err := d.resolver.ResolvePeer(ctx, ref.ID)
	if err != nil {
		d.logger.Warn("dispatch: resolve peer failed",
			slog.Int64("peer_id", ref.ID),
			slog.String("error", err.Error()))
		return rec, ok
	}
	d.dir.Upsert(full)
	return d.dir.ResolveRef(ref)
}
