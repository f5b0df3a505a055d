// Package delivery sends rendered notifications to the destination chat.
package delivery

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/tgmonitor/internal/markup"
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/protocol"
	"github.com/starford/tgmonitor/internal/render"
)

// Sender performs the actual send.
type Sender interface {
	Send(ctx context.Context, req protocol.SendRequest) error
}

// Directory resolves peers for the destination and for mentions.
type Directory interface {
	Resolve(id int64) (models.PeerRecord, bool)
	ResolveUsername(name string) (models.PeerRecord, bool)
}

// Outcome reports what Deliver did.
type Outcome int

const (
	Delivered Outcome = iota
	NoTarget
	TargetUnknown
	NoSender
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case NoTarget:
		return "no_target"
	case TargetUnknown:
		return "target_unknown"
	case NoSender:
		return "no_sender"
	default:
		return "failed"
	}
}

var usernameRe = regexp.MustCompile(`@([A-Za-z][A-Za-z0-9_]{3,31})`)

type senderRef struct{ s Sender }

// Coordinator owns the destination id and sends notifications to it. Every
// failure is logged and reported as an Outcome; nothing is returned as an
// error.
type Coordinator struct {
	dir     Directory
	timeout time.Duration
	logger  *slog.Logger

	target atomic.Int64
	sender atomic.Pointer[senderRef]
}

// New creates a coordinator. timeout bounds each send.
func New(dir Directory, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{dir: dir, timeout: timeout, logger: logger}
}

// SetTarget sets the destination chat id. Zero clears it.
func (c *Coordinator) SetTarget(id int64) { c.target.Store(id) }

// Target returns the destination chat id.
func (c *Coordinator) Target() int64 { return c.target.Load() }

// SetSender swaps the client used for sending.
func (c *Coordinator) SetSender(s Sender) {
	if s == nil {
		c.sender.Store(nil)
		return
	}
	c.sender.Store(&senderRef{s: s})
}

// Deliver sends n to the destination with link previews disabled, the
// body's user mentions resolved and n.Media passed through.
func (c *Coordinator) Deliver(ctx context.Context, n render.Notification) Outcome {
	target := c.Target()
	if target == 0 {
		c.logger.Warn("delivery: no destination set", slog.String("notification_id", n.ID))
		return NoTarget
	}
	if _, ok := c.dir.Resolve(target); !ok {
		c.logger.Warn("delivery: destination not found",
			slog.Int64("target_id", target),
			slog.String("notification_id", n.ID))
		return TargetUnknown
	}
	ref := c.sender.Load()
	if ref == nil {
		c.logger.Warn("delivery: no client", slog.String("notification_id", n.ID))
		return NoSender
	}

	req := protocol.SendRequest{
		PeerID:         target,
		HTML:           n.HTML,
		DisablePreview: true,
		Mentions:       c.Mentions(n.HTML),
		Media:          n.Media,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := ref.s.Send(ctx, req); err != nil {
		c.logger.Error("delivery: send failed",
			slog.Int64("target_id", target),
			slog.String("notification_id", n.ID),
			slog.String("error", err.Error()))
		return Failed
	}
	c.logger.Debug("delivery: sent",
		slog.Int64("target_id", target),
		slog.String("notification_id", n.ID))
	return Delivered
}

// Mentions finds tg://user links and @username mentions in body and returns
// mention entities for the ones the directory knows as users.
func (c *Coordinator) Mentions(body string) []protocol.Mention {
	text, links := markup.Strip(body)
	var out []protocol.Mention

	for _, l := range links {
		idStr, ok := strings.CutPrefix(l.Href, "tg://user?id=")
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		if rec, ok := c.dir.Resolve(id); ok && rec.Kind == models.PeerUser {
			out = append(out, protocol.Mention{UserID: id, Offset: l.Offset, Length: l.Length})
		}
	}

	for _, m := range usernameRe.FindAllStringSubmatchIndex(text, -1) {
		rec, ok := c.dir.ResolveUsername(text[m[2]:m[3]])
		if !ok || rec.Kind != models.PeerUser {
			continue
		}
		out = append(out, protocol.Mention{
			UserID: rec.ID,
			Offset: markup.UTF16Len(text[:m[0]]),
			Length: markup.UTF16Len(text[m[0]:m[1]]),
		})
	}
	return out
}
