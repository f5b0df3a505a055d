// Package protocol defines the boundary to the chat protocol: the client
// operations the monitor needs and the closed set of events it consumes.
package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/starford/tgmonitor/internal/markup"
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/transport"
)

// ErrNotConnected is returned by operations that need a live session.
var ErrNotConnected = errors.New("protocol: not connected")

// Challenge is the next step a login sequence asks for.
type Challenge int

const (
	ChallengeNone Challenge = iota // logged in
	ChallengeCode
	ChallengePassword
	ChallengeName
)

func (c Challenge) String() string {
	switch c {
	case ChallengeNone:
		return "none"
	case ChallengeCode:
		return "verification_code"
	case ChallengePassword:
		return "password"
	case ChallengeName:
		return "name"
	default:
		return "unknown"
	}
}

// Media is an opaque reference to a message attachment. It is passed through
// to Send untouched.
type Media struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

// Mention is a resolved user mention inside an outgoing HTML body. Offset and
// Length count UTF-16 units of the rendered text.
type Mention struct {
	UserID int64 `json:"user_id"`
	Offset int   `json:"offset"`
	Length int   `json:"length"`
}

// SendRequest is one outgoing message.
type SendRequest struct {
	PeerID         int64     `json:"peer_id"`
	HTML           string    `json:"html"`
	DisablePreview bool      `json:"disable_preview"`
	Mentions       []Mention `json:"mentions,omitempty"`
	Media          *Media    `json:"media,omitempty"`
}

// Message is a received chat message. Text is the plain text; Body is the
// same text with its entities expanded into Telegram HTML.
type Message struct {
	ID       int             `json:"id"`
	Peer     models.PeerRef  `json:"peer"`
	From     *models.PeerRef `json:"from,omitempty"`
	Date     time.Time       `json:"date"`
	Text     string          `json:"text"`
	Entities []markup.Entity `json:"entities,omitempty"`
	Post     bool            `json:"post,omitempty"`
	Out      bool            `json:"out,omitempty"`
	Media    *Media          `json:"media,omitempty"`
}

// Body returns the message text as escaped Telegram HTML.
func (m Message) Body() string {
	return markup.EntitiesToHTML(m.Text, m.Entities)
}

// Client is a logged-in (or logging-in) protocol session.
type Client interface {
	// Login advances the login sequence. An empty proof starts it.
	Login(ctx context.Context, phone, proof string) (Challenge, error)
	Self(ctx context.Context) (models.PeerRecord, error)
	Connected() bool
	// Reconnect re-establishes the connection with the stored session.
	Reconnect(ctx context.Context) error
	Dialogs(ctx context.Context) ([]models.PeerRecord, error)
	ResolvePeer(ctx context.Context, id int64) (models.PeerRecord, error)
	// Subscribe streams events until ctx is cancelled or the connection is
	// lost; the channel is closed by the client either way.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Send(ctx context.Context, req SendRequest) error
	Close() error
}

// Factory builds a client for the given transport.
type Factory func(tc transport.Config) (Client, error)
