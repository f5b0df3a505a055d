package models

import (
	"slices"
	"strings"
)

// PeerKind is the protocol-level kind of a peer.
type PeerKind int

const (
	PeerUser PeerKind = iota
	PeerSmallGroup
	PeerChannel
)

func (k PeerKind) String() string {
	switch k {
	case PeerUser:
		return "user"
	case PeerSmallGroup:
		return "chat"
	case PeerChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// PeerRef addresses a peer by kind and id, as carried on messages.
type PeerRef struct {
	Kind PeerKind `json:"kind"`
	ID   int64    `json:"id"`
}

// Status flags reported by the protocol. Only the ones in RefreshableFlags
// are taken from stub sightings.
const (
	FlagVerified uint64 = 1 << iota
	FlagPremium
	FlagScam
	FlagFake
	FlagRestricted
	FlagSupport
	FlagContact
	FlagMutualContact
	FlagDeleted
	FlagStoriesHidden
	FlagStoriesUnavailable
)

// RefreshableFlags is the status-flag subset a stub sighting overwrites.
const RefreshableFlags = FlagVerified | FlagPremium | FlagScam | FlagFake |
	FlagRestricted | FlagDeleted | FlagStoriesHidden | FlagStoriesUnavailable

// Attributes is the whitelist of fields that every sighting refreshes.
type Attributes struct {
	Flags          uint64 `json:"flags"`
	HasPhoto       bool   `json:"has_photo"`
	BotInfoVersion int    `json:"bot_info_version"`
	LangCode       string `json:"lang_code,omitempty"`
	StoriesMaxID   int    `json:"stories_max_id"`
	ProfileColor   int    `json:"profile_color"`
}

// PeerRecord is the merged metadata snapshot for one peer id.
type PeerRecord struct {
	ID        int64      `json:"id"`
	Kind      PeerKind   `json:"kind"`
	Broadcast bool       `json:"broadcast,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Title     string     `json:"title,omitempty"`
	Usernames []string   `json:"usernames,omitempty"`
	Bot       bool       `json:"bot,omitempty"`
	Active    bool       `json:"active,omitempty"`
	CanSend   bool       `json:"can_send,omitempty"`
	Attrs     Attributes `json:"attributes"`
	Complete  bool       `json:"complete"`
}

// DisplayName is the human-readable name: first+last for users, title otherwise.
func (p PeerRecord) DisplayName() string {
	if p.Kind == PeerUser {
		return strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	return p.Title
}

// MainUsername is the first active username, or "".
func (p PeerRecord) MainUsername() string {
	if len(p.Usernames) == 0 {
		return ""
	}
	return p.Usernames[0]
}

// IsGroupLike reports whether messages in this peer come from many senders.
func (p PeerRecord) IsGroupLike() bool {
	return p.Kind == PeerSmallGroup || (p.Kind == PeerChannel && !p.Broadcast)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p PeerRecord) Clone() PeerRecord {
	p.Usernames = slices.Clone(p.Usernames)
	return p
}
