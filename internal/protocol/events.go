package protocol

import (
	"time"

	"github.com/starford/tgmonitor/internal/models"
)

// Event is one inbound update. The set of implementations is closed.
type Event interface {
	Kind() string
	isEvent()
}

type (
	// NewMessage carries a message and any peers the server attached to it.
	NewMessage struct {
		Message Message             `json:"message"`
		Peers   []models.PeerRecord `json:"peers,omitempty"`
	}
	EditedMessage struct {
		Message Message             `json:"message"`
		Peers   []models.PeerRecord `json:"peers,omitempty"`
	}
	DeletedMessages struct {
		Peer models.PeerRef `json:"peer"`
		IDs  []int          `json:"ids"`
	}
	UserTyping struct {
		Peer   models.PeerRef `json:"peer"`
		UserID int64          `json:"user_id"`
		Action string         `json:"action"`
	}
	UserStatus struct {
		UserID int64     `json:"user_id"`
		Online bool      `json:"online"`
		Until  time.Time `json:"until"`
	}
	UserName struct {
		UserID    int64    `json:"user_id"`
		FirstName string   `json:"first_name"`
		LastName  string   `json:"last_name"`
		Usernames []string `json:"usernames,omitempty"`
	}
	UserUpdate struct {
		UserID int64  `json:"user_id"`
		Field  string `json:"field"`
	}
	ChatParticipants struct {
		ChatID int64 `json:"chat_id"`
		Count  int   `json:"count"`
	}
	ServiceMessage struct {
		Peer   models.PeerRef `json:"peer"`
		ID     int            `json:"id"`
		Action string         `json:"action"`
	}
	// PeersSeen is a batch of peer sightings collected by the transport.
	PeersSeen struct {
		Peers []models.PeerRecord `json:"peers"`
	}
	// Unknown wraps update kinds this client does not model.
	Unknown struct {
		Type string `json:"type"`
	}
)

func (NewMessage) Kind() string       { return "new_message" }
func (EditedMessage) Kind() string    { return "edited_message" }
func (DeletedMessages) Kind() string  { return "deleted_messages" }
func (UserTyping) Kind() string       { return "user_typing" }
func (UserStatus) Kind() string       { return "user_status" }
func (UserName) Kind() string         { return "user_name" }
func (UserUpdate) Kind() string       { return "user_update" }
func (ChatParticipants) Kind() string { return "chat_participants" }
func (ServiceMessage) Kind() string   { return "service_message" }
func (PeersSeen) Kind() string        { return "peers_seen" }
func (u Unknown) Kind() string        { return u.Type }

func (NewMessage) isEvent()       {}
func (EditedMessage) isEvent()    {}
func (DeletedMessages) isEvent()  {}
func (UserTyping) isEvent()       {}
func (UserStatus) isEvent()       {}
func (UserName) isEvent()         {}
func (UserUpdate) isEvent()       {}
func (ChatParticipants) isEvent() {}
func (ServiceMessage) isEvent()   {}
func (PeersSeen) isEvent()        {}
func (Unknown) isEvent()          {}
