package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/starford/tgmonitor/internal/protocol"
)

// frame is the single JSON envelope exchanged with the sidecar. Requests
// carry ID and Method, responses carry ID and Result or Error, and pushed
// updates carry Event and Data.
type frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type helloParams struct {
	Session string        `json:"session"`
	MTProxy *mtproxyParam `json:"mtproxy,omitempty"`
}

type mtproxyParam struct {
	Server string `json:"server"`
	Port   string `json:"port"`
	Secret string `json:"secret"`
}

type loginParams struct {
	Phone string `json:"phone"`
	Proof string `json:"proof,omitempty"`
}

type loginResult struct {
	Challenge string `json:"challenge"`
}

type resolveParams struct {
	ID int64 `json:"id"`
}

type subscribeParams struct {
	Window int `json:"window"`
}

type ackParams struct {
	Count int `json:"count"`
}

func parseChallenge(s string) (protocol.Challenge, error) {
	switch s {
	case "", "none":
		return protocol.ChallengeNone, nil
	case "code", "verification_code":
		return protocol.ChallengeCode, nil
	case "password":
		return protocol.ChallengePassword, nil
	case "name":
		return protocol.ChallengeName, nil
	}
	return 0, fmt.Errorf("bridge: unknown login challenge %q", s)
}

func decodeAs[T protocol.Event](data json.RawMessage) (protocol.Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// decodeEvent maps a pushed update onto its protocol.Event type. Unmodelled
// names become protocol.Unknown.
func decodeEvent(name string, data json.RawMessage) (protocol.Event, error) {
	switch name {
	case "new_message":
		return decodeAs[protocol.NewMessage](data)
	case "edited_message":
		return decodeAs[protocol.EditedMessage](data)
	case "deleted_messages":
		return decodeAs[protocol.DeletedMessages](data)
	case "user_typing":
		return decodeAs[protocol.UserTyping](data)
	case "user_status":
		return decodeAs[protocol.UserStatus](data)
	case "user_name":
		return decodeAs[protocol.UserName](data)
	case "user_update":
		return decodeAs[protocol.UserUpdate](data)
	case "chat_participants":
		return decodeAs[protocol.ChatParticipants](data)
	case "service_message":
		return decodeAs[protocol.ServiceMessage](data)
	case "peers_seen":
		return decodeAs[protocol.PeersSeen](data)
	}
	return protocol.Unknown{Type: name}, nil
}
