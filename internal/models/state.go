package models

// SessionState is the authentication axis of the monitor.
type SessionState int

const (
	SessionNotAuthenticated SessionState = iota
	SessionAwaitingCode
	SessionAwaitingPassword
	SessionAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case SessionAwaitingCode:
		return "awaiting_verification_code"
	case SessionAwaitingPassword:
		return "awaiting_password"
	case SessionAuthenticated:
		return "authenticated"
	default:
		return "not_authenticated"
	}
}

// MarshalText encodes the state by name.
func (s SessionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MonitorState is the running axis, independent of SessionState.
type MonitorState int

const (
	MonitorIdle MonitorState = iota
	MonitorStarting
	MonitorRunning
)

func (s MonitorState) String() string {
	switch s {
	case MonitorStarting:
		return "starting"
	case MonitorRunning:
		return "running"
	default:
		return "idle"
	}
}

// MarshalText encodes the state by name.
func (s MonitorState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StartOutcome is the result of a StartMonitor call.
type StartOutcome int

const (
	StartStarted StartOutcome = iota
	StartMissingTarget
	StartNotAuthenticated
	StartAlreadyRunning
	StartNoSelfIdentity
	StartFailed
)

func (o StartOutcome) String() string {
	switch o {
	case StartStarted:
		return "started"
	case StartMissingTarget:
		return "missing_target"
	case StartNotAuthenticated:
		return "not_authenticated"
	case StartAlreadyRunning:
		return "already_running"
	case StartNoSelfIdentity:
		return "no_self_identity"
	default:
		return "failed"
	}
}

// MarshalText encodes the outcome by name.
func (o StartOutcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }
