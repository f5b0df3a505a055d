package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/protocol"
	"github.com/starford/tgmonitor/internal/transport"
)

// FakeClient is a scripted protocol.Client. The zero login script accepts
// Code and, when Password is set, asks for it afterwards.
type FakeClient struct {
	Code     string
	Password string
	// LoginFunc overrides the built-in login script when set.
	LoginFunc func(phone, proof string) (protocol.Challenge, error)

	SelfRecord models.PeerRecord
	SelfErr    error
	DialogList []models.PeerRecord
	// DialogsHook runs at the start of Dialogs, outside the client lock.
	DialogsHook func()
	Peers      map[int64]models.PeerRecord
	SendErr    error
	// SendHook runs inside Send before the request is recorded.
	SendHook     func(ctx context.Context, req protocol.SendRequest) error
	SubscribeErr error
	ReconnectErr error

	mu         sync.Mutex
	authorized bool
	connected  bool
	closed     bool
	logins     [][2]string
	sent       []protocol.SendRequest
	reconnects int
	subscribes int
	lost       chan struct{}
	feed       chan protocol.Event
}

// NewFakeClient returns a client whose verification code is "12345" and whose
// self identity is user 1.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Code:       "12345",
		SelfRecord: models.PeerRecord{ID: 1, Kind: models.PeerUser, FirstName: "Self", Complete: true},
		Peers:      make(map[int64]models.PeerRecord),
		feed:       make(chan protocol.Event, 64),
	}
}

// Login implements protocol.Client.
func (f *FakeClient) Login(_ context.Context, phone, proof string) (protocol.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, [2]string{phone, proof})
	f.connected = true
	if f.LoginFunc != nil {
		ch, err := f.LoginFunc(phone, proof)
		if err == nil && ch == protocol.ChallengeNone {
			f.authorized = true
		}
		return ch, err
	}
	switch {
	case f.authorized:
		return protocol.ChallengeNone, nil
	case proof == "":
		return protocol.ChallengeCode, nil
	case proof == f.Code && f.Password != "":
		return protocol.ChallengePassword, nil
	case proof == f.Code || (f.Password != "" && proof == f.Password):
		f.authorized = true
		return protocol.ChallengeNone, nil
	}
	return protocol.ChallengeNone, errors.New("fake: invalid proof")
}

// Self implements protocol.Client.
func (f *FakeClient) Self(context.Context) (models.PeerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return models.PeerRecord{}, protocol.ErrNotConnected
	}
	return f.SelfRecord, f.SelfErr
}

// Connected implements protocol.Client.
func (f *FakeClient) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Reconnect implements protocol.Client.
func (f *FakeClient) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.ReconnectErr != nil {
		return f.ReconnectErr
	}
	f.connected = true
	return nil
}

// Dialogs implements protocol.Client.
func (f *FakeClient) Dialogs(context.Context) ([]models.PeerRecord, error) {
	if f.DialogsHook != nil {
		f.DialogsHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, protocol.ErrNotConnected
	}
	out := make([]models.PeerRecord, len(f.DialogList))
	copy(out, f.DialogList)
	return out, nil
}

// ResolvePeer implements protocol.Client.
func (f *FakeClient) ResolvePeer(_ context.Context, id int64) (models.PeerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.Peers[id]
	if !ok {
		return models.PeerRecord{}, errors.New("fake: peer not found")
	}
	return rec, nil
}

// Subscribe implements protocol.Client. Events pushed with Emit are delivered
// until ctx ends or Drop is called.
func (f *FakeClient) Subscribe(ctx context.Context) (<-chan protocol.Event, error) {
	f.mu.Lock()
	if f.SubscribeErr != nil {
		f.mu.Unlock()
		return nil, f.SubscribeErr
	}
	if !f.connected {
		f.mu.Unlock()
		return nil, protocol.ErrNotConnected
	}
	f.subscribes++
	lost := make(chan struct{})
	f.lost = lost
	f.mu.Unlock()

	out := make(chan protocol.Event)
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-f.feed:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-lost:
					return
				}
			case <-ctx.Done():
				return
			case <-lost:
				return
			}
		}
	}()
	return out, nil
}

// Send implements protocol.Client.
func (f *FakeClient) Send(ctx context.Context, req protocol.SendRequest) error {
	if f.SendHook != nil {
		if err := f.SendHook(ctx, req); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.sent = append(f.sent, req)
	return nil
}

// Close implements protocol.Client.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	if f.lost != nil {
		close(f.lost)
		f.lost = nil
	}
	return nil
}

// Emit queues an event for the active or next subscription.
func (f *FakeClient) Emit(ev protocol.Event) {
	f.feed <- ev
}

// Drop simulates a lost connection: the subscription channel closes and
// Connected reports false until Reconnect or Login.
func (f *FakeClient) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	if f.lost != nil {
		close(f.lost)
		f.lost = nil
	}
}

// Sent returns a copy of every successful send.
func (f *FakeClient) Sent() []protocol.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.SendRequest, len(f.sent))
	copy(out, f.sent)
	return out
}

// Logins returns every (phone, proof) pair passed to Login.
func (f *FakeClient) Logins() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]string, len(f.logins))
	copy(out, f.logins)
	return out
}

// Counters returns how many times Reconnect and Subscribe were called.
func (f *FakeClient) Counters() (reconnects, subscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects, f.subscribes
}

// Closed reports whether Close was called.
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeFactory builds FakeClients and records the transports it was asked for.
type FakeFactory struct {
	// Prepare customizes each new client before it is returned.
	Prepare func(*FakeClient)
	Err     error

	mu         sync.Mutex
	clients    []*FakeClient
	transports []transport.Config
}

// Build implements protocol.Factory.
func (ff *FakeFactory) Build(tc transport.Config) (protocol.Client, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.transports = append(ff.transports, tc)
	if ff.Err != nil {
		return nil, ff.Err
	}
	c := NewFakeClient()
	if ff.Prepare != nil {
		ff.Prepare(c)
	}
	ff.clients = append(ff.clients, c)
	return c, nil
}

// Clients returns every client built so far.
func (ff *FakeFactory) Clients() []*FakeClient {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	out := make([]*FakeClient, len(ff.clients))
	copy(out, ff.clients)
	return out
}

// Last returns the most recently built client, or nil.
func (ff *FakeFactory) Last() *FakeClient {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.clients) == 0 {
		return nil
	}
	return ff.clients[len(ff.clients)-1]
}

// Transports returns every transport passed to Build.
func (ff *FakeFactory) Transports() []transport.Config {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	out := make([]transport.Config, len(ff.transports))
	copy(out, ff.transports)
	return out
}

var _ protocol.Client = (*FakeClient)(nil)
