// Package session owns the protocol client, the login sequence and the
// monitor lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tgmonitor/internal/apperr"
	"github.com/starford/tgmonitor/internal/delivery"
	"github.com/starford/tgmonitor/internal/dispatch"
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/protocol"
	"github.com/starford/tgmonitor/internal/sse"
	"github.com/starford/tgmonitor/internal/transport"
)

var phoneRe = regexp.MustCompile(`^\+\d{6,15}$`)

// signupName answers the registration prompt for numbers without an account.
const signupName = "tgmonitor"

// Directory is the peer store shared with the dispatcher.
type Directory interface {
	dispatch.Directory
	Seed(recs []models.PeerRecord)
}

// Options configures a Manager.
type Options struct {
	Factory        protocol.Factory
	Transport      transport.Config
	Dir            Directory
	Rules          dispatch.Rules
	Delivery       *delivery.Coordinator
	Ads            dispatch.Ads
	Events         dispatch.Publisher
	QueueSize      int
	HealthInterval time.Duration
	HandleTimeout  time.Duration
	Logger         *slog.Logger
}

// Status is a snapshot of the manager.
type Status struct {
	Session   models.SessionState `json:"session"`
	Monitor   models.MonitorState `json:"monitor"`
	Connected bool                `json:"connected"`
	TargetID  int64               `json:"target_id"`
	SelfID    int64               `json:"self_id,omitempty"`
	Transport string              `json:"transport"`
}

// Dialog is a chat the account can post into.
type Dialog struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Manager serializes every administrative operation behind one mutex.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	transport transport.Config
	client    protocol.Client
	phone     string
	session   models.SessionState
	self      models.PeerRecord
	wanted    bool
	run       *run

	// starting holds the status reported while a start is in progress, since
	// Status cannot take mu until the start returns.
	starting atomic.Pointer[Status]
}

// New creates a manager. No client exists until the first Login.
func New(opts Options) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts:      opts,
		logger:    opts.Logger,
		transport: opts.Transport.Normalize(),
	}
}

// Login advances the login sequence for phone. An empty proof starts it; the
// returned state says what the next call needs.
func (m *Manager) Login(ctx context.Context, phone, proof string) (models.SessionState, error) {
	if err := validation.Validate(phone, validation.Required, validation.Match(phoneRe)); err != nil {
		return models.SessionNotAuthenticated, fmt.Errorf("%w: phone: %v", apperr.ErrInvalidInput, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil || phone != m.phone {
		m.stopLocked(ctx)
		m.wanted = false
		m.closeClientLocked()
		c, err := m.opts.Factory(m.transport)
		if err != nil {
			return m.session, fmt.Errorf("session: login: %w", err)
		}
		m.client = c
		m.phone = phone
		m.self = models.PeerRecord{}
		m.setSessionLocked(models.SessionNotAuthenticated)
	}

	ch, err := m.client.Login(ctx, phone, proof)
	for err == nil && ch == protocol.ChallengeName {
		ch, err = m.client.Login(ctx, phone, signupName)
	}
	if err != nil {
		m.logger.Warn("session: login failed", slog.String("error", err.Error()))
		return m.session, fmt.Errorf("session: login: %w", err)
	}

	switch ch {
	case protocol.ChallengeCode:
		m.setSessionLocked(models.SessionAwaitingCode)
	case protocol.ChallengePassword:
		m.setSessionLocked(models.SessionAwaitingPassword)
	default:
		m.setSessionLocked(models.SessionAuthenticated)
		m.logger.Info("session: authenticated")
	}
	return m.session, nil
}

// StartMonitor seeds the directory and starts the dispatcher.
func (m *Manager) StartMonitor(ctx context.Context) models.StartOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.session != models.SessionAuthenticated:
		return models.StartNotAuthenticated
	case m.opts.Delivery.Target() == 0:
		return models.StartMissingTarget
	case m.run != nil && !m.run.finished():
		return models.StartAlreadyRunning
	}

	if m.run != nil {
		m.run.cancel()
		m.run = nil
	}
	out := m.startLocked(ctx)
	if out == models.StartStarted {
		m.wanted = true
	}
	return out
}

func (m *Manager) startLocked(ctx context.Context) models.StartOutcome {
	st := m.statusLocked()
	st.Monitor = models.MonitorStarting
	m.starting.Store(&st)
	defer m.starting.Store(nil)

	dialogs, err := m.client.Dialogs(ctx)
	if err != nil {
		m.logger.Error("session: load dialogs failed", slog.String("error", err.Error()))
		return models.StartFailed
	}
	m.opts.Dir.Seed(dialogs)

	self, err := m.client.Self(ctx)
	if err != nil || self.ID == 0 {
		if err != nil {
			m.logger.Warn("session: self lookup failed", slog.String("error", err.Error()))
		}
		return models.StartNoSelfIdentity
	}
	m.self = self
	m.opts.Dir.Upsert(self)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := m.client.Subscribe(runCtx)
	if err != nil {
		cancel()
		m.logger.Error("session: subscribe failed", slog.String("error", err.Error()))
		return models.StartFailed
	}
	m.opts.Delivery.SetSender(m.client)

	d := dispatch.New(dispatch.Options{
		Self:          self,
		Dir:           m.opts.Dir,
		Resolver:      m.client,
		Rules:         m.opts.Rules,
		Delivery:      m.opts.Delivery,
		Ads:           m.opts.Ads,
		Events:        m.opts.Events,
		HandleTimeout: m.opts.HandleTimeout,
		Logger:        m.logger,
	})

	queue := make(chan protocol.Event, m.opts.QueueSize)
	go pump(runCtx, sub, queue)

	r := &run{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		if err := d.Run(runCtx, queue); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("session: dispatcher stopped", slog.String("error", err.Error()))
		}
	}()
	m.run = r

	m.logger.Info("session: monitor started",
		slog.Int64("target_id", m.opts.Delivery.Target()),
		slog.Int("dialogs", len(dialogs)))
	m.publish(sse.TypeMonitorStarted, map[string]any{"target_id": m.opts.Delivery.Target()})
	return models.StartStarted
}

// pump copies the subscription into the bounded queue, blocking when the
// queue is full. It closes queue when the subscription ends.
func pump(ctx context.Context, sub <-chan protocol.Event, queue chan<- protocol.Event) {
	defer close(queue)
	for ev := range sub {
		select {
		case queue <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// StopMonitor stops the dispatcher after its in-flight event. The session
// stays authenticated.
func (m *Manager) StopMonitor(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wanted = false
	m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) {
	if m.run == nil {
		return
	}
	r := m.run
	m.run = nil
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		m.logger.Warn("session: stop did not wait for dispatcher", slog.String("error", ctx.Err().Error()))
	}
	m.logger.Info("session: monitor stopped")
	m.publish(sse.TypeMonitorStopped, map[string]any{})
}

// SetProxy rebuilds the client with tc, logs back in with the stored session
// and restarts monitoring if it was running.
func (m *Manager) SetProxy(ctx context.Context, tc transport.Config) error {
	tc = tc.Normalize()
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("%w: proxy: %v", apperr.ErrInvalidInput, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wasRunning := m.run != nil && !m.run.finished()
	m.stopLocked(ctx)
	m.closeClientLocked()
	m.transport = tc
	m.logger.Info("session: transport changed", slog.String("transport", tc.String()))

	if m.phone == "" {
		return nil
	}
	c, err := m.opts.Factory(tc)
	if err != nil {
		m.setSessionLocked(models.SessionNotAuthenticated)
		return fmt.Errorf("session: set proxy: %w", err)
	}
	m.client = c

	if m.session != models.SessionAuthenticated {
		m.setSessionLocked(models.SessionNotAuthenticated)
		return nil
	}
	if err := m.reauthLocked(ctx); err != nil {
		return fmt.Errorf("session: set proxy: %w", err)
	}
	if wasRunning {
		if out := m.startLocked(ctx); out != models.StartStarted {
			return fmt.Errorf("session: set proxy: restart monitor: %s", out)
		}
	}
	return nil
}

// reauthLocked logs in with the stored identity and no operator input. A
// transport error leaves the session state alone so the next health check
// tries again; only a challenge means the session was revoked.
func (m *Manager) reauthLocked(ctx context.Context) error {
	ch, err := m.client.Login(ctx, m.phone, "")
	if err != nil {
		return fmt.Errorf("reauth: %w", err)
	}
	if ch != protocol.ChallengeNone {
		m.setSessionLocked(models.SessionNotAuthenticated)
		return fmt.Errorf("reauth: %w: %s required", apperr.ErrNotAuthenticated, ch)
	}
	m.setSessionLocked(models.SessionAuthenticated)
	return nil
}

// SetTarget sets the destination chat.
func (m *Manager) SetTarget(id int64) error {
	if id == 0 {
		return fmt.Errorf("%w: target id is required", apperr.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != models.SessionAuthenticated {
		return apperr.ErrNotAuthenticated
	}
	m.opts.Delivery.SetTarget(id)
	m.logger.Info("session: target set", slog.Int64("target_id", id))
	return nil
}

// Status returns a snapshot of both state axes. It does not wait for a
// start in progress.
func (m *Manager) Status() Status {
	if st := m.starting.Load(); st != nil {
		return *st
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	st := Status{
		Session:   m.session,
		Monitor:   models.MonitorIdle,
		TargetID:  m.opts.Delivery.Target(),
		SelfID:    m.self.ID,
		Transport: m.transport.String(),
	}
	if m.client != nil {
		st.Connected = m.client.Connected()
	}
	if m.run != nil && !m.run.finished() {
		st.Monitor = models.MonitorRunning
	}
	return st
}

// ListDialogs returns the active chats the account can post into.
func (m *Manager) ListDialogs(ctx context.Context) ([]Dialog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != models.SessionAuthenticated {
		return nil, apperr.ErrNotAuthenticated
	}
	recs, err := m.client.Dialogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: list dialogs: %w", err)
	}
	m.opts.Dir.Seed(recs)

	out := make([]Dialog, 0, len(recs))
	for _, r := range recs {
		if r.Kind == models.PeerUser || !r.Active || !r.CanSend {
			continue
		}
		out = append(out, Dialog{ID: r.ID, Title: DialogTitle(r)})
	}
	return out, nil
}

// DialogTitle formats a chat as [Kind](@username)Title.
func DialogTitle(r models.PeerRecord) string {
	kind := "Unknown"
	switch {
	case r.Kind == models.PeerSmallGroup:
		kind = "Chat"
	case r.Kind == models.PeerChannel && r.Broadcast:
		kind = "Channel"
	case r.Kind == models.PeerChannel:
		kind = "Group"
	}
	title := "[" + kind + "]"
	if u := r.MainUsername(); u != "" {
		title += "(@" + u + ")"
	}
	return title + r.Title
}

// Run performs a health check every HealthInterval until ctx is cancelled,
// then stops the monitor and closes the client.
func (m *Manager) Run(ctx context.Context) error {
	t := time.NewTicker(m.opts.HealthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case <-t.C:
			m.HealthCheck(ctx)
		}
	}
}

// HealthCheck reconnects a dropped client and restarts a dispatcher that
// stopped while monitoring was wanted.
func (m *Manager) HealthCheck(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil || m.session != models.SessionAuthenticated {
		return
	}

	if !m.client.Connected() {
		m.logger.Warn("session: connection lost, reconnecting")
		if err := m.client.Reconnect(ctx); err != nil {
			m.logger.Warn("session: reconnect failed", slog.String("error", err.Error()))
			if err := m.reauthLocked(ctx); err != nil {
				m.logger.Error("session: reauth failed", slog.String("error", err.Error()))
				return
			}
		}
	}

	if m.wanted && (m.run == nil || m.run.finished()) {
		if m.run != nil {
			m.run.cancel()
			m.run = nil
		}
		if out := m.startLocked(ctx); out != models.StartStarted {
			m.logger.Error("session: monitor restart failed", slog.String("outcome", out.String()))
			return
		}
		m.logger.Info("session: monitor restarted")
	}
}

// Close stops monitoring and releases the client.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.stopLocked(ctx)
	m.closeClientLocked()
}

func (m *Manager) closeClientLocked() {
	if m.client == nil {
		return
	}
	m.opts.Delivery.SetSender(nil)
	if err := m.client.Close(); err != nil {
		m.logger.Warn("session: close client", slog.String("error", err.Error()))
	}
	m.client = nil
}

func (m *Manager) setSessionLocked(s models.SessionState) {
	if m.session == s {
		return
	}
	m.session = s
	m.publish(sse.TypeSessionChanged, map[string]any{"session": s.String()})
}

func (m *Manager) publish(typ string, data any) {
	if m.opts.Events != nil {
		m.opts.Events.Publish(sse.Event{Type: typ, Data: data})
	}
}
