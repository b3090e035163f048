// Package chat binds a customer session to a live agent and dispatches the
// customer's messages.
package chat

import (
	"context"
	"sync"
	"time"

	"chat-widget/internal/api"
	"chat-widget/internal/logging"
	"chat-widget/internal/model"
	"chat-widget/internal/service/session"

	"github.com/rs/zerolog"
)

// DefaultGracePeriod is how long an ended conversation stays visible.
const DefaultGracePeriod = 5 * time.Second

// Backend is the message part of the support API.
type Backend interface {
	History(ctx context.Context, customerSessionID string, chatSessionID int64) ([]model.Message, error)
	SendMessage(ctx context.Context, customerSessionID string, chatSessionID int64, body model.MessageBody) error
	SendBulk(ctx context.Context, customerSessionID string, chatSessionID int64, messages []model.Message) error
}

// Sessions persists the binding and pages agents.
type Sessions interface {
	PersistChat(ctx context.Context, chatSessionID int64) error
	Clear(ctx context.Context) error
	RequestSupport(ctx context.Context, customerSessionID string) error
}

var (
	_ Backend  = (*api.Client)(nil)
	_ Sessions = (*session.Manager)(nil)
)

// Executor runs network work triggered by a transition.
type Executor interface {
	Go(name string, fn func() error)
}

// Inline runs jobs on the calling goroutine.
type Inline struct{}

func (Inline) Go(_ string, fn func() error) {
	_ = fn()
}

// Timer is the handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Options struct {
	GracePeriod time.Duration
	Executor    Executor
	AfterFunc   AfterFunc
	Now         func() time.Time
	// OnClosed runs after an ended conversation has been reset.
	OnClosed    func()
	Logger      zerolog.Logger
}

// Machine owns the chat binding state. All transitions go through update,
// and subscribers receive a snapshot after each one.
type Machine struct {
	backend  Backend
	sessions Sessions
	grace    time.Duration
	exec     Executor
	after    AfterFunc
	now      func() time.Time
	onClosed func()
	logger   zerolog.Logger

	notifyMu         sync.Mutex
	storeMu          sync.Mutex
	mu               sync.Mutex
	state            model.State
	// supportRequested is the customer session an agent was paged for.
	supportRequested string
	historyFor       int64
	graceGen         uint64
	graceTimer       Timer

	subsMu  sync.Mutex
	subs    map[int]func(model.State)
	nextSub int
}

func New(backend Backend, sessions Sessions, opts Options) *Machine {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Executor == nil {
		opts.Executor = Inline{}
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = stdAfterFunc
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Machine{
		backend:  backend,
		sessions: sessions,
		grace:    opts.GracePeriod,
		exec:     opts.Executor,
		after:    opts.AfterFunc,
		now:      opts.Now,
		onClosed: opts.OnClosed,
		logger:   logging.Component(opts.Logger, "chat"),
		state:    model.State{Phase: model.PhaseUnbound},
		subs:     make(map[int]func(model.State)),
	}
}

// State returns a snapshot of the current state.
func (m *Machine) State() model.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Subscribe calls fn with a snapshot after every transition. fn must not call
// methods that change the machine's state.
func (m *Machine) Subscribe(fn func(model.State)) func() {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
		})
	}
}

// update applies fn under the state lock. When fn reports a change the
// resulting snapshot is published to subscribers outside the lock.
func (m *Machine) update(fn func(s *model.State) bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	changed := fn(&m.state)
	snap := m.state.Clone()
	m.mu.Unlock()

	if !changed {
		return
	}

	m.subsMu.Lock()
	subs := make([]func(model.State), 0, len(m.subs))
	for id := 0; id < m.nextSub; id++ {
		if fn, ok := m.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	m.subsMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// SetMode switches what the front end shows.
func (m *Machine) SetMode(mode model.Mode) {
	m.update(func(s *model.State) bool {
		if s.Mode == mode {
			return false
		}
		s.Mode = mode
		return true
	})
}

// SetOpen records whether the widget is shown. It never touches session data.
func (m *Machine) SetOpen(open bool) {
	m.update(func(s *model.State) bool {
		if s.Open == open {
			return false
		}
		s.Open = open
		return true
	})
}

// SessionAcquired moves an unbound machine onto customerSessionID. With a
// restored chat session id the binding is resumed and validated by a history
// fetch; otherwise an agent is paged once for the session.
func (m *Machine) SessionAcquired(customerSessionID string, restoredChatID int64) {
	var (
		applied bool
		page    bool
	)
	m.update(func(s *model.State) bool {
		if s.Phase != model.PhaseUnbound && s.Session.CustomerSessionID == customerSessionID {
			return false
		}
		m.cancelGraceLocked()
		applied = true

		s.Session = model.Session{CustomerSessionID: customerSessionID}
		s.Mode = model.ModeChat
		if restoredChatID > 0 {
			s.Session.ChatSessionID = restoredChatID
			s.Phase = model.PhaseBound
			m.historyFor = 0
			return true
		}
		s.Phase = model.PhaseAwaitingAgent
		page = m.supportRequested != customerSessionID
		if page {
			m.supportRequested = customerSessionID
		}
		return true
	})
	if !applied {
		return
	}

	m.logger.Info().
		Str("customer_session", customerSessionID).
		Int64("restored_chat", restoredChatID).
		Msg("session acquired")

	if restoredChatID > 0 {
		m.loadHistory(customerSessionID, restoredChatID)
		return
	}
	if page {
		m.requestSupport(customerSessionID)
	}
}

func (m *Machine) requestSupport(customerSessionID string) {
	m.exec.Go("request_support", func() error {
		err := m.sessions.RequestSupport(context.Background(), customerSessionID)
		if err != nil {
			m.logger.Warn().Err(err).Str("customer_session", customerSessionID).Msg("support request failed")
		}
		return err
	})
}

func (m *Machine) cancelGraceLocked() {
	m.graceGen++
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
}

// writeStore serializes writes of the persisted chat session id. write runs
// only if valid still holds for the state at that moment, so a write issued
// for a binding that has since changed is skipped.
func (m *Machine) writeStore(valid func(s *model.State) bool, write func(ctx context.Context) error) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	ok := valid(&m.state)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return write(context.Background())
}

func unboundChat(s *model.State) bool {
	return s.Session.ChatSessionID == 0
}
