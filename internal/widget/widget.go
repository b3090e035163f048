// Package widget wires the session manager, the chat state machine and the
// realtime channel into the object a front end drives.
package widget

import (
	"context"
	"fmt"
	"sync"

	"chat-widget/internal/api"
	"chat-widget/internal/config"
	"chat-widget/internal/logging"
	"chat-widget/internal/model"
	"chat-widget/internal/queue"
	"chat-widget/internal/service/chat"
	"chat-widget/internal/service/session"
	"chat-widget/internal/store"
	"chat-widget/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type Deps struct {
	Client    *api.Client
	Store     store.Store
	Executor  chat.Executor
	AfterFunc chat.AfterFunc
	// OnClosed is called after an ended conversation has been reset.
	OnClosed  func()
	Logger    zerolog.Logger
}

type Widget struct {
	cfg      *config.Config
	sessions *session.Manager
	machine  *chat.Machine
	channel  *websocket.Channel
	logger   zerolog.Logger
	onClosed func()

	mu       sync.Mutex
	watchers int
	closers  []func()
	closed   bool
}

// New assembles a widget from already constructed collaborators.
func New(cfg *config.Config, deps Deps) (*Widget, error) {
	logger := logging.Component(deps.Logger, "widget")

	channel, err := websocket.NewChannel(websocket.Config{URL: cfg.WSURL}, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("widget: %w", err)
	}

	w := &Widget{
		cfg:      cfg,
		sessions: session.New(deps.Client, deps.Store, deps.Logger),
		channel:  channel,
		logger:   logger,
		onClosed: deps.OnClosed,
	}
	w.machine = chat.New(deps.Client, w.sessions, chat.Options{
		GracePeriod: cfg.GracePeriod,
		Executor:    deps.Executor,
		AfterFunc:   deps.AfterFunc,
		OnClosed:    w.conversationClosed,
		Logger:      deps.Logger,
	})

	unsubMachine := w.machine.Subscribe(w.reconcile)
	unsubChannel := channel.Subscribe(func(ev websocket.Event) {
		w.machine.Handle(ev.SessionID, ev.Frame)
	})
	w.closers = append(w.closers, unsubMachine, unsubChannel, channel.Close)
	return w, nil
}

// Open builds a production widget: HTTP client, configured store, worker
// pool and realtime channel.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*Widget, error) {
	opts := []api.Option{api.WithLogger(logging.Component(logger, "api")), api.WithTimeout(cfg.HTTPTimeout)}
	queueOpts := []queue.Option{queue.WithLogger(logging.Component(logger, "queue"))}
	if reg != nil {
		opts = append(opts, api.WithMetrics(reg))
		queueOpts = append(queueOpts, queue.WithMetrics(reg))
	}
	client := api.NewClient(cfg.APIURL, cfg.AccessToken, opts...)

	s, err := store.Open(ctx, cfg.Store, cfg.StoreNamespace())
	if err != nil {
		return nil, err
	}

	workers := queue.NewRequestQueueManager(64, cfg.Workers, queueOpts...)

	w, err := New(cfg, Deps{
		Client:   client,
		Store:    s,
		Executor: workers,
		Logger:   logger,
	})
	if err != nil {
		workers.Shutdown()
		s.Close()
		return nil, err
	}
	w.closers = append(w.closers, workers.Shutdown, func() { _ = s.Close() })
	return w, nil
}

// Start restores the persisted customer session. A visitor is registered
// right away unless the pre-chat form has to be filled in first. Starting a
// widget that already holds a customer session does nothing.
func (w *Widget) Start(ctx context.Context) error {
	if w.machine.State().Phase != model.PhaseUnbound {
		return nil
	}
	existing, err := w.sessions.Restore(ctx)
	if err != nil {
		return err
	}
	if existing == "" && w.cfg.WithForm {
		w.machine.SetMode(model.ModeForm)
		return nil
	}
	return w.acquire(ctx, existing, session.Visitor{})
}

// SubmitForm registers the visitor with the pre-chat form details.
func (w *Widget) SubmitForm(ctx context.Context, name, email string) error {
	existing, err := w.sessions.Restore(ctx)
	if err != nil {
		return err
	}
	return w.acquire(ctx, existing, session.Visitor{Name: name, Email: email})
}

func (w *Widget) acquire(ctx context.Context, candidate string, visitor session.Visitor) error {
	id, err := w.sessions.Acquire(ctx, candidate, visitor)
	if err != nil {
		w.logger.Error().Err(err).Msg("could not acquire customer session")
		return err
	}

	var chatID int64
	if id == candidate {
		restored, ok, err := w.sessions.RestoreChat(ctx)
		if err != nil {
			return err
		}
		if ok {
			chatID = restored
		}
	} else if err := w.sessions.Clear(ctx); err != nil {
		// A chat id stored for another customer session cannot be resumed.
		return err
	}

	w.machine.SessionAcquired(id, chatID)
	return nil
}

// Show opens the widget. Showing an open widget changes nothing.
func (w *Widget) Show(ctx context.Context) error {
	w.machine.SetOpen(true)
	w.reconcile(w.machine.State())

	s := w.State()
	if s.Phase == model.PhaseUnbound && s.Mode != model.ModeForm {
		return w.Start(ctx)
	}
	return nil
}

// Hide closes the widget without touching session data.
func (w *Widget) Hide(ctx context.Context) {
	w.machine.SetOpen(false)
	w.reconcile(w.machine.State())
}

func (w *Widget) Toggle(ctx context.Context) error {
	if w.State().Open {
		w.Hide(ctx)
		return nil
	}
	return w.Show(ctx)
}

// WatchPresence keeps the realtime channel up for a presence-only consumer
// until the returned release function is called. Without a customer session
// there is nothing to connect to; the channel opens once one is acquired.
func (w *Widget) WatchPresence(ctx context.Context) func() {
	w.mu.Lock()
	w.watchers++
	w.mu.Unlock()
	w.reconcile(w.machine.State())

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			w.watchers--
			w.mu.Unlock()
			w.reconcile(w.machine.State())
		})
	}
}

// Send dispatches a text message from the customer.
func (w *Widget) Send(ctx context.Context, text string) error {
	return w.machine.Send(ctx, model.TextBody(text))
}

func (w *Widget) State() model.State {
	return w.machine.State()
}

// Subscribe calls fn with a snapshot after every state change.
func (w *Widget) Subscribe(fn func(model.State)) func() {
	return w.machine.Subscribe(fn)
}

// Connected reports whether the realtime connection is currently open.
func (w *Widget) Connected() bool {
	return w.channel.Connected()
}

func (w *Widget) Texts() config.Texts {
	return w.cfg.Texts
}

// Close tears down the channel and releases the store and worker pool.
func (w *Widget) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	closers := w.closers
	w.mu.Unlock()

	for _, fn := range closers {
		fn()
	}
}

func (w *Widget) conversationClosed() {
	w.machine.SetOpen(false)
	w.reconcile(w.machine.State())
	if w.onClosed != nil {
		w.onClosed()
	}
}

// reconcile drives the channel from the current state. The first connection
// waits for a consumer: the widget is open, a presence listener is registered
// or a chat is bound. Once up it stays up for as long as a customer session is
// known, so an agent.connected pushed while the widget is hidden still binds.
func (w *Widget) reconcile(s model.State) {
	w.mu.Lock()
	watchers := w.watchers
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	sid := s.Session.CustomerSessionID
	if sid == "" {
		w.channel.Disconnect()
		return
	}

	active := w.channel.SessionID() != ""
	if !active && !s.Open && watchers == 0 && !s.Session.Bound() {
		return
	}
	if err := w.channel.Connect(context.Background(), sid); err != nil {
		w.logger.Warn().Err(err).Msg("realtime connect failed")
	}
}
