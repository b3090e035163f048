package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-widget/internal/dto"
	"chat-widget/internal/model"

	"github.com/rs/zerolog"
)

type bulkCall struct {
	CustomerSessionID string
	ChatSessionID     int64
	Messages          []model.Message
}

type fakeBackend struct {
	mu         sync.Mutex
	history    map[int64][]model.Message
	historyErr map[int64]error
	historyFor []int64
	sent       []model.MessageBody
	sendErr    error
	bulk       []bulkCall
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history:    make(map[int64][]model.Message),
		historyErr: make(map[int64]error),
	}
}

func (f *fakeBackend) History(ctx context.Context, customerSessionID string, chatSessionID int64) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyFor = append(f.historyFor, chatSessionID)
	if err := f.historyErr[chatSessionID]; err != nil {
		return nil, err
	}
	return model.CloneMessages(f.history[chatSessionID]), nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, customerSessionID string, chatSessionID int64, body model.MessageBody) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	return f.sendErr
}

func (f *fakeBackend) SendBulk(ctx context.Context, customerSessionID string, chatSessionID int64, messages []model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, bulkCall{customerSessionID, chatSessionID, model.CloneMessages(messages)})
	return nil
}

type fakeSessions struct {
	mu        sync.Mutex
	persisted []int64
	stored    int64
	cleared   int
	support   []string

	// When set, PersistChat signals persistStarted and waits for persistGate.
	persistStarted chan struct{}
	persistGate    chan struct{}
}

func (f *fakeSessions) PersistChat(ctx context.Context, chatSessionID int64) error {
	if f.persistStarted != nil {
		close(f.persistStarted)
		<-f.persistGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted = append(f.persisted, chatSessionID)
	f.stored = chatSessionID
	return nil
}

func (f *fakeSessions) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.stored = 0
	return nil
}

func (f *fakeSessions) RequestSupport(ctx context.Context, customerSessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.support = append(f.support, customerSessionID)
	return nil
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// fire runs timer i even if it was stopped, like a timer that had already
// been dequeued when Stop was called.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.fn()
}

type harness struct {
	machine  *Machine
	backend  *fakeBackend
	sessions *fakeSessions
	clock    *fakeClock
	closed   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(),
		sessions: &fakeSessions{},
		clock:    &fakeClock{},
	}
	h.machine = New(h.backend, h.sessions, Options{
		GracePeriod: 5 * time.Second,
		AfterFunc:   h.clock.AfterFunc,
		Now:         func() time.Time { return time.Unix(1700000000, 0) },
		OnClosed:    func() { h.closed++ },
		Logger:      zerolog.Nop(),
	})
	return h
}

func frame(t *testing.T, event string, data any) dto.Frame {
	t.Helper()
	f := dto.Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s: %v", event, err)
		}
		f.Data = raw
	}
	return f
}

func connected(t *testing.T, ids any) dto.Frame {
	return frame(t, dto.EventAgentConnected, map[string]any{"chatSessionId": ids})
}

func TestQueuedMessagesFlushedOnceInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.machine.SessionAcquired("cust", 0)
	for _, text := range []string{"one", "two", "three"} {
		if err := h.machine.Send(ctx, model.TextBody(text)); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}
	if got := len(h.machine.State().Pending); got != 3 {
		t.Fatalf("expected 3 queued messages, got %d", got)
	}
	if got := len(h.machine.State().Messages); got != 3 {
		t.Fatalf("expected queued messages to be displayed, got %d", got)
	}

	h.machine.Handle("cust", connected(t, 7))
	h.machine.Handle("cust", connected(t, 7))

	if len(h.backend.bulk) != 1 {
		t.Fatalf("expected exactly one bulk flush, got %d", len(h.backend.bulk))
	}
	call := h.backend.bulk[0]
	if call.ChatSessionID != 7 || call.CustomerSessionID != "cust" {
		t.Fatalf("unexpected bulk target %+v", call)
	}
	for i, want := range []string{"one", "two", "three"} {
		if call.Messages[i].Body.Text != want {
			t.Fatalf("message %d: expected %q got %q", i, want, call.Messages[i].Body.Text)
		}
		if call.Messages[i].Timestamp != 1700000000 {
			t.Fatalf("message %d: unexpected timestamp %d", i, call.Messages[i].Timestamp)
		}
	}

	st := h.machine.State()
	if len(st.Pending) != 0 {
		t.Fatalf("queue should be empty after bind, got %d", len(st.Pending))
	}
	if st.Phase != model.PhaseBound || st.Session.ChatSessionID != 7 {
		t.Fatalf("expected bound to 7, got %s/%d", st.Phase, st.Session.ChatSessionID)
	}
	if len(h.sessions.persisted) != 1 || h.sessions.persisted[0] != 7 {
		t.Fatalf("expected chat session 7 persisted once, got %v", h.sessions.persisted)
	}
	if len(h.backend.historyFor) != 1 {
		t.Fatalf("expected history fetched once, got %d", len(h.backend.historyFor))
	}
}

func TestNoFlushWithoutQueuedMessages(t *testing.T) {
	h := newHarness(t)
	h.machine.SessionAcquired("cust", 0)
	h.machine.Handle("cust", connected(t, 3))

	if len(h.backend.bulk) != 0 {
		t.Fatalf("expected no bulk flush, got %d", len(h.backend.bulk))
	}
}

func TestSessionWithoutChatRequestsSupportOnce(t *testing.T) {
	h := newHarness(t)

	h.machine.SessionAcquired("cust", 0)
	h.machine.SessionAcquired("cust", 0)

	if len(h.sessions.support) != 1 || h.sessions.support[0] != "cust" {
		t.Fatalf("expected one support request, got %v", h.sessions.support)
	}
	st := h.machine.State()
	if st.Phase != model.PhaseAwaitingAgent || st.Mode != model.ModeChat {
		t.Fatalf("unexpected state %s/%s", st.Phase, st.Mode)
	}
}

func TestRestoredChatResumesWithoutSupportRequest(t *testing.T) {
	h := newHarness(t)
	h.backend.history[4] = []model.Message{
		{From: "Agent", Body: model.TextBody("welcome back"), Timestamp: 1},
	}

	h.machine.SessionAcquired("cust", 4)

	if len(h.sessions.support) != 0 {
		t.Fatalf("expected no support request, got %v", h.sessions.support)
	}
	st := h.machine.State()
	if st.Phase != model.PhaseBound || st.Session.ChatSessionID != 4 {
		t.Fatalf("expected bound to 4, got %s/%d", st.Phase, st.Session.ChatSessionID)
	}
	if len(st.Messages) != 1 || st.Messages[0].Body.Text != "welcome back" {
		t.Fatalf("expected history loaded, got %+v", st.Messages)
	}
}

func TestLastChatSessionIDWins(t *testing.T) {
	h := newHarness(t)
	h.machine.SessionAcquired("cust", 0)

	h.machine.Handle("cust", connected(t, []int64{5, 9, 12}))

	st := h.machine.State()
	if st.Session.ChatSessionID != 12 {
		t.Fatalf("expected binding to 12, got %d", st.Session.ChatSessionID)
	}
	if len(h.sessions.persisted) != 1 || h.sessions.persisted[0] != 12 {
		t.Fatalf("expected only 12 persisted, got %v", h.sessions.persisted)
	}
	if len(h.backend.historyFor) != 1 || h.backend.historyFor[0] != 12 {
		t.Fatalf("expected history for 12 only, got %v", h.backend.historyFor)
	}
}

func TestGracePeriodKeepsStateThenResets(t *testing.T) {
	h := newHarness(t)
	online := true
	h.machine.SessionAcquired("cust", 0)
	h.machine.SetAgentsOnline(online)
	h.machine.Handle("cust", connected(t, 7))
	h.machine.Handle("cust", frame(t, dto.EventMessage, map[string]any{"from": "Agent", "message": "hi", "timestamp": 2}))
	h.machine.Handle("cust", frame(t, dto.EventAgentTyping, nil))
	h.machine.Handle("cust", frame(t, dto.EventAgentCompleted, map[string]any{"from": "Agent", "message": "bye", "timestamp": 3}))

	st := h.machine.State()
	if st.Phase != model.PhaseDisconnecting {
		t.Fatalf("expected disconnecting, got %s", st.Phase)
	}
	if st.Presence.AgentDisconnected == nil || st.Presence.AgentDisconnected.Body.Text != "bye" {
		t.Fatalf("expected disconnect notice, got %+v", st.Presence.AgentDisconnected)
	}
	if st.Presence.AgentTyping {
		t.Fatal("typing should be cleared on completion")
	}
	if len(st.Messages) != 1 {
		t.Fatalf("messages should stay readable during grace, got %d", len(st.Messages))
	}
	if len(h.clock.timers) != 1 || h.clock.timers[0].d != 5*time.Second {
		t.Fatalf("expected one 5s grace timer, got %d", len(h.clock.timers))
	}
	if h.closed != 0 || h.sessions.cleared != 0 {
		t.Fatal("nothing should be reset before the grace period elapses")
	}

	h.clock.fire(0)

	st = h.machine.State()
	if st.Phase != model.PhaseUnbound || st.Mode != model.ModeNone {
		t.Fatalf("expected unbound/none, got %s/%s", st.Phase, st.Mode)
	}
	if len(st.Messages) != 0 || len(st.Pending) != 0 {
		t.Fatalf("expected cleared messages and queue, got %d/%d", len(st.Messages), len(st.Pending))
	}
	if st.Presence.AgentDisconnected != nil || st.Presence.AgentTyping {
		t.Fatalf("expected cleared presence, got %+v", st.Presence)
	}
	if st.Presence.AgentsOnline == nil || !*st.Presence.AgentsOnline {
		t.Fatal("agents online broadcast should survive a reset")
	}
	if st.Session.CustomerSessionID != "" || st.Session.ChatSessionID != 0 {
		t.Fatalf("expected in-memory session cleared, got %+v", st.Session)
	}
	if h.sessions.cleared != 1 {
		t.Fatalf("expected chat session cleared from store once, got %d", h.sessions.cleared)
	}
	if h.closed != 1 {
		t.Fatalf("expected closed callback once, got %d", h.closed)
	}
}

func TestReconnectDuringGraceWins(t *testing.T) {
	h := newHarness(t)
	h.machine.SessionAcquired("cust", 0)
	h.machine.Handle("cust", connected(t, 7))
	h.machine.Handle("cust", frame(t, dto.EventAgentCompleted, map[string]any{"from": "Agent", "message": "bye"}))

	h.machine.Handle("cust", connected(t, 8))
	if !h.clock.timers[0].stopped {
		t.Fatal("grace timer should be stopped by the new binding")
	}

	// A timer that already fired must still not reset the new binding.
	h.clock.fire(0)

	st := h.machine.State()
	if st.Phase != model.PhaseBound || st.Session.ChatSessionID != 8 {
		t.Fatalf("expected new binding 8 to survive, got %s/%d", st.Phase, st.Session.ChatSessionID)
	}
	if st.Presence.AgentDisconnected != nil {
		t.Fatal("disconnect notice belongs to the old binding")
	}
	if h.closed != 0 || h.sessions.cleared != 0 {
		t.Fatal("stale timer must not reset state")
	}
}

func TestHistoryFailureInvalidatesRestoredChat(t *testing.T) {
	h := newHarness(t)
	h.backend.historyErr[4] = errors.New("404 Not Found")

	h.machine.SessionAcquired("cust", 4)

	st := h.machine.State()
	if st.Phase != model.PhaseAwaitingAgent || st.Session.ChatSessionID != 0 {
		t.Fatalf("expected demotion to awaiting agent, got %s/%d", st.Phase, st.Session.ChatSessionID)
	}
	if h.sessions.cleared != 1 {
		t.Fatalf("expected stored chat session cleared, got %d", h.sessions.cleared)
	}
	if len(h.sessions.support) != 1 || h.sessions.support[0] != "cust" {
		t.Fatalf("expected a fresh support request, got %v", h.sessions.support)
	}
}

func TestHistoryMergesWithoutDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.machine.SessionAcquired("cust", 0)
	_ = h.machine.Send(ctx, model.TextBody("hello"))

	h.backend.history[7] = []model.Message{
		{From: "Agent", Body: model.TextBody("earlier"), Timestamp: 10},
		{Body: model.TextBody("hello"), Timestamp: 1700000000},
	}
	h.machine.Handle("cust", connected(t, 7))

	st := h.machine.State()
	if len(st.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %+v", st.Messages)
	}
	if st.Messages[0].Body.Text != "earlier" || st.Messages[1].Body.Text != "hello" {
		t.Fatalf("unexpected order %+v", st.Messages)
	}
}

func TestStaleCompletionIsIgnored(t *testing.T) {
	h := newHarness(t)
	var deferred []func() error
	h.machine.exec = executorFunc(func(name string, fn func() error) {
		deferred = append(deferred, fn)
	})
	h.backend.historyErr[4] = errors.New("500 Internal Server Error")

	h.machine.SessionAcquired("cust", 4)
	h.machine.Handle("cust", connected(t, 9))

	for _, fn := range deferred {
		_ = fn()
	}

	st := h.machine.State()
	if st.Phase != model.PhaseBound || st.Session.ChatSessionID != 9 {
		t.Fatalf("late history failure for 4 must not touch binding 9, got %s/%d", st.Phase, st.Session.ChatSessionID)
	}
	if h.sessions.cleared != 0 || len(h.sessions.support) != 0 {
		t.Fatal("stale completion should be a no-op")
	}
}

func TestSendWhileBound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.machine.SessionAcquired("cust", 0)
	h.machine.Handle("cust", connected(t, 7))

	if err := h.machine.Send(ctx, model.TextBody("direct")); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(h.backend.sent) != 1 || h.backend.sent[0].Text != "direct" {
		t.Fatalf("expected one direct send, got %v", h.backend.sent)
	}
	if st := h.machine.State(); len(st.Pending) != 0 || len(st.Messages) != 0 {
		t.Fatalf("bound sends are not queued or echoed locally, got %+v", st)
	}

	h.backend.sendErr = errors.New("500 Internal Server Error")
	if err := h.machine.Send(ctx, model.TextBody("fails")); err == nil {
		t.Fatal("expected send error to surface")
	}
	if st := h.machine.State(); len(st.Pending) != 0 {
		t.Fatal("failed sends must not be re-queued")
	}
	if err := h.machine.Send(ctx, model.TextBody("  ")); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestEventsForOtherSessionsIgnored(t *testing.T) {
	h := newHarness(t)
	h.machine.SessionAcquired("cust", 0)

	h.machine.Handle("someone-else", connected(t, 7))
	h.machine.Handle("someone-else", frame(t, dto.EventMessage, map[string]any{"from": "Agent", "message": "hi"}))

	st := h.machine.State()
	if st.Phase != model.PhaseAwaitingAgent || len(st.Messages) != 0 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestTypingAndSubscribers(t *testing.T) {
	h := newHarness(t)
	var snapshots []model.State
	unsubscribe := h.machine.Subscribe(func(s model.State) {
		snapshots = append(snapshots, s)
	})

	h.machine.SessionAcquired("cust", 0)
	h.machine.Handle("cust", connected(t, 7))
	h.machine.Handle("cust", frame(t, dto.EventAgentTyping, nil))
	if !h.machine.State().Presence.AgentTyping {
		t.Fatal("expected typing")
	}
	h.machine.Handle("cust", frame(t, dto.EventAgentStopTyping, nil))
	if h.machine.State().Presence.AgentTyping {
		t.Fatal("expected typing cleared")
	}

	count := len(snapshots)
	if count < 4 {
		t.Fatalf("expected a snapshot per transition, got %d", count)
	}
	if snapshots[0].Phase != model.PhaseAwaitingAgent {
		t.Fatalf("unexpected first snapshot %s", snapshots[0].Phase)
	}

	unsubscribe()
	h.machine.SetOpen(true)
	if len(snapshots) != count {
		t.Fatal("unsubscribed listener received a snapshot")
	}
}

type executorFunc func(name string, fn func() error)

func (f executorFunc) Go(name string, fn func() error) {
	f(name, fn)
}

func TestPersistSkippedAfterInvalidation(t *testing.T) {
	h := newHarness(t)
	var deferred []func() error
	h.machine.exec = executorFunc(func(name string, fn func() error) {
		deferred = append(deferred, fn)
	})
	h.backend.historyErr[7] = errors.New("404 Not Found")

	h.machine.SessionAcquired("cust", 0)
	h.machine.Handle("cust", connected(t, 7))
	if len(deferred) != 3 {
		t.Fatalf("expected support, persist and history jobs, got %d", len(deferred))
	}
	persist, history := deferred[1], deferred[2]

	_ = history()
	_ = persist()

	if len(h.sessions.persisted) != 0 {
		t.Fatalf("persist for an invalidated binding must be skipped, got %v", h.sessions.persisted)
	}
	if h.sessions.stored != 0 || h.sessions.cleared != 1 {
		t.Fatalf("expected cleared store, got stored=%d cleared=%d", h.sessions.stored, h.sessions.cleared)
	}
}

func TestClearWaitsForInFlightPersist(t *testing.T) {
	h := newHarness(t)
	var deferred []func() error
	h.machine.exec = executorFunc(func(name string, fn func() error) {
		deferred = append(deferred, fn)
	})
	h.sessions.persistStarted = make(chan struct{})
	h.sessions.persistGate = make(chan struct{})
	h.backend.historyErr[7] = errors.New("404 Not Found")

	h.machine.SessionAcquired("cust", 0)
	h.machine.Handle("cust", connected(t, 7))
	persist, history := deferred[1], deferred[2]

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = persist()
	}()
	<-h.sessions.persistStarted

	go func() {
		defer wg.Done()
		_ = history()
	}()
	deadline := time.Now().Add(2 * time.Second)
	for h.machine.State().Phase != model.PhaseAwaitingAgent {
		if time.Now().After(deadline) {
			t.Fatal("history failure did not demote the binding")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(h.sessions.persistGate)
	wg.Wait()

	h.sessions.mu.Lock()
	defer h.sessions.mu.Unlock()
	if h.sessions.stored != 0 {
		t.Fatalf("clear must land after the in-flight persist, store holds %d", h.sessions.stored)
	}
	if h.sessions.cleared != 1 {
		t.Fatalf("expected one clear, got %d", h.sessions.cleared)
	}
}
