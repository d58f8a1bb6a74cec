package relay

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/events"
)

type State int32

const (
	StateInitializing State = iota
	StateIdle
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type eventKind int

const (
	evAttach eventKind = iota
	evFrame
	evClose
	evSnapshot
)

type snapshotResult struct {
	history []chat.Message
	err     error
}

type event struct {
	kind    eventKind
	conn    Conn
	connID  string
	msgType int
	data    []byte
	code    int
	reply   chan snapshotResult
}

// Actor owns one thread. Everything below the mailbox is touched only by the
// run goroutine; mu guards the connection slot and the retired flag, which
// are also read by HTTP handlers and the eviction sweep.
type Actor struct {
	threadID string
	deps     Deps
	opts     Options
	log      zerolog.Logger
	upgrader websocket.Upgrader

	ctx     context.Context
	cancel  context.CancelFunc
	mailbox chan event
	done    chan struct{}
	// prev is the retired actor this one replaces; hydration waits for its
	// final flush.
	prev   *Actor
	forget func(*Actor)

	state        atomic.Int32
	lastActivity atomic.Int64
	evicted      atomic.Bool

	mu        sync.Mutex
	connected bool
	retired   bool

	// released is signaled whenever the slot is freed outside the run
	// goroutine, e.g. by a failed handshake.
	released chan struct{}

	history     []chat.Message
	hydrateErr  error
	dirty       bool
	conn        Conn
	connID      string
	writeFailed bool
}

func newActor(parent context.Context, threadID string, deps Deps, opts Options, prev *Actor, forget func(*Actor)) *Actor {
	ctx, cancel := context.WithCancel(parent)
	a := &Actor{
		threadID: threadID,
		deps:     deps,
		opts:     opts,
		log:      log.With().Str("component", "relay").Str("thread_id", threadID).Logger(),
		upgrader: websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		ctx:      ctx,
		cancel:   cancel,
		mailbox:  make(chan event, opts.MailboxSize),
		done:     make(chan struct{}),
		released: make(chan struct{}, 1),
		prev:     prev,
		forget:   forget,
	}
	a.state.Store(int32(StateInitializing))
	a.touch()
	deps.Metrics.ActorActivated()
	go a.run()
	return a
}

func (a *Actor) ThreadID() string { return a.threadID }

func (a *Actor) State() State { return State(a.state.Load()) }

// Done is closed once the actor has stopped and flushed.
func (a *Actor) Done() <-chan struct{} { return a.done }

func (a *Actor) setState(s State) { a.state.Store(int32(s)) }

func (a *Actor) touch() { a.lastActivity.Store(time.Now().UnixNano()) }

func (a *Actor) LastActivity() time.Time { return time.Unix(0, a.lastActivity.Load()) }

// ServeHTTP accepts a WebSocket for this thread. A second concurrent
// connection is answered with 409.
func (a *Actor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := a.Accept(w, r); errors.Is(err, ErrActorRetired) {
		http.Error(w, "session actor is shutting down", http.StatusServiceUnavailable)
	}
}

// Accept claims the connection slot, upgrades r and attaches the connection.
// ErrActorRetired is returned before anything has been written to w, so the
// caller may retry on a fresh actor.
func (a *Actor) Accept(w http.ResponseWriter, r *http.Request) error {
	if err := a.claim(); err != nil {
		if errors.Is(err, ErrThreadBusy) {
			a.deps.Metrics.ConnectionRejected("busy")
			a.log.Info().Str("remote", r.RemoteAddr).Msg("rejecting second connection")
			http.Error(w, "thread already has an open connection", http.StatusConflict)
		}
		return err
	}
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		a.release()
		a.deps.Metrics.ConnectionRejected("handshake")
		a.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return errors.Wrap(err, "websocket upgrade")
	}
	a.attach(ws)
	return nil
}

// attach hands a connection whose slot is already claimed to the actor.
func (a *Actor) attach(conn Conn) {
	// Close frames are answered by the actor after it has persisted, not by
	// the library's default echo.
	conn.SetCloseHandler(func(int, string) error { return nil })
	connID := uuid.NewString()
	a.post(event{kind: evAttach, conn: conn, connID: connID})
	go a.readLoop(conn, connID)
}

func (a *Actor) readLoop(conn Conn, connID string) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			a.post(event{kind: evClose, conn: conn, connID: connID, code: closeCodeFromError(err)})
			return
		}
		if !a.post(event{kind: evFrame, conn: conn, connID: connID, msgType: mt, data: data}) {
			return
		}
	}
}

// post enqueues ev, blocking while the mailbox is full. It reports false once
// the actor has stopped.
func (a *Actor) post(ev event) bool {
	select {
	case a.mailbox <- ev:
		return true
	case <-a.done:
		if ev.kind == evAttach && ev.conn != nil {
			_ = ev.conn.Close()
		}
		return false
	}
}

// History returns a copy of the in-memory history, as seen between two
// mailbox events.
func (a *Actor) History(ctx context.Context) ([]chat.Message, error) {
	reply := make(chan snapshotResult, 1)
	select {
	case a.mailbox <- event{kind: evSnapshot, reply: reply}:
	case <-a.done:
		return nil, ErrActorRetired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.history, res.err
	case <-a.done:
		return nil, ErrActorRetired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Actor) claim() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.retired {
		return ErrActorRetired
	}
	if a.connected {
		return ErrThreadBusy
	}
	a.connected = true
	return nil
}

func (a *Actor) release() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	select {
	case a.released <- struct{}{}:
	default:
	}
}

func (a *Actor) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Actor) Retired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retired
}

// retire stops the actor unconditionally. An attached connection is closed
// with 1001 after a final flush.
func (a *Actor) retire() {
	a.mu.Lock()
	a.retired = true
	a.mu.Unlock()
	a.cancel()
}

// tryRetire retires the actor only if it has no connection, is idle, and has
// been inactive for at least idle. The check and the retirement are atomic
// against claim.
func (a *Actor) tryRetire(now time.Time, idle time.Duration) bool {
	a.mu.Lock()
	if a.retired || a.connected || a.State() != StateIdle || len(a.mailbox) > 0 {
		a.mu.Unlock()
		return false
	}
	if now.Sub(a.LastActivity()) < idle {
		a.mu.Unlock()
		return false
	}
	a.retired = true
	a.mu.Unlock()
	a.evicted.Store(true)
	a.cancel()
	return true
}

func (a *Actor) run() {
	defer close(a.done)
	if err := a.hydrate(); err != nil {
		a.hydrateErr = err
		a.log.Error().Err(err).Msg("hydration failed, retiring actor")
		a.retire()
	} else {
		a.setState(StateIdle)
		a.publish(events.TypeThreadActivated, nil)
		a.log.Debug().Int("messages", len(a.history)).Msg("actor activated")
	}
	for {
		select {
		case ev := <-a.mailbox:
			if a.ctx.Err() != nil {
				a.handleRetired(ev)
				continue
			}
			a.handle(ev)
		case <-a.ctx.Done():
			a.shutdown()
			return
		}
	}
}

func (a *Actor) hydrate() error {
	if a.prev != nil {
		select {
		case <-a.prev.done:
		case <-a.ctx.Done():
			return errors.Wrap(a.ctx.Err(), "waiting for previous actor")
		}
		a.prev = nil
	}
	ctx, cancel := context.WithTimeout(a.ctx, a.opts.PersistTimeout)
	defer cancel()
	history, err := a.deps.Store.Load(ctx, a.threadID)
	if err != nil {
		return errors.Wrapf(err, "load history for thread %s", a.threadID)
	}
	if history == nil {
		history = []chat.Message{}
	}
	a.history = history
	return nil
}

func (a *Actor) shutdown() {
	if a.conn != nil {
		a.detach(websocket.CloseGoingAway)
	}
	// A slot claimed before retirement either arrives as an attach or is
	// released by a failed handshake.
	for a.isConnected() {
		select {
		case ev := <-a.mailbox:
			a.handleRetired(ev)
		case <-a.released:
		}
	}
	if a.dirty && a.hydrateErr == nil {
		if err := a.persist(); err != nil {
			a.log.Error().Err(err).Msg("final flush failed")
		}
	}
	a.setState(StateClosed)
	if a.forget != nil {
		a.forget(a)
	}
	a.deps.Metrics.ActorStopped(a.evicted.Load())
	a.log.Debug().Bool("evicted", a.evicted.Load()).Msg("actor stopped")
}

func (a *Actor) handle(ev event) {
	a.touch()
	switch ev.kind {
	case evAttach:
		a.conn = ev.conn
		a.connID = ev.connID
		a.writeFailed = false
		a.deps.Metrics.ConnectionOpened()
		a.log.Info().Str("conn_id", ev.connID).Str("remote", remoteAddr(ev.conn)).Msg("connection attached")
	case evFrame:
		if ev.conn != a.conn {
			return
		}
		if ev.msgType != websocket.TextMessage {
			a.log.Debug().Int("type", ev.msgType).Msg("ignoring non-text frame")
			return
		}
		a.handleText(string(ev.data))
	case evClose:
		if ev.conn != a.conn {
			return
		}
		a.log.Info().Int("code", ev.code).Msg("connection closed by peer")
		a.detach(ev.code)
	case evSnapshot:
		ev.reply <- snapshotResult{history: chat.CloneMessages(a.history)}
	}
}

// handleRetired drains events that arrive after retirement.
func (a *Actor) handleRetired(ev event) {
	switch ev.kind {
	case evAttach:
		code, reason := websocket.CloseGoingAway, CloseReason
		if a.hydrateErr != nil {
			code = websocket.CloseInternalServerErr
			_ = ev.conn.SetWriteDeadline(time.Now().Add(a.opts.WriteTimeout))
			_ = ev.conn.WriteMessage(websocket.TextMessage, []byte(ErrorPrefix+a.hydrateErr.Error()))
		}
		a.closeConn(ev.conn, code, reason)
		a.release()
	case evSnapshot:
		if a.hydrateErr != nil {
			ev.reply <- snapshotResult{err: a.hydrateErr}
			return
		}
		ev.reply <- snapshotResult{history: chat.CloneMessages(a.history)}
	}
}

// detach persists the history, closes the current connection with code and
// frees the slot. Persisting here is an idempotent rewrite.
func (a *Actor) detach(code int) {
	conn := a.conn
	if conn == nil {
		return
	}
	if err := a.persist(); err != nil {
		a.log.Error().Err(err).Msg("flush on close failed")
	}
	a.conn = nil
	a.connID = ""
	// A new attach queued now is handled after this event completes.
	a.release()
	a.closeConn(conn, code, CloseReason)
	a.deps.Metrics.ConnectionClosed()
	a.publish(events.TypeThreadClosed, nil)
}

// failConnection reports err to the client and closes with 1011.
func (a *Actor) failConnection(err error) {
	a.log.Error().Err(err).Msg("turn failed")
	a.send(ErrorPrefix + err.Error())
	a.detach(websocket.CloseInternalServerErr)
}

func (a *Actor) closeConn(conn Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(sendableCloseCode(code), reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(a.opts.WriteTimeout)); err != nil {
		a.log.Debug().Err(err).Msg("close frame not delivered")
	}
	_ = conn.Close()
}

func (a *Actor) persist() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), a.opts.PersistTimeout)
	defer cancel()
	start := time.Now()
	err := a.deps.Store.Save(ctx, a.threadID, a.history)
	a.deps.Metrics.ObservePersist(time.Since(start), err)
	if err != nil {
		return errors.Wrapf(err, "persist thread %s", a.threadID)
	}
	a.dirty = false
	return nil
}

func (a *Actor) publish(typ string, err error) {
	if a.deps.Events == nil {
		return
	}
	ev := events.Event{Type: typ, ThreadID: a.threadID, MessageCount: len(a.history)}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := a.deps.Events.Publish(context.WithoutCancel(a.ctx), ev); perr != nil {
		a.log.Warn().Err(perr).Str("event", typ).Msg("event publish failed")
	}
}

func remoteAddr(c Conn) string {
	if c == nil || c.RemoteAddr() == nil {
		return ""
	}
	return c.RemoteAddr().String()
}
