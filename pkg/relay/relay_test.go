package relay

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/inference"
	"github.com/go-go-golems/chatrelay/pkg/persistence/historystore"
	"github.com/go-go-golems/chatrelay/pkg/persistence/kvstore"
)

// scriptedUpstream replays canned replies in order and records what it was
// asked.
type scriptedUpstream struct {
	mu      sync.Mutex
	replies [][]string
	calls   [][]chat.Message
}

func (u *scriptedUpstream) Stream(_ context.Context, messages []chat.Message) (inference.Stream, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, chat.CloneMessages(messages))
	if len(u.replies) == 0 {
		return inference.NewStaticStream("ok"), nil
	}
	next := u.replies[0]
	u.replies = u.replies[1:]
	return inference.NewStaticStream(next...), nil
}

func (u *scriptedUpstream) Calls() [][]chat.Message {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([][]chat.Message(nil), u.calls...)
}

// stallingUpstream yields its deltas and then blocks until the request
// context is canceled.
type stallingUpstream struct {
	deltas []string
}

func (u *stallingUpstream) Stream(ctx context.Context, _ []chat.Message) (inference.Stream, error) {
	return &stallingStream{ctx: ctx, deltas: append([]string(nil), u.deltas...)}, nil
}

type stallingStream struct {
	ctx    context.Context
	deltas []string
}

func (s *stallingStream) Next() (inference.Chunk, error) {
	if len(s.deltas) > 0 {
		d := s.deltas[0]
		s.deltas = s.deltas[1:]
		return inference.Chunk{Delta: d}, nil
	}
	<-s.ctx.Done()
	return inference.Chunk{}, s.ctx.Err()
}

func (s *stallingStream) Close() error { return nil }

type failingUpstream struct{}

func (failingUpstream) Stream(context.Context, []chat.Message) (inference.Stream, error) {
	return nil, errors.New("backend unavailable")
}

type harness struct {
	srv     *httptest.Server
	manager *ActorManager
	history *historystore.Store
	kv      kvstore.Store
}

func newHarness(t *testing.T, kv kvstore.Store, upstream inference.Client, opts Options) *harness {
	t.Helper()
	if kv == nil {
		kv = kvstore.NewMemoryStore()
	}
	hs, err := historystore.New(kv, historystore.WithRetry(1, time.Millisecond))
	require.NoError(t, err)
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	m, err := NewActorManager(Deps{Store: hs, Upstream: upstream}, opts)
	require.NoError(t, err)
	rt, err := NewRouter(m, hs)
	require.NoError(t, err)
	srv := httptest.NewServer(rt)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return &harness{srv: srv, manager: m, history: hs, kv: kv}
}

func (h *harness) wsURL(threadID string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/websocket?threadID=" + url.QueryEscape(threadID)
}

func (h *harness) dial(t *testing.T, threadID string) *websocket.Conn {
	t.Helper()
	c, resp, err := websocket.DefaultDialer.Dial(h.wsURL(threadID), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readText(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	return string(data)
}

// chatTurn sends text and collects frames up to and including [DONE].
func chatTurn(t *testing.T, c *websocket.Conn, text string) []string {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(text)))
	var frames []string
	for {
		f := readText(t, c)
		frames = append(frames, f)
		if f == DoneMarker {
			return frames
		}
		require.Less(t, len(frames), 100, "no [DONE] frame")
	}
}

func fetchHistory(t *testing.T, c *websocket.Conn) []chat.Message {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(GetHistoryCommand)))
	var msgs []chat.Message
	require.NoError(t, json.Unmarshal([]byte(readText(t, c)), &msgs))
	return msgs
}

// expectClose reads until the server's close frame and returns it.
func expectClose(t *testing.T, c *websocket.Conn) *websocket.CloseError {
	t.Helper()
	for {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
		return ce
	}
}

func closeClient(t *testing.T, c *websocket.Conn, code int) *websocket.CloseError {
	t.Helper()
	msg := websocket.FormatCloseMessage(code, "bye")
	require.NoError(t, c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	return expectClose(t, c)
}

func TestWorkersAIStreamIsRelayedAndPersisted(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"response\":\"Hi\"}\n\n")
		_, _ = io.WriteString(w, "data: {\"response\":\" there<|im_end|>\"}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(backend.Close)
	upstream, err := inference.NewWorkersAIClient(backend.Client(), backend.URL, "test-model", "token")
	require.NoError(t, err)

	h := newHarness(t, nil, upstream, Options{})
	c := h.dial(t, "t1")

	require.Equal(t, []string{LoadingMarker, "Hi", " there", DoneMarker}, chatTurn(t, c, "Hello"))

	want := []chat.Message{chat.UserMessage("Hello"), chat.AssistantMessage("Hi there")}
	require.Equal(t, want, fetchHistory(t, c))

	stored, err := h.history.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, want, stored)
}

func TestEveryChunkIsForwardedAsItsOwnFrame(t *testing.T) {
	upstream := &scriptedUpstream{replies: [][]string{{"a", "<|im_end|>", "", "b"}}}
	h := newHarness(t, nil, upstream, Options{})
	c := h.dial(t, "frames")

	require.Equal(t, []string{LoadingMarker, "a", "", "", "b", DoneMarker}, chatTurn(t, c, "go"))
	require.Equal(t, []chat.Message{chat.UserMessage("go"), chat.AssistantMessage("ab")}, fetchHistory(t, c))
}

func TestTurnsAppendInOrder(t *testing.T) {
	up := &scriptedUpstream{replies: [][]string{{"a", "1"}, {"a2"}, {"a", "3<|im_end|>"}}}
	h := newHarness(t, nil, up, Options{})
	c := h.dial(t, "order")

	require.Equal(t, []string{LoadingMarker, "a", "1", DoneMarker}, chatTurn(t, c, "u1"))
	require.Equal(t, []string{LoadingMarker, "a2", DoneMarker}, chatTurn(t, c, "u2"))
	require.Equal(t, []string{LoadingMarker, "a", "3", DoneMarker}, chatTurn(t, c, "u3"))

	require.Equal(t, []chat.Message{
		chat.UserMessage("u1"), chat.AssistantMessage("a1"),
		chat.UserMessage("u2"), chat.AssistantMessage("a2"),
		chat.UserMessage("u3"), chat.AssistantMessage("a3"),
	}, fetchHistory(t, c))

	calls := up.Calls()
	require.Len(t, calls, 3)
	for i, call := range calls {
		require.Len(t, call, 2*i+1)
		require.Equal(t, chat.RoleUser, call[len(call)-1].Role)
	}
}

func TestGetHistoryOnNewThreadIsEmptyArray(t *testing.T) {
	h := newHarness(t, nil, &scriptedUpstream{}, Options{})
	c := h.dial(t, "fresh")
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(GetHistoryCommand+" please")))
	require.Equal(t, "[]", readText(t, c))
}

func TestHistorySurvivesRestart(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	up := &scriptedUpstream{replies: [][]string{{"first"}, {"second"}}}

	h1 := newHarness(t, kv, up, Options{})
	c := h1.dial(t, "persist")
	chatTurn(t, c, "one")
	chatTurn(t, c, "two")
	closeClient(t, c, websocket.CloseNormalClosure)
	h1.srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h1.manager.Close(ctx))

	h2 := newHarness(t, kv, &scriptedUpstream{}, Options{})
	c2 := h2.dial(t, "persist")
	require.Equal(t, []chat.Message{
		chat.UserMessage("one"), chat.AssistantMessage("first"),
		chat.UserMessage("two"), chat.AssistantMessage("second"),
	}, fetchHistory(t, c2))
}

func TestThreadsAreIsolated(t *testing.T) {
	h := newHarness(t, nil, inference.NewEchoClient(0), Options{})
	a := h.dial(t, "alpha")
	b := h.dial(t, "beta")

	chatTurn(t, a, "hello alpha")
	chatTurn(t, b, "hello beta")
	chatTurn(t, a, "again")

	require.Equal(t, []chat.Message{
		chat.UserMessage("hello alpha"), chat.AssistantMessage("hello alpha"),
		chat.UserMessage("again"), chat.AssistantMessage("again"),
	}, fetchHistory(t, a))
	require.Equal(t, []chat.Message{
		chat.UserMessage("hello beta"), chat.AssistantMessage("hello beta"),
	}, fetchHistory(t, b))
	require.Equal(t, 2, h.manager.Count())
}

func TestCloseWithoutChangesRewritesSameRecord(t *testing.T) {
	h := newHarness(t, nil, &scriptedUpstream{}, Options{})
	c := h.dial(t, "idem")
	chatTurn(t, c, "hi")
	closeClient(t, c, websocket.CloseNormalClosure)

	ctx := context.Background()
	before, err := h.kv.Get(ctx, historystore.HistoryKey("idem"))
	require.NoError(t, err)
	infoBefore, ok, err := h.history.Info(ctx, "idem")
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 2; i++ {
		c := h.dial(t, "idem")
		closeClient(t, c, websocket.CloseNormalClosure)
	}

	after, err := h.kv.Get(ctx, historystore.HistoryKey("idem"))
	require.NoError(t, err)
	require.Equal(t, before, after)
	infoAfter, _, err := h.history.Info(ctx, "idem")
	require.NoError(t, err)
	require.Equal(t, infoBefore, infoAfter)
}

func TestCloseEchoesClientCode(t *testing.T) {
	h := newHarness(t, nil, &scriptedUpstream{}, Options{})

	c := h.dial(t, "codes")
	ce := closeClient(t, c, 4001)
	require.Equal(t, 4001, ce.Code)
	require.Equal(t, CloseReason, ce.Text)

	c = h.dial(t, "codes")
	require.NoError(t, c.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second)))
	ce = expectClose(t, c)
	require.Equal(t, websocket.CloseNormalClosure, ce.Code)
	require.Equal(t, CloseReason, ce.Text)
}

func TestRejectsPlainHTTP(t *testing.T) {
	h := newHarness(t, nil, &scriptedUpstream{}, Options{})

	resp, err := http.Get(h.srv.URL + "/websocket?threadID=t1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	require.Equal(t, "expected Upgrade: websocket", strings.TrimSpace(string(body)))
	require.Equal(t, "websocket", resp.Header.Get("Upgrade"))

	resp, err = http.Get(h.srv.URL + "/websocket")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Equal(t, 0, h.manager.Count())
}

func TestSecondConnectionIsRejected(t *testing.T) {
	h := newHarness(t, nil, &scriptedUpstream{}, Options{})
	first := h.dial(t, "busy")

	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("busy"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// the first connection is unaffected
	require.Equal(t, []string{LoadingMarker, "ok", DoneMarker}, chatTurn(t, first, "still here"))

	closeClient(t, first, websocket.CloseNormalClosure)
	second := h.dial(t, "busy")
	require.Len(t, fetchHistory(t, second), 2)
}

func TestIdleUpstreamFailsTurnAndKeepsPartialReply(t *testing.T) {
	h := newHarness(t, nil, &stallingUpstream{deltas: []string{"par", "tial"}}, Options{
		UpstreamIdleTimeout: 100 * time.Millisecond,
	})
	c := h.dial(t, "stall")

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("Hello")))
	require.Equal(t, LoadingMarker, readText(t, c))
	require.Equal(t, "par", readText(t, c))
	require.Equal(t, "tial", readText(t, c))
	require.Equal(t, ErrorPrefix+ErrUpstreamIdle.Error(), readText(t, c))
	ce := expectClose(t, c)
	require.Equal(t, websocket.CloseInternalServerErr, ce.Code)
	require.Equal(t, CloseReason, ce.Text)

	stored, err := h.history.Load(context.Background(), "stall")
	require.NoError(t, err)
	require.Equal(t, []chat.Message{chat.UserMessage("Hello"), chat.AssistantMessage("partial")}, stored)
}

func TestUpstreamErrorKeepsUserMessage(t *testing.T) {
	h := newHarness(t, nil, failingUpstream{}, Options{})
	c := h.dial(t, "down")

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("anyone?")))
	require.Equal(t, LoadingMarker, readText(t, c))
	require.Contains(t, readText(t, c), ErrorPrefix+"upstream: backend unavailable")
	require.Equal(t, websocket.CloseInternalServerErr, expectClose(t, c).Code)

	stored, err := h.history.Load(context.Background(), "down")
	require.NoError(t, err)
	require.Equal(t, []chat.Message{chat.UserMessage("anyone?")}, stored)
}

func TestBinaryFramesAreIgnored(t *testing.T) {
	h := newHarness(t, nil, &scriptedUpstream{}, Options{})
	c := h.dial(t, "bin")
	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, []byte{0x1, 0x2}))
	require.Empty(t, fetchHistory(t, c))
}

func TestListReturnsKnownThreads(t *testing.T) {
	h := newHarness(t, nil, &scriptedUpstream{}, Options{})
	chatTurn(t, h.dial(t, "t2"), "x")
	c := h.dial(t, "t1")
	chatTurn(t, c, "y")
	fetchHistory(t, c)

	resp, err := http.Get(h.srv.URL + "/list")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ids []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	require.Equal(t, []string{"t1", "t2"}, ids)
}

func TestEvictionRetiresIdleActorsOnly(t *testing.T) {
	h := newHarness(t, nil, &scriptedUpstream{replies: [][]string{{"kept"}}}, Options{
		ActorIdleTimeout: time.Minute,
		EvictInterval:    time.Minute,
	})
	c := h.dial(t, "evict")
	chatTurn(t, c, "remember me")

	future := time.Now().Add(time.Hour)
	require.Equal(t, 0, h.manager.evictIdleOnce(future), "connected actors stay")

	closeClient(t, c, websocket.CloseNormalClosure)
	actor, err := h.manager.GetOrCreate("evict")
	require.NoError(t, err)
	require.Equal(t, 1, h.manager.evictIdleOnce(future))

	select {
	case <-actor.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("actor did not stop")
	}
	require.Equal(t, StateClosed, actor.State())
	require.Eventually(t, func() bool { return h.manager.Count() == 0 }, 5*time.Second, 10*time.Millisecond)

	c = h.dial(t, "evict")
	require.Equal(t, []chat.Message{
		chat.UserMessage("remember me"), chat.AssistantMessage("kept"),
	}, fetchHistory(t, c))
}

// gatedStore blocks Load until released and then fails it.
type gatedStore struct {
	release chan struct{}
	mu      sync.Mutex
	saves   int
}

func (s *gatedStore) Load(ctx context.Context, _ string) ([]chat.Message, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, errors.New("disk on fire")
}

func (s *gatedStore) Save(context.Context, string, []chat.Message) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *gatedStore) ListThreads(context.Context) ([]string, error) { return nil, nil }

func TestHydrationFailureClosesPendingConnection(t *testing.T) {
	store := &gatedStore{release: make(chan struct{})}
	m, err := NewActorManager(Deps{Store: store, Upstream: &scriptedUpstream{}}, Options{})
	require.NoError(t, err)
	rt, err := NewRouter(m, store)
	require.NoError(t, err)
	srv := httptest.NewServer(rt)
	t.Cleanup(srv.Close)
	h := &harness{srv: srv, manager: m}

	c := h.dial(t, "broken")
	close(store.release)

	require.Contains(t, readText(t, c), ErrorPrefix)
	require.Equal(t, websocket.CloseInternalServerErr, expectClose(t, c).Code)
	require.Eventually(t, func() bool { return m.Count() == 0 }, 5*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Zero(t, store.saves, "a failed hydration must not overwrite the stored history")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))
}

// fakeConn is an in-memory Conn whose writes can be made to fail.
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	failWrites bool
	written    []string
	controls   [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case d := <-c.inbound:
		return websocket.TextMessage, d, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("broken pipe")
	}
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) WriteControl(_ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, data)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error        { return nil }
func (c *fakeConn) SetCloseHandler(func(int, string) error) {}
func (c *fakeConn) RemoteAddr() net.Addr                     { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func TestWriteFailureDoesNotAbortUpstream(t *testing.T) {
	hs, err := historystore.New(kvstore.NewMemoryStore())
	require.NoError(t, err)
	m, err := NewActorManager(Deps{Store: hs, Upstream: &scriptedUpstream{replies: [][]string{{"still ", "saved"}}}}, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	a, err := m.GetOrCreate("lossy")
	require.NoError(t, err)
	conn := newFakeConn()
	conn.failWrites = true
	require.NoError(t, a.claim())
	a.attach(conn)
	conn.inbound <- []byte("Hello")

	want := []chat.Message{chat.UserMessage("Hello"), chat.AssistantMessage("still saved")}
	require.Eventually(t, func() bool {
		h, err := a.History(context.Background())
		return err == nil && len(h) == 2
	}, 5*time.Second, 10*time.Millisecond)
	h, err := a.History(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, h)

	stored, err := hs.Load(context.Background(), "lossy")
	require.NoError(t, err)
	require.Equal(t, want, stored)
}

func TestManagerCloseFlushesAndClosesConnections(t *testing.T) {
	h := newHarness(t, nil, &scriptedUpstream{}, Options{})
	c := h.dial(t, "shutdown")
	chatTurn(t, c, "bye")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.manager.Close(ctx))
	require.Equal(t, websocket.CloseGoingAway, expectClose(t, c).Code)

	_, err := h.manager.GetOrCreate("shutdown")
	require.ErrorIs(t, err, ErrManagerClosed)

	stored, err := h.history.Load(context.Background(), "shutdown")
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestManagerCloseDuringRejectedHandshake(t *testing.T) {
	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	h := newHarness(t, nil, &scriptedUpstream{}, Options{
		CheckOrigin: func(*http.Request) bool {
			once.Do(func() { close(entered) })
			<-proceed
			return false
		},
	})

	dialed := make(chan error, 1)
	go func() {
		c, resp, err := websocket.DefaultDialer.Dial(h.wsURL("origin"), nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if c != nil {
			_ = c.Close()
		}
		dialed <- err
	}()
	<-entered

	a, err := h.manager.GetOrCreate("origin")
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		closed <- h.manager.Close(ctx)
	}()
	require.Eventually(t, a.Retired, 2*time.Second, 5*time.Millisecond)
	close(proceed)

	require.NoError(t, <-closed)
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not stop")
	}
	require.Error(t, <-dialed)
}

func TestSendableCloseCode(t *testing.T) {
	require.Equal(t, websocket.CloseNormalClosure, sendableCloseCode(0))
	require.Equal(t, websocket.CloseNormalClosure, sendableCloseCode(websocket.CloseNoStatusReceived))
	require.Equal(t, websocket.CloseNormalClosure, sendableCloseCode(websocket.CloseAbnormalClosure))
	require.Equal(t, websocket.CloseNormalClosure, sendableCloseCode(websocket.CloseTLSHandshake))
	require.Equal(t, websocket.CloseGoingAway, sendableCloseCode(websocket.CloseGoingAway))
	require.Equal(t, 4001, sendableCloseCode(4001))
}
