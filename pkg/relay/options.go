package relay

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/events"
	"github.com/go-go-golems/chatrelay/pkg/inference"
	"github.com/go-go-golems/chatrelay/pkg/metrics"
)

var (
	ErrThreadBusy    = errors.New("thread already has an open connection")
	ErrActorRetired  = errors.New("session actor retired")
	ErrManagerClosed = errors.New("actor manager closed")
	ErrUpstreamIdle  = errors.New("upstream stream idle timeout")
)

// HistoryStore is the durable side of an actor.
type HistoryStore interface {
	Load(ctx context.Context, threadID string) ([]chat.Message, error)
	Save(ctx context.Context, threadID string, history []chat.Message) error
}

// ThreadLister enumerates known threads for /list.
type ThreadLister interface {
	ListThreads(ctx context.Context) ([]string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Conn is the subset of *websocket.Conn an actor uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetCloseHandler(h func(code int, text string) error)
	Close() error
	RemoteAddr() net.Addr
}

// Deps are the collaborators injected into every actor.
type Deps struct {
	Store    HistoryStore
	Upstream inference.Client
	// Events and Metrics are optional.
	Events  EventPublisher
	Metrics *metrics.Metrics
}

func (d Deps) validate() error {
	if d.Store == nil {
		return errors.New("relay: history store is nil")
	}
	if d.Upstream == nil {
		return errors.New("relay: upstream client is nil")
	}
	return nil
}

type Options struct {
	// MailboxSize bounds queued events per actor; the read loop blocks when full.
	MailboxSize int
	// UpstreamIdleTimeout aborts a stream when no chunk arrives in time. Zero disables it.
	UpstreamIdleTimeout time.Duration
	WriteTimeout        time.Duration
	PersistTimeout      time.Duration
	// ActorIdleTimeout and EvictInterval drive eviction; zero disables it.
	ActorIdleTimeout time.Duration
	EvictInterval    time.Duration
	CheckOrigin      func(r *http.Request) bool
}

func DefaultOptions() Options {
	return Options{
		MailboxSize:         32,
		UpstreamIdleTimeout: 60 * time.Second,
		WriteTimeout:        10 * time.Second,
		PersistTimeout:      10 * time.Second,
		ActorIdleTimeout:    15 * time.Minute,
		EvictInterval:       time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MailboxSize <= 0 {
		o.MailboxSize = d.MailboxSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = d.PersistTimeout
	}
	if o.UpstreamIdleTimeout < 0 {
		o.UpstreamIdleTimeout = 0
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}
