package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ActorManager keeps at most one live actor per thread.
type ActorManager struct {
	deps Deps
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	actors        map[string]*Actor
	closed        bool
	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
}

func NewActorManager(deps Deps, opts Options) (*ActorManager, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &ActorManager{
		deps:          deps,
		opts:          opts,
		ctx:           ctx,
		cancel:        cancel,
		actors:        map[string]*Actor{},
		evictIdle:     opts.ActorIdleTimeout,
		evictInterval: opts.EvictInterval,
	}, nil
}

// GetOrCreate returns the live actor for threadID, activating a new one if
// none exists or the resident one has been retired.
func (m *ActorManager) GetOrCreate(threadID string) (*Actor, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("relay: empty thread id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	prev := m.actors[threadID]
	if prev != nil && !prev.Retired() {
		return prev, nil
	}
	a := newActor(m.ctx, threadID, m.deps, m.opts, prev, m.forget)
	m.actors[threadID] = a
	return a, nil
}

func (m *ActorManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

func (m *ActorManager) forget(a *Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.actors[a.threadID]; ok && current == a {
		delete(m.actors, a.threadID)
	}
}

// Close retires every actor and waits for their final flush or for ctx.
func (m *ActorManager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	actors := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	for _, a := range actors {
		a.retire()
	}
	for _, a := range actors {
		select {
		case <-a.done:
		case <-ctx.Done():
			m.cancel()
			return errors.Wrap(ctx.Err(), "relay: waiting for actors to stop")
		}
	}
	m.cancel()
	log.Info().Str("component", "relay").Int("actors", len(actors)).Msg("actor manager closed")
	return nil
}
