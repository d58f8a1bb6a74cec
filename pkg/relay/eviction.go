package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartEvictionLoop sweeps idle actors until ctx is done. It is a no-op when
// eviction is disabled or a loop is already running.
func (m *ActorManager) StartEvictionLoop(ctx context.Context) {
	if m == nil {
		return
	}
	if ctx == nil {
		panic("relay: StartEvictionLoop requires non-nil ctx")
	}
	m.mu.Lock()
	if m.evictRunning {
		m.mu.Unlock()
		return
	}
	idle := m.evictIdle
	interval := m.evictInterval
	if idle <= 0 || interval <= 0 {
		m.mu.Unlock()
		return
	}
	m.evictRunning = true
	m.mu.Unlock()

	go m.runEvictionLoop(ctx, interval)
}

func (m *ActorManager) runEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.evictRunning = false
			m.mu.Unlock()
			return
		case now := <-ticker.C:
			if n := m.evictIdleOnce(now); n > 0 {
				log.Debug().Str("component", "relay").Int("evicted", n).Msg("evicted idle actors")
			}
		}
	}
}

func (m *ActorManager) evictIdleOnce(now time.Time) int {
	if m == nil {
		return 0
	}
	if now.IsZero() {
		now = time.Now()
	}

	m.mu.Lock()
	idle := m.evictIdle
	if idle <= 0 || m.closed {
		m.mu.Unlock()
		return 0
	}
	actors := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	evicted := 0
	for _, a := range actors {
		// The actor removes itself from the registry once its final flush
		// is done; until then GetOrCreate replaces it and waits.
		if a.tryRetire(now, idle) {
			evicted++
		}
	}
	return evicted
}
