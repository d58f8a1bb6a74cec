package relay

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrelay/pkg/metrics"
)

// maxAttachAttempts bounds retries when an actor retires between lookup and
// attach.
const maxAttachAttempts = 3

type Router struct {
	mux     *http.ServeMux
	manager *ActorManager
	threads ThreadLister
	metrics *metrics.Metrics
}

type RouterOption func(*Router)

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) RouterOption {
	return func(r *Router) {
		if h != nil {
			r.mux.Handle("GET /metrics", h)
		}
	}
}

func WithRouterMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

func NewRouter(manager *ActorManager, threads ThreadLister, opts ...RouterOption) (*Router, error) {
	if manager == nil {
		return nil, errors.New("relay: actor manager is nil")
	}
	if threads == nil {
		return nil, errors.New("relay: thread lister is nil")
	}
	r := &Router{
		mux:     http.NewServeMux(),
		manager: manager,
		threads: threads,
	}
	r.mux.HandleFunc("/websocket", r.handleWebsocket)
	r.mux.HandleFunc("GET /list", r.handleList)
	r.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

func (rt *Router) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimSpace(r.URL.Query().Get("threadID"))
	if threadID == "" {
		rt.metrics.ConnectionRejected("missing_thread")
		http.Error(w, "missing threadID", http.StatusBadRequest)
		return
	}
	if !headerHasToken(r.Header, "Upgrade", "websocket") {
		rt.metrics.ConnectionRejected("no_upgrade")
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, "expected Upgrade: websocket", http.StatusUpgradeRequired)
		return
	}

	for attempt := 0; attempt < maxAttachAttempts; attempt++ {
		actor, err := rt.manager.GetOrCreate(threadID)
		if err != nil {
			log.Warn().Err(err).Str("component", "relay").Str("thread_id", threadID).Msg("actor lookup failed")
			http.Error(w, "session actor unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := actor.Accept(w, r); !errors.Is(err, ErrActorRetired) {
			return
		}
	}
	http.Error(w, "session actor unavailable", http.StatusServiceUnavailable)
}

func (rt *Router) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := rt.threads.ListThreads(r.Context())
	if err != nil {
		log.Error().Err(err).Str("component", "relay").Msg("list threads failed")
		http.Error(w, "failed to list threads", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ids)
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
