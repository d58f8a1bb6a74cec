package cmds

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatrelay/pkg/events"
	"github.com/go-go-golems/chatrelay/pkg/inference"
	"github.com/go-go-golems/chatrelay/pkg/metrics"
	"github.com/go-go-golems/chatrelay/pkg/relay"
)

const (
	shutdownTimeout = 30 * time.Second
	eventLogGroup   = "chatrelay-log"
)

func newServeCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /websocket and /list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt)
		},
	}
}

func serve(ctx context.Context, rt *runtime) error {
	s := rt.settings

	hs, kv, err := openHistory(s)
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	upstream, err := inference.New(s.InferenceSettings())
	if err != nil {
		return err
	}

	pub, sub, err := events.Build(s.EventSettings())
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()
	// the redis backend leaves consumers to join a group of their own
	if sub == nil && pub != nil {
		es := s.EventSettings()
		sub, err = events.NewRedisSubscriber(es.RedisAddr, eventLogGroup, consumerName())
		if err != nil {
			return err
		}
		defer func() { _ = sub.Close() }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	deps := relay.Deps{Store: hs, Upstream: upstream, Metrics: m}
	if pub != nil {
		deps.Events = pub
	}
	manager, err := relay.NewActorManager(deps, s.RelayOptions())
	if err != nil {
		return err
	}
	router, err := relay.NewRouter(manager, hs,
		relay.WithMetricsHandler(metrics.Handler(reg)),
		relay.WithRouterMetrics(m),
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	manager.StartEvictionLoop(egCtx)

	if sub != nil {
		eg.Go(func() error { return logEvents(egCtx, sub, pub.Topic()) })
	}

	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		// hijacked websockets are not tracked by the server; the manager
		// closes them after a final flush
		if err := manager.Close(shutdownCtx); err != nil {
			return err
		}
		log.Info().Msg("shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().
			Str("addr", s.Addr).
			Str("store", s.StoreBackend).
			Str("upstream", s.UpstreamProvider).
			Str("events", s.EventsBackend).
			Msg("starting chatrelay server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	return eg.Wait()
}

// consumerName identifies this process within the event log consumer group.
func consumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return uuid.NewString()
}

// logEvents drains the event topic into the debug log.
func logEvents(ctx context.Context, sub message.Subscriber, topic string) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrap(err, "subscribe to events")
	}
	for msg := range msgs {
		ev, err := events.Decode(msg)
		if err != nil {
			log.Warn().Err(err).Str("message_id", msg.UUID).Msg("undecodable event")
		} else {
			log.Debug().
				Str("event", ev.Type).
				Str("thread_id", ev.ThreadID).
				Int("messages", ev.MessageCount).
				Str("error", ev.Error).
				Msg("thread event")
		}
		msg.Ack()
	}
	return nil
}
