package relay

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/events"
	"github.com/go-go-golems/chatrelay/pkg/inference"
)

func (a *Actor) handleText(text string) {
	if strings.HasPrefix(text, GetHistoryCommand) {
		a.sendHistory()
		return
	}
	a.runTurn(text)
}

func (a *Actor) sendHistory() {
	history := a.history
	if history == nil {
		history = []chat.Message{}
	}
	payload, err := json.Marshal(history)
	if err != nil {
		a.failConnection(errors.Wrap(err, "encode history"))
		return
	}
	a.send(string(payload))
}

// runTurn appends the user message, streams the assistant reply to the client
// and appends it once the stream is exhausted. Each append is persisted
// before the next step.
func (a *Actor) runTurn(text string) {
	a.history = append(a.history, chat.UserMessage(text))
	a.dirty = true
	if err := a.persist(); err != nil {
		a.finishTurn(errors.Wrap(err, "persist user message"))
		return
	}

	a.setState(StateStreaming)
	defer a.setState(StateIdle)
	a.send(LoadingMarker)

	reply, err := a.streamReply()
	if err == nil {
		a.send(DoneMarker)
	}
	// A partial reply is kept so the next history replay shows what the
	// client already saw.
	if err == nil || reply != "" {
		a.history = append(a.history, chat.AssistantMessage(reply))
		a.dirty = true
		if perr := a.persist(); perr != nil && err == nil {
			err = errors.Wrap(perr, "persist assistant reply")
		}
	}
	a.finishTurn(err)
}

func (a *Actor) finishTurn(err error) {
	if err != nil {
		a.deps.Metrics.TurnFinished("failed")
		a.publish(events.TypeTurnFailed, err)
		a.failConnection(err)
		return
	}
	a.deps.Metrics.TurnFinished("completed")
	a.publish(events.TypeTurnCompleted, nil)
}

// streamReply consumes the upstream stream to exhaustion and returns the
// accumulated reply. On error the partial reply is returned alongside it.
func (a *Actor) streamReply() (string, error) {
	ctx, cancel := context.WithCancelCause(a.ctx)
	defer cancel(nil)

	idle := a.opts.UpstreamIdleTimeout
	var watchdog *time.Timer
	if idle > 0 {
		watchdog = time.AfterFunc(idle, func() { cancel(ErrUpstreamIdle) })
		defer watchdog.Stop()
	}

	stream, err := a.deps.Upstream.Stream(ctx, chat.CloneMessages(a.history))
	if err != nil {
		return "", upstreamError(ctx, err)
	}
	defer func() { _ = stream.Close() }()

	var reply strings.Builder
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return reply.String(), nil
		}
		if err != nil {
			return reply.String(), upstreamError(ctx, err)
		}
		if watchdog != nil {
			watchdog.Reset(idle)
		}
		// every chunk is its own frame, even when the marker leaves it empty
		delta := inference.StripEndOfTurn(chunk.Delta)
		reply.WriteString(delta)
		a.send(delta)
		a.deps.Metrics.ChunkStreamed()
	}
}

// upstreamError prefers the cancellation cause, so an idle timeout is
// reported as such rather than as a canceled body read.
func upstreamError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && errors.Is(cause, ErrUpstreamIdle) {
		return cause
	}
	return errors.Wrap(err, "upstream")
}

// send writes one text frame. After the first failed write the connection is
// treated as gone for the rest of the turn; the reply is still accumulated
// and persisted.
func (a *Actor) send(text string) {
	if a.conn == nil || a.writeFailed {
		return
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(a.opts.WriteTimeout))
	if err := a.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		a.writeFailed = true
		a.log.Warn().Err(err).Str("conn_id", a.connID).Msg("client write failed, continuing upstream")
	}
}
