package inference

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/go-go-golems/chatrelay/pkg/chat"
)

// EchoClient streams the last user message back word by word. It needs no
// backend and is the default provider for local runs.
type EchoClient struct {
	delay time.Duration
}

var _ Client = &EchoClient{}

func NewEchoClient(delay time.Duration) *EchoClient {
	return &EchoClient{delay: delay}
}

func (c *EchoClient) Stream(ctx context.Context, messages []chat.Message) (Stream, error) {
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleUser {
			last = messages[i].Content
			break
		}
	}
	var deltas []string
	for i, w := range strings.Fields(last) {
		if i > 0 {
			w = " " + w
		}
		deltas = append(deltas, w)
	}
	return &staticStream{ctx: ctx, deltas: deltas, delay: c.delay}, nil
}

// NewStaticStream returns a Stream yielding deltas in order, then io.EOF.
func NewStaticStream(deltas ...string) Stream {
	return &staticStream{ctx: context.Background(), deltas: deltas}
}

type staticStream struct {
	ctx    context.Context
	deltas []string
	delay  time.Duration
	closed bool
}

func (s *staticStream) Next() (Chunk, error) {
	if s.closed || len(s.deltas) == 0 {
		return Chunk{}, io.EOF
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return Chunk{}, s.ctx.Err()
		case <-t.C:
		}
	} else if err := s.ctx.Err(); err != nil {
		return Chunk{}, err
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return Chunk{Delta: StripEndOfTurn(d)}, nil
}

func (s *staticStream) Close() error {
	s.closed = true
	return nil
}
