package inference

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Event is one server-sent event.
type Event struct {
	Name string
	ID   string
	Data string
}

// EventDecoder reads server-sent events from r one at a time.
type EventDecoder struct {
	r *bufio.Reader
}

func NewEventDecoder(r io.Reader) *EventDecoder {
	return &EventDecoder{r: bufio.NewReader(r)}
}

// Next returns the next event with a non-empty field set. It returns io.EOF
// when the input is exhausted; a trailing event without its terminating blank
// line is still delivered.
func (d *EventDecoder) Next() (Event, error) {
	var ev Event
	var data []string
	seen := false
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, err
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if seen {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			if eof {
				return Event{}, io.EOF
			}
			continue
		}

		if !strings.HasPrefix(line, ":") {
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "data":
				data = append(data, value)
				seen = true
			case "event":
				ev.Name = value
				seen = true
			case "id":
				ev.ID = value
				seen = true
			}
		}

		if eof {
			if seen {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return Event{}, io.EOF
		}
	}
}

// sseStream adapts an SSE body to a Stream. decode turns one data payload into
// a chunk; the done sentinel is handled here.
type sseStream struct {
	body   io.ReadCloser
	dec    *EventDecoder
	decode func(data string) (Chunk, error)
	done   bool
}

func newSSEStream(body io.ReadCloser, decode func(string) (Chunk, error)) *sseStream {
	return &sseStream{body: body, dec: NewEventDecoder(body), decode: decode}
}

func (s *sseStream) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	for {
		ev, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
			}
			return Chunk{}, err
		}
		data := strings.TrimSpace(ev.Data)
		if data == "" {
			continue
		}
		if data == DoneSentinel {
			s.done = true
			return Chunk{}, io.EOF
		}
		c, err := s.decode(data)
		if err != nil {
			return Chunk{}, err
		}
		c.Delta = StripEndOfTurn(c.Delta)
		return c, nil
	}
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
