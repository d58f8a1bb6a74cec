// Package inference talks to the language-model backend.
//
// A Client turns an ordered history into a Stream of text deltas. Streams are
// pull-based, finite and not restartable: Next returns io.EOF once the backend
// signals completion, and the completion sentinel never reaches the caller.
package inference

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrelay/pkg/chat"
)

const (
	// EndOfTurnMarker is emitted inside deltas by some chat templates and is
	// removed before a delta is returned.
	EndOfTurnMarker = "<|im_end|>"
	// DoneSentinel is the SSE data payload that terminates a stream.
	DoneSentinel = "[DONE]"
)

// Chunk is one decoded piece of a streamed response.
type Chunk struct {
	Delta string
}

type Stream interface {
	Next() (Chunk, error)
	Close() error
}

type Client interface {
	Stream(ctx context.Context, messages []chat.Message) (Stream, error)
}

const (
	ProviderWorkersAI = "workersai"
	ProviderOpenAI    = "openai"
	ProviderEcho      = "echo"
)

// Settings configures the upstream client.
type Settings struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	// ConnectTimeout bounds dialing and waiting for response headers. The body
	// is unbounded; idle detection is the caller's job.
	ConnectTimeout time.Duration
}

// New builds the client for s.Provider.
func New(s Settings) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case ProviderWorkersAI:
		return NewWorkersAIClient(newHTTPClient(s.ConnectTimeout), s.BaseURL, s.Model, s.APIKey)
	case ProviderOpenAI:
		return NewOpenAIClient(newHTTPClient(s.ConnectTimeout), s.BaseURL, s.Model, s.APIKey)
	case "", ProviderEcho:
		return NewEchoClient(0), nil
	default:
		return nil, errors.Errorf("inference: unknown provider %q", s.Provider)
	}
}

func newHTTPClient(connectTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if connectTimeout > 0 {
		tr.ResponseHeaderTimeout = connectTimeout
	}
	return &http.Client{Transport: tr}
}

// StripEndOfTurn removes every end-of-turn marker from s.
func StripEndOfTurn(s string) string {
	return strings.ReplaceAll(s, EndOfTurnMarker, "")
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "inference: upstream returned status " + http.StatusText(e.StatusCode)
	}
	return "inference: upstream returned status " + http.StatusText(e.StatusCode) + ": " + e.Body
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
