package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrelay/pkg/chat"
)

// WorkersAIClient calls a Workers-AI style run endpoint:
// POST {baseURL}/{model} with {"messages": [...], "stream": true}, answered by
// SSE events whose data is {"response": "<delta>"} and finally [DONE].
type WorkersAIClient struct {
	http    *http.Client
	baseURL string
	model   string
	apiKey  string
}

var _ Client = &WorkersAIClient{}

func NewWorkersAIClient(httpClient *http.Client, baseURL, model, apiKey string) (*WorkersAIClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("workers ai client: empty base url")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("workers ai client: empty model")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WorkersAIClient{http: httpClient, baseURL: baseURL, model: strings.TrimLeft(model, "/"), apiKey: apiKey}, nil
}

type workersAIRequest struct {
	Messages []chat.Message `json:"messages"`
	Stream   bool           `json:"stream"`
}

func (c *WorkersAIClient) Stream(ctx context.Context, messages []chat.Message) (Stream, error) {
	body, err := json.Marshal(workersAIRequest{Messages: chat.CloneMessages(messages), Stream: true})
	if err != nil {
		return nil, errors.Wrap(err, "workers ai client: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.model, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "workers ai client: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "workers ai client: request")
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return newSSEStream(resp.Body, decodeWorkersAIChunk), nil
}

func decodeWorkersAIChunk(data string) (Chunk, error) {
	var payload struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return Chunk{}, errors.Wrap(err, "workers ai client: malformed chunk")
	}
	if payload.Response == nil {
		return Chunk{}, errors.Errorf("workers ai client: chunk without response field: %s", truncate(data, 200))
	}
	return Chunk{Delta: *payload.Response}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
