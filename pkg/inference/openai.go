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

// OpenAIClient calls an OpenAI-compatible chat completions endpoint with
// stream=true and reads deltas from choices[0].delta.content.
type OpenAIClient struct {
	http    *http.Client
	baseURL string
	model   string
	apiKey  string
}

var _ Client = &OpenAIClient{}

func NewOpenAIClient(httpClient *http.Client, baseURL, model, apiKey string) (*OpenAIClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("openai client: empty model")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIClient{http: httpClient, baseURL: baseURL, model: model, apiKey: apiKey}, nil
}

type openAIRequest struct {
	Model    string         `json:"model"`
	Messages []chat.Message `json:"messages"`
	Stream   bool           `json:"stream"`
}

func (c *OpenAIClient) Stream(ctx context.Context, messages []chat.Message) (Stream, error) {
	body, err := json.Marshal(openAIRequest{Model: c.model, Messages: chat.CloneMessages(messages), Stream: true})
	if err != nil {
		return nil, errors.Wrap(err, "openai client: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "openai client: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "openai client: request")
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return newSSEStream(resp.Body, decodeOpenAIChunk), nil
}

func decodeOpenAIChunk(data string) (Chunk, error) {
	var payload struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return Chunk{}, errors.Wrap(err, "openai client: malformed chunk")
	}
	if payload.Error != nil {
		return Chunk{}, errors.Errorf("openai client: upstream error: %s", payload.Error.Message)
	}
	// usage-only chunks carry no choices
	if len(payload.Choices) == 0 {
		return Chunk{}, nil
	}
	return Chunk{Delta: payload.Choices[0].Delta.Content}, nil
}
