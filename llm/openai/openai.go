// Package openai implements llm.Client using the OpenAI Chat Completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/holdhq/counsel/llm"
)

const (
	provider       = "openai"
	defaultBaseURL = "https://api.openai.com"
	// DefaultModel is used when neither the client nor the request names one.
	DefaultModel = "gpt-4o"
)

// Client talks to the OpenAI Chat Completions API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint, e.g. an OpenAI-compatible server.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// New creates a client for the OpenAI API.
// Model defaults to DefaultModel if empty.
func New(apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = DefaultModel
	}
	c := &Client{apiKey: apiKey, model: model, baseURL: defaultBaseURL, http: http.DefaultClient}
	for _, o := range opts {
		o(c)
	}
	return c
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := request{Model: model, MaxTokens: maxTokens}
	if req.System != "" {
		body.Messages = append(body.Messages, message{Role: "system", Content: req.System})
	}
	for _, t := range req.Messages {
		body.Messages = append(body.Messages, message{Role: string(t.Role), Content: t.Content})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", &llm.MalformedResponseError{Provider: provider, Err: fmt.Errorf("encoding request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", &llm.TransportError{Provider: provider, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &llm.TransportError{Provider: provider, Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &llm.TransportError{Provider: provider, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", llm.StatusError(provider, resp.StatusCode, respBody)
	}

	var result response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &llm.MalformedResponseError{Provider: provider, StatusCode: resp.StatusCode, Body: string(respBody), Err: fmt.Errorf("parsing response: %w", err)}
	}
	if len(result.Choices) == 0 {
		return "", &llm.MalformedResponseError{Provider: provider, StatusCode: resp.StatusCode, Body: string(respBody), Err: errors.New("no choices in response")}
	}
	return result.Choices[0].Message.Content, nil
}
