// Package gateway provides the HTTP client for the agent message service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/storyprotocol/eliza/internal/domain"
)

// Messenger is the capability the orchestrator depends on: deliver a message
// to an agent and receive its ordered replies, and ask an agent to generate
// a derived character.
type Messenger interface {
	SendMessage(ctx context.Context, agentID string, msg Message) ([]Reply, error)
	GenerateCharacter(ctx context.Context, agentID string) (domain.Persona, error)
}

// Message is an inbound message addressed to an agent.
type Message struct {
	Text     string `json:"text"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	RoomID   string `json:"roomId,omitempty"`
}

// Reply is one element of an agent's ordered response sequence. The last
// element is treated as the reply of record.
type Reply struct {
	Text    string `json:"text"`
	Message string `json:"message,omitempty"`
	Score   *int   `json:"score,omitempty"`
}

// Content returns the reply text, preferring the message field when present.
func (r Reply) Content() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Text
}

// ScoreOrZero returns the reply's score, defaulting to zero when unset.
func (r Reply) ScoreOrZero() int {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// Client is an HTTP client to the agent message service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a gateway client. A zero timeout falls back to 60s.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SendMessage posts a message to the agent and returns its ordered replies.
func (c *Client) SendMessage(ctx context.Context, agentID string, msg Message) ([]Reply, error) {
	var replies []Reply
	url := fmt.Sprintf("%s/%s/message", c.baseURL, agentID)
	if err := c.postJSON(ctx, url, msg, &replies); err != nil {
		return nil, &domain.GatewayError{Op: "send message", Err: err}
	}
	return replies, nil
}

// GenerateCharacter asks the agent to produce a derived character persona.
func (c *Client) GenerateCharacter(ctx context.Context, agentID string) (domain.Persona, error) {
	var persona domain.Persona
	url := fmt.Sprintf("%s/%s/character", c.baseURL, agentID)
	if err := c.postJSON(ctx, url, struct{}{}, &persona); err != nil {
		return domain.Persona{}, &domain.GatewayError{Op: "generate character", Err: err}
	}
	if persona.Name == "" {
		return domain.Persona{}, &domain.GatewayError{Op: "generate character", Err: fmt.Errorf("empty persona from agent %s", agentID)}
	}
	return persona, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "url", url, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
