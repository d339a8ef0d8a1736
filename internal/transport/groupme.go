// Package transport implements the GroupMe chat client: fetching group
// messages, posting as the bot, and direct-messaging a user.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"squadbot/internal/types"
)

// Config configures the GroupMe client.
type Config struct {
	APIToken      string
	GroupID       string
	BotID         string
	BaseURL       string
	EnablePosting bool
	Timeout       time.Duration
}

// DefaultConfig returns sensible defaults for the given credentials.
func DefaultConfig(apiToken, groupID, botID string) Config {
	return Config{
		APIToken:      apiToken,
		GroupID:       groupID,
		BotID:         botID,
		BaseURL:       "https://api.groupme.com/v3",
		EnablePosting: true,
		Timeout:       30 * time.Second,
	}
}

// Client talks to the GroupMe API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a GroupMe client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groupme.com/v3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("groupme"),
	}
}

type fetchResponse struct {
	Response struct {
		Messages []struct {
			ID         string `json:"id"`
			GroupID    string `json:"group_id"`
			SenderID   string `json:"sender_id"`
			SenderType string `json:"sender_type"`
			Name       string `json:"name"`
			Text       string `json:"text"`
			System     bool   `json:"system"`
			CreatedAt  int64  `json:"created_at"`
		} `json:"messages"`
	} `json:"response"`
	Meta struct {
		Code int `json:"code"`
	} `json:"meta"`
}

// FetchMessages fetches up to limit recent group messages. GroupMe
// returns them newest-first; callers restore chronological order.
func (c *Client) FetchMessages(ctx context.Context, limit int) ([]types.Message, error) {
	if limit > 100 {
		limit = 100 // GroupMe max
	}
	q := url.Values{}
	q.Set("token", c.cfg.APIToken)
	q.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/groups/%s/messages?%s", c.cfg.BaseURL, c.cfg.GroupID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer resp.Body.Close()

	// 304 means no messages since the reference point
	if resp.StatusCode == http.StatusNotModified {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("groupme fetch returned %d: %s", resp.StatusCode, body)
	}

	var parsed fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode fetch response: %w", err)
	}
	if parsed.Meta.Code != http.StatusOK {
		return nil, fmt.Errorf("groupme API returned meta code %d", parsed.Meta.Code)
	}

	msgs := make([]types.Message, 0, len(parsed.Response.Messages))
	for _, m := range parsed.Response.Messages {
		msgs = append(msgs, types.Message{
			ID:         m.ID,
			GroupID:    m.GroupID,
			SenderID:   m.SenderID,
			SenderType: m.SenderType,
			SenderName: m.Name,
			Text:       m.Text,
			System:     m.System,
			CreatedAt:  m.CreatedAt,
		})
	}
	c.logger.Debug("fetched messages", zap.Int("count", len(msgs)))
	return msgs, nil
}

// Post sends a message to the group as the bot. With posting disabled the
// message is logged and dropped (dry run); the caller still records it in
// the conversation history.
func (c *Client) Post(ctx context.Context, text string) error {
	if !c.cfg.EnablePosting {
		c.logger.Info("dry run, posting disabled", zap.String("text", text))
		return nil
	}
	c.logger.Info("posting to group", zap.String("text", text))

	payload := map[string]string{
		"bot_id": c.cfg.BotID,
		"text":   text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal bot post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/bots/post", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	defer resp.Body.Close()

	// GroupMe returns 202 Accepted for successful bot posts
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("groupme post returned %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// SendDirect sends a direct message to a user.
func (c *Client) SendDirect(ctx context.Context, userID, text string) error {
	payload := map[string]any{
		"direct_message": map[string]string{
			"source_guid":  uuid.NewString(),
			"recipient_id": userID,
			"text":         text,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal direct message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/direct_messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build direct message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Token", c.cfg.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send direct message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("groupme direct message returned %d: %s", resp.StatusCode, respBody)
	}
	c.logger.Debug("direct message sent", zap.String("recipient", userID))
	return nil
}
