// Package calendar is the scheduling command executor: it turns workflow
// decisions into GET requests against the calendar service.
package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"squadbot/internal/types"
)

// Client talks to the calendar service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a calendar client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("calendar"),
	}
}

// Execute sends one scheduling command. The service takes everything as
// GET query parameters.
func (c *Client) Execute(ctx context.Context, cmd types.CalendarCommand) error {
	q := url.Values{}
	q.Set("action", string(cmd.Action))
	q.Set("date", cmd.Date)
	q.Set("shift_start", cmd.ShiftStart)
	q.Set("shift_end", cmd.ShiftEnd)
	q.Set("squad", cmd.Squad)
	q.Set("preview", strconv.FormatBool(cmd.Preview))

	c.logger.Info("executing calendar command",
		zap.String("action", string(cmd.Action)),
		zap.String("squad", cmd.Squad),
		zap.String("date", cmd.Date))

	body, err := c.get(ctx, q)
	if err != nil {
		return fmt.Errorf("calendar command %s failed: %w", cmd.Action, err)
	}
	c.logger.Debug("calendar command accepted", zap.ByteString("response", body))
	return nil
}

// ExecuteWithRetry retries Execute up to attempts times with a short
// fixed backoff.
func (c *Client) ExecuteWithRetry(ctx context.Context, cmd types.CalendarCommand, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			c.logger.Warn("retrying calendar command",
				zap.Int("attempt", i+1), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		if lastErr = c.Execute(ctx, cmd); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// ScheduleDay fetches the schedule for one date (YYYYMMDD). Used to
// prime the extraction prompt; failures degrade, they never block.
func (c *Client) ScheduleDay(ctx context.Context, date string) (string, error) {
	q := url.Values{}
	q.Set("action", "get_schedule_day")
	q.Set("date", date)

	body, err := c.get(ctx, q)
	if err != nil {
		return "", fmt.Errorf("schedule lookup for %s failed: %w", date, err)
	}
	return string(body), nil
}

func (c *Client) get(ctx context.Context, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("calendar service returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
