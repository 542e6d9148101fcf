// Package slack delivers patient alerts to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const httpTimeout = 10 * time.Second

// Sender posts alert messages to a Slack webhook.
type Sender struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack sender. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Sender {
	if logger == nil {
		logger = log.Nop()
	}
	return &Sender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts message to the configured webhook.
func (s *Sender) Send(ctx context.Context, message string) error {
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildPayload(message))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	s.logger.Info(ctx, "alert delivered", "sender", "slack", "duration", time.Since(start).Seconds())
	return nil
}

// buildPayload keeps the plain text as the notification fallback and
// repeats it in a single section block.
func buildPayload(message string) map[string]any {
	return map[string]any{
		"text": message,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": ":rotating_light: " + message,
				},
			},
		},
	}
}
