package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/events"
)

var levelRank = map[string]int{
	"info":     0,
	"warning":  1,
	"error":    2,
	"critical": 3,
}

// Notifier posts health alerts and decode failures to a Discord-compatible
// webhook as embeds.
type Notifier struct {
	cfg    config.NotifyConfig
	bus    *events.Bus
	client *http.Client
	logger zerolog.Logger
}

// NewNotifier builds a notifier from cfg and subscribes it to bus.
func NewNotifier(cfg config.NotifyConfig, bus *events.Bus) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("webhook notifications are disabled")
	}
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	n := &Notifier{
		cfg:    cfg,
		bus:    bus,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log.With().Str("component", "notify").Logger(),
	}
	bus.Subscribe(events.HealthAlert, "notify", n.onEvent)
	if cfg.DecodeErrors {
		bus.Subscribe(events.DecodeFailed, "notify", n.onEvent)
	}
	return n, nil
}

// Close unsubscribes from the bus.
func (n *Notifier) Close() {
	n.bus.Unsubscribe(events.HealthAlert, "notify")
	n.bus.Unsubscribe(events.DecodeFailed, "notify")
}

func (n *Notifier) onEvent(ctx context.Context, e events.Event) error {
	title, message, level, ok := n.render(e)
	if !ok {
		return nil
	}
	if err := n.Send(ctx, title, message, level); err != nil {
		n.logger.Warn().Err(err).Str("title", title).Msg("webhook notification failed")
		return err
	}
	return nil
}

// render turns an event into an embed, or reports false when it is filtered.
func (n *Notifier) render(e events.Event) (title, message, level string, ok bool) {
	switch p := e.Payload.(type) {
	case events.HealthPayload:
		if levelRank[p.Level] < levelRank[n.cfg.MinLevel] {
			return "", "", "", false
		}
		return "Health: " + p.Check, p.Message, p.Level, true
	case events.DecodeFailedPayload:
		return "Decode failure",
			fmt.Sprintf("session %s, %s frame 0x%02X: %s", e.Session, p.Direction, p.Code, p.Err),
			"warning", true
	}
	return "", "", "", false
}

// Send posts one embed.
func (n *Notifier) Send(ctx context.Context, title, message, level string) error {
	var color int
	switch level {
	case "error", "critical":
		color = 0xFF0000
	case "warning":
		color = 0xFFAA00
	default:
		color = 0x00FF00
	}

	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title,
				"description": message,
				"color":       color,
				"timestamp":   time.Now().Format(time.RFC3339),
				"footer": map[string]string{
					"text": "ragol relay",
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	n.logger.Debug().Str("title", title).Msg("webhook notification sent")
	return nil
}
