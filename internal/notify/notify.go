// Package notify delivers monitoring alerts to external channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/model"
)

// Sink receives alerts as they are raised.
type Sink interface {
	Name() string
	Notify(ctx context.Context, alert model.MonitoringAlert) error
}

// LogSink writes alerts to the structured log. Always safe to enable.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Notify(_ context.Context, alert model.MonitoringAlert) error {
	zap.L().Warn("notify: alert",
		zap.String("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
		zap.String("type", string(alert.Type)),
		zap.String("connector", alert.ConnectorID),
		zap.String("title", alert.Title),
	)
	return nil
}

// WebhookSink posts each alert as JSON to a configured URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink. The URL must be non-empty.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// Notify posts a single alert to the webhook URL.
func (s *WebhookSink) Notify(ctx context.Context, alert model.MonitoringAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "notify: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
