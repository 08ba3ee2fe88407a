package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bluesentinel/bluesentinel/server/internal/config"
)

// Webhook posts alerts to a Slack, Teams or generic HTTP endpoint.
type Webhook struct {
	kind   string
	url    string
	client *http.Client
}

// NewWebhook builds a Webhook notifier of the given type (slack | teams | http).
func NewWebhook(kind, url string) *Webhook {
	return &Webhook{kind: kind, url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Webhooks builds notifiers for every configured target whose URL resolves.
func Webhooks(cfgs []config.WebhookConfig) []Notifier {
	var out []Notifier
	for _, c := range cfgs {
		url := c.URL()
		if url == "" {
			continue
		}
		out = append(out, NewWebhook(c.Type, url))
	}
	return out
}

func (w *Webhook) Name() string { return w.kind }

func (w *Webhook) Notify(ctx context.Context, a Alert) error {
	var payload any
	switch w.kind {
	case "slack":
		payload = map[string]string{
			"text": fmt.Sprintf("*%s* %s", severityLabel(a), a.Message),
		}
	case "teams":
		payload = map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(a),
			"summary":    a.RuleName,
			"title":      fmt.Sprintf("BlueSentinel Alert: %s", a.RuleName),
			"text":       a.Message,
		}
	case "http":
		payload = map[string]any{"alert": a}
	default:
		return fmt.Errorf("unknown webhook type %q", w.kind)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return w.post(ctx, body)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(a Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(a Alert) string {
	if a.State == StateResolved {
		return "2ECC71"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
