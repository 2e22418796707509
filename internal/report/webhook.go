package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// DefaultWebhookTimeout bounds a single webhook post.
const DefaultWebhookTimeout = 5 * time.Second

// WebhookSink posts formatted summaries to a chat webhook.
type WebhookSink struct {
	url    string
	client *http.Client
	footer string
}

// NewWebhookSink builds a WebhookSink. footer, when set, is appended to every message
// before truncation (for example a link to the run log).
func NewWebhookSink(url, footer string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookSink{url: url, footer: footer, client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Content string `json:"content"`
}

// Publish posts the summary. Non-2xx responses are errors.
func (w *WebhookSink) Publish(ctx context.Context, s tracker.Summary) error {
	msg := render(s)
	if w.footer != "" {
		msg += "\n\n" + w.footer
	}
	msg = truncate(msg)
	body, err := json.Marshal(webhookPayload{Content: msg})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post webhook: status %d", resp.StatusCode)
	}
	return nil
}
