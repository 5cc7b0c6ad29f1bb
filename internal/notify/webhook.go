package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-netops/internal/models"
)

// WebhookNotifier POSTs notifications as JSON. Endpoints are looked up by contact group,
// falling back to the "*" entry.
type WebhookNotifier struct {
	endpoints  map[string]string
	httpClient *http.Client
}

// NewWebhookNotifier constructs a notifier for the given contact group endpoints.
func NewWebhookNotifier(endpoints map[string]string, timeout time.Duration) *WebhookNotifier {
	copied := make(map[string]string, len(endpoints))
	for k, v := range endpoints {
		copied[k] = v
	}
	return &WebhookNotifier{
		endpoints: copied,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type webhookBody struct {
	Channel      string              `json:"channel"`
	ContactGroup string              `json:"contact_group"`
	Notification models.Notification `json:"notification"`
	SentAt       string              `json:"sent_at"`
}

// Send implements Channel. Any non-2xx response is an error so the caller retries.
func (w *WebhookNotifier) Send(ctx context.Context, contactGroup, channel string, payload models.Notification) (bool, error) {
	endpoint := w.endpoint(contactGroup)
	if endpoint == "" {
		return false, fmt.Errorf("no webhook endpoint for contact group %q", contactGroup)
	}
	body, err := json.Marshal(webhookBody{
		Channel:      channel,
		ContactGroup: contactGroup,
		Notification: payload,
		SentAt:       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("webhook returned %s", resp.Status)
	}
	return true, nil
}

func (w *WebhookNotifier) endpoint(group string) string {
	if url, ok := w.endpoints[group]; ok {
		return url
	}
	return w.endpoints["*"]
}
