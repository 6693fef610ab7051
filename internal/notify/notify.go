package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dgnsrekt/captcha_resolver/internal/extract"
)

const defaultTimeout = 10 * time.Second

// Summary is the compact form of an extraction posted to the webhook.
type Summary struct {
	ID         string         `json:"id"`
	URL        string         `json:"url"`
	Status     extract.Status `json:"status"`
	DownloadID *string        `json:"download_id"`
	SiteKey    *string        `json:"site_key"`
	SecretKey  *string        `json:"secret_key"`
	SessionID  *string        `json:"session_id"`
	Cookies    int            `json:"cookies"`
	DurationMS int64          `json:"duration_ms"`
	StartedAt  time.Time      `json:"started_at"`
}

// Summarize reduces a result to its webhook summary.
func Summarize(res *extract.Result) Summary {
	return Summary{
		ID:         res.ID,
		URL:        res.URL,
		Status:     res.Status,
		DownloadID: res.ExtractedFields.DownloadID,
		SiteKey:    res.ExtractedFields.SiteKey,
		SecretKey:  res.ExtractedFields.SecretKey,
		SessionID:  res.ExtractedFields.SessionID,
		Cookies:    len(res.Cookies),
		DurationMS: res.DurationMS,
		StartedAt:  res.StartedAt,
	}
}

// Webhook posts extraction summaries to a fixed endpoint.
type Webhook struct {
	endpoint string
	client   *http.Client
}

// NewWebhook returns a Webhook for endpoint. A nil client gets a default
// with a 10s timeout.
func NewWebhook(endpoint string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Webhook{endpoint: endpoint, client: client}
}

// Notify posts the summary of res.
func (w *Webhook) Notify(ctx context.Context, res *extract.Result) error {
	return PostJSON(ctx, w.client, w.endpoint, Summarize(res))
}

// PostJSON sends payload to endpoint as a JSON POST.
func PostJSON(ctx context.Context, client *http.Client, endpoint string, payload any) error {
	if endpoint == "" {
		return errors.New("webhook endpoint is empty")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
