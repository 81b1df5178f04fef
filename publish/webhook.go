package publish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/use-agent/powerwatch/models"
)

const defaultWebhookTimeout = 10 * time.Second

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Powerwatch-Signature"

// Webhook posts snapshot events to an HTTP endpoint.
type Webhook struct {
	url    string
	secret string
	client *http.Client

	maxTries      uint
	retryInterval time.Duration
}

var _ Publisher = (*Webhook)(nil)

// WebhookOption customises a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithRetry sets the number of delivery attempts and the first retry delay.
func WithRetry(maxTries uint, interval time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.maxTries = maxTries
		w.retryInterval = interval
	}
}

// NewWebhook returns a publisher posting to url. The body is signed when
// secret is non-empty.
func NewWebhook(url, secret string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:           url,
		secret:        secret,
		client:        &http.Client{Timeout: defaultWebhookTimeout},
		maxTries:      3,
		retryInterval: time.Second,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Name() string { return "webhook" }

// Publish delivers the snapshot event, retrying transport errors and 5xx
// responses with exponential backoff. 4xx responses are not retried.
func (w *Webhook) Publish(ctx context.Context, snap *models.Snapshot) error {
	body, err := encode(snap)
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryInterval

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, w.deliver(ctx, body)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(w.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "webhook delivery failed",
				"url", w.url, "attempt", attempt, "retryIn", next, "error", err)
		}),
	)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "webhook delivered", "url", w.url, "attempt", attempt)
	return nil
}

func (w *Webhook) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("webhook: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Powerwatch-Webhook/1.0")
	req.Header.Set("X-Powerwatch-Event", EventSnapshot)
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode))
	}
	return nil
}

// Sign returns the signature header value for body: "sha256=<hex>".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
