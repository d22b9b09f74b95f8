package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"statuswatch/pkg/logx"
)

// Webhook posts custom-identity messages to destination-owned webhook URLs.
// Rate-limit (429) and transient 5xx responses get a couple of quick retries;
// anything else fails the send and the next poll cycle is the retry.
type Webhook struct {
	http *http.Client
	log  logx.Logger
}

func NewWebhook(log logx.Logger) *Webhook {
	return &Webhook{
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log.With(logx.String("comp", "transport.webhook")),
	}
}

// Probe checks that the webhook endpoint exists and is reachable. Called
// once per subscription before the first webhook send.
func (w *Webhook) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	// Webhook endpoints commonly reject GET with 405 while still accepting
	// POSTs; treat that as capable. 401/403/404 mean revoked or wrong URL.
	if resp.StatusCode < 400 || resp.StatusCode == http.StatusMethodNotAllowed {
		return nil
	}
	return fmt.Errorf("webhook probe: http %d", resp.StatusCode)
}

func (w *Webhook) SendWebhook(ctx context.Context, url string, msg WebhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := w.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

			switch {
			case resp.StatusCode < 300:
				return nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return fmt.Errorf("webhook send: http %d", resp.StatusCode)
			default:
				return retry.Unrecoverable(fmt.Errorf("webhook send: http %d", resp.StatusCode))
			}
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			w.log.Debug("webhook send retry", logx.Int("attempt", int(n)+1), logx.Err(err))
		}),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
}
