package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	userAgent             = "edocval-webhook/1"
	signatureHeader       = "X-Hub-Signature-256"
)

// WebhookPublisher delivers each validation event as one JSON POST.
type WebhookPublisher struct {
	endpoint string
	secret   []byte
	http     *http.Client
}

// NewWebhookPublisher uses a 10s request timeout when timeout is not positive.
// An empty secret disables body signing.
func NewWebhookPublisher(endpoint, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		endpoint: endpoint,
		secret:   []byte(secret),
		http:     &http.Client{Timeout: timeout},
	}
}

// Publish returns an error wrapping domain.ErrPermanentDelivery when the
// receiver rejects the event with a 4xx status other than 408 or 429.
func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: encode event %s: %w", domain.ErrPermanentDelivery, event.EventID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", domain.ErrPermanentDelivery, err)
	}
	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", userAgent)
	h.Set("X-Edocval-Topic", topic)
	h.Set("X-Edocval-Event-Id", event.EventID)
	h.Set("X-Edocval-Event-Type", event.EventType)
	h.Set("X-Edocval-Client", event.Client)
	if len(p.secret) > 0 {
		h.Set(signatureHeader, "sha256="+Sign(p.secret, body))
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver event %s: %w", event.EventID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()

	return classifyStatus(resp.StatusCode)
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status %d", code)
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: webhook returned status %d", domain.ErrPermanentDelivery, code)
	default:
		return fmt.Errorf("webhook returned status %d", code)
	}
}

// Sign returns the hex HMAC-SHA256 of body, as sent after "sha256=" in the
// signature header.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
