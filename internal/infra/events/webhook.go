package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"recurring-billing/internal/domain/ports"
)

var _ ports.EventPublisher = (*WebhookPublisher)(nil)

// WebhookPublisher POSTs each event as JSON to a configured endpoint,
// retrying transient failures with exponential backoff. Delivery runs in
// its own goroutine so a slow endpoint never blocks a billing transition.
type WebhookPublisher struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     *zerolog.Logger
}

func NewWebhookPublisher(url string, timeout time.Duration, logger *zerolog.Logger) *WebhookPublisher {
	l := logger.With().Str("component", "WebhookPublisher").Logger()
	return &WebhookPublisher{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     &l,
	}
}

type webhookBody struct {
	Kind       string                 `json:"kind"`
	EntryID    string                 `json:"entry_id"`
	UserID     string                 `json:"user_id"`
	ChargeID   string                 `json:"charge_id,omitempty"`
	State      string                 `json:"state"`
	OccurredAt time.Time              `json:"occurred_at"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
}

func (p *WebhookPublisher) Publish(ctx context.Context, ev ports.Event) {
	body, err := json.Marshal(webhookBody{
		Kind:       string(ev.Kind),
		EntryID:    ev.EntryID,
		UserID:     ev.UserID,
		ChargeID:   ev.ChargeID,
		State:      ev.State,
		OccurredAt: ev.OccurredAt,
		Detail:     ev.Detail,
	})
	if err != nil {
		p.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("event not serializable")
		return
	}

	go p.deliver(ev, body)
}

func (p *WebhookPublisher) deliver(ev ports.Event, body []byte) {
	// Detached from the caller's context; the transition already committed.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 90 * time.Second

	err := backoff.Retry(func() error {
		return p.post(ctx, body)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		p.log.Error().Err(err).Str("kind", string(ev.Kind)).Str("entry_id", ev.EntryID).Msg("webhook delivery gave up")
	}
}

func (p *WebhookPublisher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The endpoint rejected the payload; retrying cannot help.
		return backoff.Permanent(fmt.Errorf("webhook rejected: %s", resp.Status))
	default:
		return fmt.Errorf("webhook transient failure: %s", resp.Status)
	}
}
