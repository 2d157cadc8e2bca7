package outbound

import (
	"context"
	"fmt"
	"time"

	"medicine_reminder_bot/internal/domain/dose"

	"github.com/go-resty/resty/v2"
)

// WebhookSink posts caregiver alerts as JSON to a remote endpoint.
// Network errors and 5xx answers are retried.
type WebhookSink struct {
	client *resty.Client
	url    string
}

func NewWebhookSink(url string) *WebhookSink {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Deliver(ctx context.Context, alert *dose.CaregiverAlert) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", alert.ID).
		SetBody(alert).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to call caregiver webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("caregiver webhook returned %s", resp.Status())
	}
	return nil
}
