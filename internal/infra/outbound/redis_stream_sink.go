package outbound

import (
	"context"
	"encoding/json"
	"fmt"

	"medicine_reminder_bot/internal/domain/dose"

	"github.com/go-redis/redis/v8"
)

// streamMaxLen caps the alert stream; consumers are expected to keep up.
const streamMaxLen = 10000

// RedisStreamSink appends caregiver alerts to a Redis stream read by the
// household's other services.
type RedisStreamSink struct {
	client *redis.Client
	stream string
}

func NewRedisStreamSink(client *redis.Client, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream}
}

func (s *RedisStreamSink) Deliver(ctx context.Context, alert *dose.CaregiverAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode caregiver alert: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"alertId":   alert.ID,
			"type":      alert.Type,
			"critical":  alert.IsCritical,
			"data":      string(data),
			"timestamp": alert.CreatedAt.Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish caregiver alert to %s: %w", s.stream, err)
	}
	return nil
}
