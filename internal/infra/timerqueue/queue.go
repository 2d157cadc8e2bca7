package timerqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"medicine_reminder_bot/internal/domain/timer"
	"medicine_reminder_bot/internal/infra/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ackScript removes a fired timer only if nobody re-armed it meanwhile.
var ackScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
  redis.call('ZREM', KEYS[1], ARGV[1])
  redis.call('HDEL', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

// armUnlessPendingScript arms a timer unless one with a fire time in
// [ARGV[3], ARGV[2]] and a readable payload is already armed under the id.
var armUnlessPendingScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) >= tonumber(ARGV[3]) and tonumber(score) <= tonumber(ARGV[2])
  and redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
return 1
`)

// Queue is a durable timer.Facility on top of a Redis sorted set scored by
// fire time, with payloads kept in a hash under the same id.
type Queue struct {
	client     *redis.Client
	dueKey     string
	payloadKey string
	exact      bool
	logger     *logrus.Entry
}

func NewQueue(client *redis.Client, prefix string, exact bool, logger *logrus.Entry) *Queue {
	return &Queue{
		client:     client,
		dueKey:     prefix + ":due",
		payloadKey: prefix + ":payload",
		exact:      exact,
		logger:     logger,
	}
}

type record struct {
	ID      string        `json:"id"`
	FireAt  time.Time     `json:"fireAt"`
	Payload timer.Payload `json:"payload"`
}

func (q *Queue) CanScheduleExact() bool {
	return q.exact
}

// Arm replaces any timer armed under id. Without exact scheduling the fire
// time is rounded up to the next whole minute.
func (q *Queue) Arm(ctx context.Context, id string, at time.Time, payload timer.Payload) error {
	at = q.fireTime(at)
	data, err := json.Marshal(record{ID: id, FireAt: at, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode timer %s: %w", id, err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, q.dueKey, &redis.Z{Score: float64(at.UnixMilli()), Member: id})
		pipe.HSet(ctx, q.payloadKey, id, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to arm timer %s: %w", id, err)
	}
	metrics.IncTimerArmed(string(payload.Kind))
	return nil
}

// ArmUnlessPending leaves a timer alone when it is already armed to fire
// between notBefore and at, so a due fire is not pushed past its time.
func (q *Queue) ArmUnlessPending(ctx context.Context, id string, at, notBefore time.Time, payload timer.Payload) (bool, error) {
	at = q.fireTime(at)
	data, err := json.Marshal(record{ID: id, FireAt: at, Payload: payload})
	if err != nil {
		return false, fmt.Errorf("failed to encode timer %s: %w", id, err)
	}
	armed, err := armUnlessPendingScript.Run(ctx, q.client, []string{q.dueKey, q.payloadKey},
		id, at.UnixMilli(), notBefore.UnixMilli(), data).Int()
	if err != nil {
		return false, fmt.Errorf("failed to arm timer %s: %w", id, err)
	}
	if armed == 1 {
		metrics.IncTimerArmed(string(payload.Kind))
	}
	return armed == 1, nil
}

func (q *Queue) fireTime(at time.Time) time.Time {
	if q.exact {
		return at
	}
	if rounded := at.Truncate(time.Minute); rounded.Before(at) {
		return rounded.Add(time.Minute)
	}
	return at
}

func (q *Queue) Cancel(ctx context.Context, id string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.dueKey, id)
		pipe.HDel(ctx, q.payloadKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel timer %s: %w", id, err)
	}
	return nil
}

// Due returns up to limit timers whose fire time is at or before now, oldest first.
// Entries with an unreadable payload are dropped.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int64) ([]timer.Timer, error) {
	entries, err := q.client.ZRangeByScoreWithScores(ctx, q.dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due timers: %w", err)
	}

	timers := make([]timer.Timer, 0, len(entries))
	for _, z := range entries {
		id, _ := z.Member.(string)
		raw, err := q.client.HGet(ctx, q.payloadKey, id).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return timers, fmt.Errorf("failed to read timer %s: %w", id, err)
		}
		var rec record
		if err == nil {
			err = json.Unmarshal(raw, &rec)
		}
		if err != nil {
			q.logger.WithError(err).WithField("timer_id", id).Warn("Dropping timer with unreadable payload")
			_ = q.Cancel(ctx, id)
			continue
		}
		timers = append(timers, timer.Timer{
			ID:      id,
			FireAt:  time.UnixMilli(int64(z.Score)),
			Payload: rec.Payload,
		})
	}
	return timers, nil
}

// Ack removes a delivered timer unless it was re-armed with a different fire time.
func (q *Queue) Ack(ctx context.Context, t timer.Timer) (bool, error) {
	removed, err := ackScript.Run(ctx, q.client, []string{q.dueKey, q.payloadKey}, t.ID, t.FireAt.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to ack timer %s: %w", t.ID, err)
	}
	return removed == 1, nil
}

// Poll delivers every due timer to h and acks it afterwards. A crash between
// delivery and ack redelivers the timer, so handlers must be idempotent.
func (q *Queue) Poll(ctx context.Context, now time.Time, limit int64, h timer.Handler) (int, error) {
	due, err := q.Due(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	for _, t := range due {
		h.HandleTimer(ctx, t)
		if _, err := q.Ack(ctx, t); err != nil {
			q.logger.WithError(err).WithField("timer_id", t.ID).Error("Timer handled but not acknowledged, it will be redelivered")
		}
	}
	return len(due), nil
}

var _ timer.Facility = (*Queue)(nil)
