package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"multillm/pkg/domain"
)

// Handler applies one usage event. A non-nil error schedules a retry
// unless it wraps ErrDrop.
type Handler func(context.Context, domain.UsageEvent) error

// ErrDrop tells the queue to discard an event that can never be applied.
var ErrDrop = errors.New("drop usage event")

// UsageQueue carries usage events over a Redis stream with a consumer group.
type UsageQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64

	once     sync.Once
	groupErr error
}

type Config struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewUsageQueue(cfg Config) (*UsageQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "multillm:usage"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "usage-aggregator"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay < 0 {
		retryDelay = 0
	} else if retryDelay == 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 50
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 50
	}

	return &UsageQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Publish appends ev to the stream and returns its event id.
func (q *UsageQueue) Publish(ctx context.Context, ev domain.UsageEvent) (string, error) {
	if ev.UserID <= 0 || strings.TrimSpace(ev.ModelName) == "" || strings.TrimSpace(ev.Domain) == "" {
		return "", errors.New("usage event requires user, model and domain")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode usage event: %w", err)
	}
	id := uuid.NewString()
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id": id,
			"event":    string(payload),
			"attempts": "0",
		},
	}).Err(); err != nil {
		return "", err
	}
	return id, nil
}

// Len returns the number of entries currently in the stream.
func (q *UsageQueue) Len(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.stream).Result()
}

func (q *UsageQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *UsageQueue) Close() error {
	return q.client.Close()
}

// Start runs concurrency consumers until ctx is done.
func (q *UsageQueue) Start(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
	return nil
}

// Drain processes entries without blocking until the stream has nothing
// left for this consumer. It returns how many events were applied.
func (q *UsageQueue) Drain(ctx context.Context, handler Handler) (int, error) {
	if err := q.ensureGroup(ctx); err != nil {
		return 0, err
	}
	consumer := q.consumerBase + "-drain"
	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		claimed, err := q.claimPending(ctx, consumer)
		if err != nil {
			return applied, err
		}
		for _, msg := range claimed {
			if q.handleMessage(ctx, msg, handler) {
				applied++
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			if len(claimed) == 0 {
				return applied, nil
			}
			continue
		}
		if err != nil {
			return applied, err
		}
		read := 0
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				read++
				if q.handleMessage(ctx, msg, handler) {
					applied++
				}
			}
		}
		if read == 0 && len(claimed) == 0 {
			return applied, nil
		}
	}
}

func (q *UsageQueue) ensureGroup(ctx context.Context) error {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("create consumer group: %w", err)
		}
	})
	return q.groupErr
}

func (q *UsageQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *UsageQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// handleMessage reports whether the event was applied.
func (q *UsageQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) bool {
	eventID, _ := msg.Values["event_id"].(string)
	raw, _ := msg.Values["event"].(string)
	var ev domain.UsageEvent
	if eventID == "" || raw == "" || json.Unmarshal([]byte(raw), &ev) != nil {
		slog.Warn("usage queue: dropping malformed entry", "msg_id", msg.ID)
		q.ackAndDel(ctx, msg.ID)
		return false
	}
	attempts := 0
	if v, ok := msg.Values["attempts"].(string); ok {
		attempts, _ = strconv.Atoi(v)
	}

	err := handler(ctx, ev)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return true
	}
	if errors.Is(err, ErrDrop) {
		slog.Warn("usage queue: dropping event", "event_id", eventID, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return false
	}
	attempts++
	if attempts >= q.maxRetries {
		slog.Error("usage queue: giving up on event", "event_id", eventID, "attempts", attempts, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return false
	}
	slog.Warn("usage queue: retrying event", "event_id", eventID, "attempts", attempts, "err", err)
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(q.retryDelay):
		}
	}
	if err := q.requeueAndAck(ctx, msg.ID, eventID, raw, attempts); err != nil {
		slog.Warn("usage queue: requeue failed", "event_id", eventID, "err", err)
	}
	return false
}

func (q *UsageQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck appends a retry copy and acknowledges the original in one
// transaction, so a failure leaves the original pending for reclaim.
func (q *UsageQueue) requeueAndAck(ctx context.Context, msgID, eventID, raw string, attempts int) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id": eventID,
			"event":    raw,
			"attempts": strconv.Itoa(attempts),
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}
