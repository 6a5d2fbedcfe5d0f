// Package messaging carries deliveries over Redis Streams.
package messaging

import (
	"context"
	"fmt"
	"strconv"

	"formrelay/core/domain"
	"formrelay/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	// StreamDeliveries holds queued webhook deliveries.
	StreamDeliveries = "relay:deliveries"

	// DeadLetterPrefix is prepended to a stream name to form its DLQ.
	DeadLetterPrefix = "dlq:"

	defaultMaxLen = 100000
)

// RedisProducer implements out.DeliveryDispatcher using Redis Streams.
type RedisProducer struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

var _ out.DeliveryDispatcher = (*RedisProducer)(nil)

func NewRedisProducer(client redis.UniversalClient) *RedisProducer {
	return &RedisProducer{client: client, stream: StreamDeliveries, maxLen: defaultMaxLen}
}

// Dispatch appends d to the delivery stream.
func (p *RedisProducer) Dispatch(ctx context.Context, d *domain.Delivery) error {
	return p.publish(ctx, p.stream, d)
}

// Len returns the number of entries in the delivery stream.
func (p *RedisProducer) Len(ctx context.Context) (int64, error) {
	return p.client.XLen(ctx, p.stream).Result()
}

func (p *RedisProducer) publish(ctx context.Context, stream string, d *domain.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"data":        string(data),
			"delivery_id": d.ID,
			"form_id":     strconv.FormatInt(d.FormID, 10),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}
