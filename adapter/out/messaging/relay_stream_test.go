package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"formrelay/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu   sync.Mutex
	fail bool
	jobs []*domain.Delivery
}

func (h *recordingHandler) setFail(fail bool) {
	h.mu.Lock()
	h.fail = fail
	h.mu.Unlock()
}

func (h *recordingHandler) Handle(ctx context.Context, job *Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("webhook down")
	}
	var d domain.Delivery
	if err := json.Unmarshal(job.Data, &d); err != nil {
		return err
	}
	h.jobs = append(h.jobs, &d)
	return job.Ack(ctx)
}

func setupStream(t *testing.T, handler JobHandler, maxRetries int) (*redis.Client, *RedisProducer, *Consumer) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	consumer := NewConsumer(client, &ConsumerConfig{
		Group:           "relay-workers",
		Consumer:        "test-1",
		Handler:         handler,
		Logger:          zerolog.Nop(),
		Block:           10 * time.Millisecond,
		PendingIdleTime: time.Millisecond,
		MaxRetries:      maxRetries,
	})
	require.NoError(t, consumer.EnsureGroups(context.Background()))
	require.NoError(t, consumer.EnsureGroups(context.Background()), "group creation is idempotent")

	return client, NewRedisProducer(client), consumer
}

func delivery(id string) *domain.Delivery {
	return &domain.Delivery{
		ID:        id,
		FormID:    5,
		Body:      []byte(`{"Form Title":"Kontakt"}`),
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	p, err := client.XPending(context.Background(), StreamDeliveries, "relay-workers").Result()
	require.NoError(t, err)
	return p.Count
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	handler := &recordingHandler{}
	client, producer, consumer := setupStream(t, handler, 3)
	ctx := context.Background()

	require.NoError(t, producer.Dispatch(ctx, delivery("d-1")))
	require.NoError(t, producer.Dispatch(ctx, delivery("d-2")))

	n, err := producer.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	accepted, err := consumer.ConsumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)

	require.Len(t, handler.jobs, 2)
	assert.Equal(t, "d-1", handler.jobs[0].ID)
	assert.Equal(t, int64(5), handler.jobs[0].FormID)
	assert.JSONEq(t, `{"Form Title":"Kontakt"}`, string(handler.jobs[0].Body))
	assert.Equal(t, int64(0), pendingCount(t, client))

	accepted, err = consumer.ConsumeOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, accepted)
}

func TestConsumer_ReclaimsFailedMessage(t *testing.T) {
	handler := &recordingHandler{fail: true}
	client, producer, consumer := setupStream(t, handler, 3)
	ctx := context.Background()

	require.NoError(t, producer.Dispatch(ctx, delivery("d-1")))

	accepted, err := consumer.ConsumeOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, accepted)
	assert.Equal(t, int64(1), pendingCount(t, client))

	handler.setFail(false)
	time.Sleep(10 * time.Millisecond)
	consumer.ReclaimPending(ctx)

	require.Len(t, handler.jobs, 1)
	assert.Equal(t, "d-1", handler.jobs[0].ID)
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestConsumer_MovesExhaustedMessageToDLQ(t *testing.T) {
	handler := &recordingHandler{fail: true}
	client, producer, consumer := setupStream(t, handler, 1)
	ctx := context.Background()

	require.NoError(t, producer.Dispatch(ctx, delivery("d-9")))
	_, err := consumer.ConsumeOnce(ctx)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	consumer.ReclaimPending(ctx)

	assert.Equal(t, int64(0), pendingCount(t, client))

	dlq, err := client.XRange(ctx, DeadLetterPrefix+StreamDeliveries, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, "d-9", dlq[0].Values["original_delivery_id"])
	assert.Equal(t, StreamDeliveries, dlq[0].Values["original_stream"])
	assert.Empty(t, handler.jobs)
}

func TestConsumer_RejectsMalformedEntry(t *testing.T) {
	handler := &recordingHandler{}
	client, _, consumer := setupStream(t, handler, 3)
	ctx := context.Background()

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamDeliveries,
		Values: map[string]interface{}{"payload": "x"},
	}).Err())

	accepted, err := consumer.ConsumeOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, accepted)
	assert.Equal(t, int64(1), pendingCount(t, client))
}
