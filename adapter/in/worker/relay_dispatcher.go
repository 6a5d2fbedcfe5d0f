package worker

import (
	"context"
	"fmt"

	"formrelay/adapter/out/messaging"
	"formrelay/core/domain"
	"formrelay/core/port/out"

	"github.com/goccy/go-json"
)

// PoolDispatcher implements out.DeliveryDispatcher by queueing deliveries on
// an in-process pool. It is used when Redis is not configured.
type PoolDispatcher struct {
	pool *Pool
}

var _ out.DeliveryDispatcher = (*PoolDispatcher)(nil)

func NewPoolDispatcher(pool *Pool) *PoolDispatcher {
	return &PoolDispatcher{pool: pool}
}

func (d *PoolDispatcher) Dispatch(_ context.Context, delivery *domain.Delivery) error {
	return d.pool.Submit(&Job{Delivery: delivery})
}

// StreamHandler implements messaging.JobHandler by decoding stream entries
// into pool jobs.
type StreamHandler struct {
	pool *Pool
}

var _ messaging.JobHandler = (*StreamHandler)(nil)

func NewStreamHandler(pool *Pool) *StreamHandler {
	return &StreamHandler{pool: pool}
}

func (h *StreamHandler) Handle(_ context.Context, job *messaging.Job) error {
	var delivery domain.Delivery
	if err := json.Unmarshal(job.Data, &delivery); err != nil {
		return fmt.Errorf("decode delivery %s: %w", job.ID, err)
	}
	if delivery.ID == "" {
		delivery.ID = job.ID
	}
	return h.pool.Submit(&Job{Delivery: &delivery, Ack: job.Ack})
}
