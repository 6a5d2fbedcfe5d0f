package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"formrelay/adapter/out/messaging"
	"formrelay/core/domain"
	"formrelay/core/port/out"
	"formrelay/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSender struct {
	mu      sync.Mutex
	results []error
	calls   atomic.Int32
}

func (s *scriptedSender) Send(_ context.Context, _ []byte) (int, error) {
	n := int(s.calls.Add(1)) - 1
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < len(s.results) && s.results[n] != nil {
		return 500, s.results[n]
	}
	return 200, nil
}

type memoryArchive struct {
	mu      sync.Mutex
	records map[string]*domain.DeliveryRecord
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{records: make(map[string]*domain.DeliveryRecord)}
}

func (a *memoryArchive) Save(_ context.Context, rec *domain.DeliveryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *rec
	a.records[rec.ID] = &cp
	return nil
}

func (a *memoryArchive) ListByForm(_ context.Context, formID int64, _ int) ([]*domain.DeliveryRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var list []*domain.DeliveryRecord
	for _, rec := range a.records {
		if rec.FormID == formID {
			list = append(list, rec)
		}
	}
	return list, nil
}

func (a *memoryArchive) get(id string) *domain.DeliveryRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records[id]
}

func newDelivery(id string) *domain.Delivery {
	return &domain.Delivery{
		ID:        id,
		FormID:    7,
		Body:      []byte(`{"Form Title":"Kontakt"}`),
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func startPool(t *testing.T, sender out.PayloadSender, archive out.DeliveryArchive, reg *metrics.Registry) *Pool {
	t.Helper()
	processor := NewDeliveryProcessor(sender, archive, reg, zerolog.Nop())
	p := NewPool(processor, &PoolConfig{
		Workers:    2,
		QueueSize:  16,
		MaxRetries: 3,
		JobTimeout: time.Second,
		RetryBase:  5 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, p.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p
}

func TestDeliveryProcessor_Outcomes(t *testing.T) {
	rejected := fmt.Errorf("%w: no webhook", out.ErrDeliveryRejected)

	tests := []struct {
		name    string
		err     error
		status  domain.DeliveryStatus
		counter string
	}{
		{"delivered", nil, domain.DeliveryDelivered, metrics.DeliveriesDelivered},
		{"failed", errors.New("boom"), domain.DeliveryFailed, metrics.DeliveriesFailed},
		{"rejected", rejected, domain.DeliveryRejected, metrics.DeliveriesRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := metrics.NewRegistry(10)
			archive := newMemoryArchive()
			p := NewDeliveryProcessor(&scriptedSender{results: []error{tt.err}}, archive, reg, zerolog.Nop())

			d := newDelivery("d-" + tt.name)
			rec, err := p.Process(context.Background(), d)
			if tt.err == nil {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.NotEmpty(t, rec.Error)
			}

			assert.Equal(t, tt.status, rec.Status)
			assert.Equal(t, 1, rec.Attempts)
			assert.Equal(t, int64(1), reg.Count(tt.counter))
			assert.Equal(t, rec, archive.get(d.ID))
		})
	}
}

func TestPool_SubmitRequiresRunningPool(t *testing.T) {
	processor := NewDeliveryProcessor(&scriptedSender{}, nil, metrics.NewRegistry(10), zerolog.Nop())
	p := NewPool(processor, nil, zerolog.Nop())

	assert.ErrorIs(t, p.Submit(&Job{Delivery: newDelivery("x")}), ErrPoolStopped)

	require.NoError(t, p.Start())
	p.Stop(context.Background())
	assert.ErrorIs(t, p.Submit(&Job{Delivery: newDelivery("x")}), ErrPoolStopped)
	assert.Equal(t, 0, p.QueueLen())
}

func TestPool_RetriesTransientFailures(t *testing.T) {
	sender := &scriptedSender{results: []error{errors.New("timeout"), errors.New("timeout")}}
	archive := newMemoryArchive()
	p := startPool(t, sender, archive, metrics.NewRegistry(10))

	require.NoError(t, NewPoolDispatcher(p).Dispatch(context.Background(), newDelivery("d-1")))

	require.Eventually(t, func() bool {
		rec := archive.get("d-1")
		return rec != nil && rec.Status == domain.DeliveryDelivered
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), sender.calls.Load())
	assert.Equal(t, 3, archive.get("d-1").Attempts)
}

func TestPool_GivesUpAfterMaxRetries(t *testing.T) {
	fail := errors.New("down")
	sender := &scriptedSender{results: []error{fail, fail, fail, fail, fail, fail}}
	archive := newMemoryArchive()
	p := startPool(t, sender, archive, metrics.NewRegistry(10))

	require.NoError(t, p.Submit(&Job{Delivery: newDelivery("d-1")}))

	require.Eventually(t, func() bool {
		rec := archive.get("d-1")
		return rec != nil && rec.Attempts == 4
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(4), sender.calls.Load())
	assert.Equal(t, domain.DeliveryFailed, archive.get("d-1").Status)
}

func TestPool_RejectedIsNotRetried(t *testing.T) {
	sender := &scriptedSender{results: []error{fmt.Errorf("%w: host", out.ErrDeliveryRejected)}}
	archive := newMemoryArchive()
	p := startPool(t, sender, archive, metrics.NewRegistry(10))

	require.NoError(t, p.Submit(&Job{Delivery: newDelivery("d-1")}))

	require.Eventually(t, func() bool {
		return archive.get("d-1") != nil
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), sender.calls.Load())
	assert.Equal(t, domain.DeliveryRejected, archive.get("d-1").Status)
}

func TestStreamHandler_Ack(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantAck bool
	}{
		{"success acks", nil, true},
		{"rejection acks", out.ErrDeliveryRejected, true},
		{"failure stays pending", errors.New("502"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &scriptedSender{results: []error{tt.err}}
			archive := newMemoryArchive()
			p := startPool(t, sender, archive, metrics.NewRegistry(10))

			data, err := json.Marshal(newDelivery("d-1"))
			require.NoError(t, err)

			var acked atomic.Bool
			job := &messaging.Job{
				Stream: messaging.StreamDeliveries,
				ID:     "1-0",
				Data:   data,
				Ack: func(context.Context) error {
					acked.Store(true)
					return nil
				},
			}
			require.NoError(t, NewStreamHandler(p).Handle(context.Background(), job))

			require.Eventually(t, func() bool {
				return archive.get("d-1") != nil
			}, time.Second, 5*time.Millisecond)
			time.Sleep(50 * time.Millisecond)

			assert.Equal(t, tt.wantAck, acked.Load())
			assert.Equal(t, int32(1), sender.calls.Load())
		})
	}
}

func TestStreamHandler_MalformedEntry(t *testing.T) {
	p := startPool(t, &scriptedSender{}, nil, metrics.NewRegistry(10))
	err := NewStreamHandler(p).Handle(context.Background(), &messaging.Job{ID: "1-0", Data: []byte("{")})
	assert.Error(t, err)
}
