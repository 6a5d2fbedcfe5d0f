package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"formrelay/core/domain"
	"formrelay/core/port/out"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

var (
	ErrPoolStopped = errors.New("worker pool is not running")
	ErrQueueFull   = errors.New("delivery queue is full")
)

// Job is one delivery waiting for a worker. Jobs read from a stream carry Ack
// and are retried by the stream's pending reclaim instead of by the pool.
type Job struct {
	Delivery *domain.Delivery
	Ack      func(ctx context.Context) error
}

func (j *Job) fromStream() bool {
	return j.Ack != nil
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	JobTimeout time.Duration
	RetryBase  time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:    4,
		QueueSize:  1000,
		MaxRetries: 3,
		JobTimeout: 30 * time.Second,
		RetryBase:  time.Second,
	}
}

// Pool runs deliveries on a go-pkgz/pool worker group behind a bounded queue.
type Pool struct {
	processor *DeliveryProcessor
	config    *PoolConfig
	log       zerolog.Logger

	group *pool.WorkerGroup[*Job]
	queue chan *Job

	ctx    context.Context
	cancel context.CancelFunc
	feeder sync.WaitGroup

	mu      sync.Mutex
	started bool
}

type deliveryWorker struct {
	pool *Pool
}

// Do implements pool.Worker.
func (w *deliveryWorker) Do(ctx context.Context, job *Job) error {
	return w.pool.processJob(ctx, job)
}

func NewPool(processor *DeliveryProcessor, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.RetryBase <= 0 {
		config.RetryBase = time.Second
	}

	return &Pool{
		processor: processor,
		config:    config,
		log:       log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.queue = make(chan *Job, p.config.QueueSize)
	p.group = pool.New[*Job](p.config.Workers, &deliveryWorker{pool: p}).
		WithWorkerChanSize(1).
		WithContinueOnError()

	if err := p.group.Go(p.ctx); err != nil {
		p.cancel()
		return err
	}

	p.feeder.Add(1)
	go func(queue <-chan *Job, group *pool.WorkerGroup[*Job]) {
		defer p.feeder.Done()
		for job := range queue {
			group.Submit(job)
		}
	}(p.queue, p.group)

	p.started = true
	p.log.Info().
		Int("workers", p.config.Workers).
		Int("queue_size", p.config.QueueSize).
		Int("max_retries", p.config.MaxRetries).
		Msg("worker pool started")
	return nil
}

// Stop drains queued jobs and waits for running ones.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.queue)
	p.mu.Unlock()

	p.feeder.Wait()
	if err := p.group.Close(ctx); err != nil {
		p.log.Debug().Err(err).Msg("worker group closed with errors")
	}
	p.cancel()
	p.log.Info().Msg("worker pool stopped")
}

// Submit queues job without blocking.
func (p *Pool) Submit(job *Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolStopped
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0
	}
	return len(p.queue)
}

func (p *Pool) processJob(ctx context.Context, job *Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	d := job.Delivery
	_, err := p.processor.Process(jobCtx, d)

	switch {
	case err == nil || errors.Is(err, out.ErrDeliveryRejected):
		if job.fromStream() {
			if aerr := job.Ack(ctx); aerr != nil {
				p.log.Error().Err(aerr).Str("delivery_id", d.ID).Msg("error acknowledging delivery")
			}
		}
		return err

	case job.fromStream():
		// left pending for the stream consumer to reclaim
		return err

	case d.Attempts <= p.config.MaxRetries:
		backoff := p.backoff(d.Attempts)
		p.log.Warn().
			Str("delivery_id", d.ID).
			Int("attempt", d.Attempts).
			Dur("backoff", backoff).
			Msg("delivery scheduled for retry")
		time.AfterFunc(backoff, func() {
			if err := p.Submit(job); err != nil {
				p.log.Error().Err(err).Str("delivery_id", d.ID).Int64("form_id", d.FormID).
					Msg("delivery retry dropped")
			}
		})
		return err

	default:
		p.log.Error().
			Err(err).
			Str("delivery_id", d.ID).
			Int64("form_id", d.FormID).
			Int("attempts", d.Attempts).
			Msg("delivery permanently failed")
		return err
	}
}

// backoff is exponential in the attempt number plus up to 50% jitter.
func (p *Pool) backoff(attempt int) time.Duration {
	base := p.config.RetryBase << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	return base + jitter
}
