package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"formrelay/adapter/in/worker"
	"formrelay/adapter/out/messaging"
	"formrelay/config"
	"formrelay/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker consumes queued deliveries from Redis Streams and sends them.
type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	initLogger(cfg, "formrelay-worker")

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := logger.Component("worker").With().Str("worker_id", cfg.WorkerID).Logger()
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   deps.Pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	if deps.StreamsEnabled() {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                cfg.StreamGroup,
			Consumer:             cfg.WorkerID,
			Streams:              []string{messaging.StreamDeliveries},
			Handler:              worker.NewStreamHandler(deps.Pool),
			Logger:               logger.Component("stream_consumer"),
			BatchSize:            cfg.ConsumerBatchSize,
			Block:                time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
			MaxRetries:           cfg.ConsumerMaxRetries,
		})
		logger.Info("Redis Stream consumer configured (group=%s, consumer=%s)", cfg.StreamGroup, cfg.WorkerID)
	} else {
		logger.Warn("Redis Streams not available, worker has nothing to consume")
	}

	return w, cleanup, nil
}

// Start runs the pool and the consumer and blocks until Stop.
func (w *Worker) Start() {
	if err := w.pool.Start(); err != nil {
		w.zlog.Error().Err(err).Msg("failed to start worker pool")
		return
	}

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("starting Redis Stream consumer")
			if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("Redis Stream consumer error")
			}
		}()
	}

	<-w.ctx.Done()
}

// Stop stops consuming, then drains the pool.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	w.pool.Stop(ctx)
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
