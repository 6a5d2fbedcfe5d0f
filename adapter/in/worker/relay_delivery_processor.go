// Package worker runs webhook deliveries in the background.
package worker

import (
	"context"
	"errors"
	"time"

	"formrelay/core/domain"
	"formrelay/core/port/out"
	"formrelay/pkg/metrics"

	"github.com/rs/zerolog"
)

// DeliveryProcessor performs one delivery attempt and records its outcome.
type DeliveryProcessor struct {
	sender  out.PayloadSender
	archive out.DeliveryArchive
	metrics *metrics.Registry
	log     zerolog.Logger
	now     func() time.Time
}

// NewDeliveryProcessor creates a processor. archive may be nil.
func NewDeliveryProcessor(sender out.PayloadSender, archive out.DeliveryArchive, registry *metrics.Registry, log zerolog.Logger) *DeliveryProcessor {
	if registry == nil {
		registry = metrics.Global()
	}
	return &DeliveryProcessor{
		sender:  sender,
		archive: archive,
		metrics: registry,
		log:     log.With().Str("component", "delivery_processor").Logger(),
		now:     time.Now,
	}
}

// Process sends d once. The returned record describes the attempt; the error
// is the send failure, if any.
func (p *DeliveryProcessor) Process(ctx context.Context, d *domain.Delivery) (*domain.DeliveryRecord, error) {
	d.Attempts++
	start := time.Now()

	status, err := p.sender.Send(ctx, d.Body)
	p.metrics.Since(metrics.LatencyDelivery, start)

	rec := &domain.DeliveryRecord{
		ID:          d.ID,
		FormID:      d.FormID,
		StatusCode:  status,
		Attempts:    d.Attempts,
		Body:        string(d.Body),
		CreatedAt:   d.CreatedAt,
		CompletedAt: p.now(),
	}

	log := p.log.With().
		Str("delivery_id", d.ID).
		Int64("form_id", d.FormID).
		Int("attempt", d.Attempts).
		Int("status", status).
		Logger()

	switch {
	case err == nil:
		rec.Status = domain.DeliveryDelivered
		p.metrics.Inc(metrics.DeliveriesDelivered)
		log.Info().Dur("elapsed", time.Since(start)).Msg("delivery sent")
	case errors.Is(err, out.ErrDeliveryRejected):
		rec.Status = domain.DeliveryRejected
		rec.Error = err.Error()
		p.metrics.Inc(metrics.DeliveriesRejected)
		log.Error().Err(err).Msg("delivery rejected")
	default:
		rec.Status = domain.DeliveryFailed
		rec.Error = err.Error()
		p.metrics.Inc(metrics.DeliveriesFailed)
		log.Warn().Err(err).Msg("delivery attempt failed")
	}

	if p.archive != nil {
		if aerr := p.archive.Save(ctx, rec); aerr != nil {
			log.Error().Err(aerr).Msg("failed to archive delivery outcome")
		}
	}
	return rec, err
}
