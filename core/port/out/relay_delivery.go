package out

import (
	"context"
	"errors"

	"formrelay/core/domain"
)

// ErrDeliveryRejected marks failures that retrying cannot fix, such as a
// missing or disallowed webhook URL.
var ErrDeliveryRejected = errors.New("delivery rejected")

// DeliveryDispatcher hands a delivery to the asynchronous pipeline.
// Implementations must not block on the network call itself.
type DeliveryDispatcher interface {
	Dispatch(ctx context.Context, d *domain.Delivery) error
}

// PayloadSender performs the actual webhook call.
type PayloadSender interface {
	// Send posts body and returns the HTTP status code received.
	Send(ctx context.Context, body []byte) (int, error)
}

// DeliveryArchive records delivery outcomes.
type DeliveryArchive interface {
	Save(ctx context.Context, rec *domain.DeliveryRecord) error
	ListByForm(ctx context.Context, formID int64, limit int) ([]*domain.DeliveryRecord, error)
}
