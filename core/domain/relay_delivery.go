package domain

import "time"

type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryRejected  DeliveryStatus = "rejected"
)

// Delivery is one payload waiting to be posted to the webhook.
// Body is the serialized payload so key order survives the queue.
type Delivery struct {
	ID        string    `json:"id"`
	FormID    int64     `json:"form_id"`
	Body      []byte    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

// DeliveryRecord is the archived outcome of a delivery.
type DeliveryRecord struct {
	ID          string         `json:"id"`
	FormID      int64          `json:"form_id"`
	Status      DeliveryStatus `json:"status"`
	StatusCode  int            `json:"status_code,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	Body        string         `json:"body"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at"`
}
