package in

import (
	"context"

	"formrelay/core/domain"
)

// SubmissionUseCase defines the inbound port for form submissions.
type SubmissionUseCase interface {
	// Process classifies a submission and hands the payload to delivery.
	// Excluded forms are returned unchanged with no payload.
	Process(ctx context.Context, sub *domain.Submission, signals domain.TrackingSignals) (*ProcessResult, error)

	// Preview builds the payload and explanation without delivering it.
	Preview(ctx context.Context, sub *domain.Submission, signals domain.TrackingSignals) (*PreviewResult, error)
}

// ProcessResult is the outcome of Process.
type ProcessResult struct {
	Submission *domain.Submission `json:"submission"`
	Payload    *domain.Payload    `json:"payload,omitempty"`
	Excluded   bool               `json:"excluded"`
	Dispatched bool               `json:"dispatched"`
	DeliveryID string             `json:"delivery_id,omitempty"`
}

// PreviewResult is the outcome of Preview.
type PreviewResult struct {
	FormID      int64               `json:"form_id"`
	Excluded    bool                `json:"excluded"`
	Payload     *domain.Payload     `json:"payload,omitempty"`
	Attribution string              `json:"attribution"`
	Explanation *domain.Explanation `json:"explanation,omitempty"`
}

// FormSettingsUseCase defines the inbound port for per-form admin settings.
type FormSettingsUseCase interface {
	GetSettings(ctx context.Context, formID int64) (*domain.FormSettings, error)
	GetSettingsMany(ctx context.Context, formIDs []int64) ([]*domain.FormSettings, error)
	SaveSettings(ctx context.Context, settings *domain.FormSettings) (*domain.FormSettings, error)
	DeleteSettings(ctx context.Context, formID int64) error
	ExcludedFormIDs(ctx context.Context) ([]int64, error)
}
