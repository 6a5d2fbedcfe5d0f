package out

import (
	"context"
	"errors"

	"formrelay/core/domain"
)

// ErrSettingsNotFound is returned by Delete when the form has no settings.
var ErrSettingsNotFound = errors.New("form settings not found")

// FormSettingsRepository defines the outbound port for per-form settings.
type FormSettingsRepository interface {
	// Get returns nil, nil when the form has no stored settings.
	Get(ctx context.Context, formID int64) (*domain.FormSettings, error)
	GetMany(ctx context.Context, formIDs []int64) ([]*domain.FormSettings, error)
	Upsert(ctx context.Context, settings *domain.FormSettings) error
	Delete(ctx context.Context, formID int64) error

	// ListExcludedFormIDs returns the forms that must never be relayed.
	ListExcludedFormIDs(ctx context.Context) ([]int64, error)
}
