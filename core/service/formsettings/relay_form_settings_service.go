// Package formsettings manages the per-form overrides used by the admin API.
package formsettings

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"formrelay/core/domain"
	"formrelay/core/port/in"
	"formrelay/core/port/out"
	"formrelay/core/service/classification"
	"formrelay/pkg/apperr"
	"formrelay/pkg/logger"
)

// maxBatch bounds GetSettingsMany.
const maxBatch = 200

// Service implements in.FormSettingsUseCase.
type Service struct {
	repo           out.FormSettingsRepository
	staticExcluded []int64
	now            func() time.Time
}

var _ in.FormSettingsUseCase = (*Service)(nil)

func NewService(repo out.FormSettingsRepository, staticExcluded []int64) *Service {
	return &Service{repo: repo, staticExcluded: staticExcluded, now: time.Now}
}

func (s *Service) GetSettings(ctx context.Context, formID int64) (*domain.FormSettings, error) {
	if formID <= 0 {
		return nil, apperr.InvalidInput("form_id", "must be a positive integer")
	}
	settings, err := s.repo.Get(ctx, formID)
	if err != nil {
		return nil, apperr.DatabaseError("get form settings", err)
	}
	if settings == nil {
		return nil, apperr.NotFound("form settings")
	}
	return settings, nil
}

func (s *Service) GetSettingsMany(ctx context.Context, formIDs []int64) ([]*domain.FormSettings, error) {
	if len(formIDs) == 0 {
		return []*domain.FormSettings{}, nil
	}
	if len(formIDs) > maxBatch {
		return nil, apperr.InvalidInput("ids", "too many form ids")
	}
	list, err := s.repo.GetMany(ctx, formIDs)
	if err != nil {
		return nil, apperr.DatabaseError("get form settings", err)
	}
	return list, nil
}

// SaveSettings validates and stores settings. A ruleset must compile before
// it is stored.
func (s *Service) SaveSettings(ctx context.Context, settings *domain.FormSettings) (*domain.FormSettings, error) {
	if settings == nil || settings.FormID <= 0 {
		return nil, apperr.InvalidInput("form_id", "must be a positive integer")
	}
	for key, target := range settings.ManualMap {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(target) == "" {
			return nil, apperr.ValidationFailed("manual_map entries need a field key and a target").
				WithDetail("key", key)
		}
	}
	if settings.Ruleset != nil {
		if _, err := classification.Compile(settings.Ruleset); err != nil {
			return nil, apperr.InvalidRuleset(err)
		}
	}

	settings.UpdatedAt = s.now().UTC()
	if err := s.repo.Upsert(ctx, settings); err != nil {
		return nil, apperr.DatabaseError("save form settings", err)
	}
	logger.WithContext(ctx).WithField("form_id", settings.FormID).
		Info("form settings saved (excluded=%t, manual=%d, ruleset=%t)",
			settings.Excluded, len(settings.ManualMap), settings.Ruleset != nil)
	return settings, nil
}

func (s *Service) DeleteSettings(ctx context.Context, formID int64) error {
	if formID <= 0 {
		return apperr.InvalidInput("form_id", "must be a positive integer")
	}
	if err := s.repo.Delete(ctx, formID); err != nil {
		if errors.Is(err, out.ErrSettingsNotFound) {
			return apperr.NotFound("form settings")
		}
		return apperr.DatabaseError("delete form settings", err)
	}
	return nil
}

// ExcludedFormIDs returns the sorted union of configured and stored exclusions.
func (s *Service) ExcludedFormIDs(ctx context.Context) ([]int64, error) {
	stored, err := s.repo.ListExcludedFormIDs(ctx)
	if err != nil {
		return nil, apperr.DatabaseError("list excluded forms", err)
	}

	seen := make(map[int64]struct{}, len(stored)+len(s.staticExcluded))
	ids := make([]int64, 0, len(seen))
	for _, list := range [][]int64{s.staticExcluded, stored} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
