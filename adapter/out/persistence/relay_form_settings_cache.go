package persistence

import (
	"context"
	"strconv"
	"time"

	"formrelay/core/domain"
	"formrelay/core/port/out"
	"formrelay/pkg/cache"
)

const excludedCacheKey = "excluded"

// CachedFormSettingsAdapter wraps a FormSettingsRepository with Redis caching.
// Writes invalidate the form's key and the exclusion list.
type CachedFormSettingsAdapter struct {
	delegate out.FormSettingsRepository
	cache    *cache.RedisCache
	ttl      time.Duration
}

var _ out.FormSettingsRepository = (*CachedFormSettingsAdapter)(nil)

func NewCachedFormSettingsAdapter(delegate out.FormSettingsRepository, redisCache *cache.RedisCache, ttl time.Duration) *CachedFormSettingsAdapter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedFormSettingsAdapter{
		delegate: delegate,
		cache:    redisCache,
		ttl:      ttl,
	}
}

func formCacheKey(formID int64) string {
	return "form:" + strconv.FormatInt(formID, 10)
}

// cachedSettings lets a miss be cached too.
type cachedSettings struct {
	Found    bool                 `json:"found"`
	Settings *domain.FormSettings `json:"settings,omitempty"`
}

func (a *CachedFormSettingsAdapter) Get(ctx context.Context, formID int64) (*domain.FormSettings, error) {
	key := formCacheKey(formID)

	var entry cachedSettings
	if found, err := a.cache.GetJSON(ctx, key, &entry); err == nil && found {
		if !entry.Found {
			return nil, nil
		}
		return entry.Settings, nil
	}

	settings, err := a.delegate.Get(ctx, formID)
	if err != nil {
		return nil, err
	}

	_ = a.cache.SetJSON(ctx, key, cachedSettings{Found: settings != nil, Settings: settings}, a.ttl)
	return settings, nil
}

func (a *CachedFormSettingsAdapter) GetMany(ctx context.Context, formIDs []int64) ([]*domain.FormSettings, error) {
	if len(formIDs) == 0 {
		return []*domain.FormSettings{}, nil
	}

	list := make([]*domain.FormSettings, 0, len(formIDs))
	var missing []int64

	for _, id := range formIDs {
		var entry cachedSettings
		found, err := a.cache.GetJSON(ctx, formCacheKey(id), &entry)
		switch {
		case err != nil || !found:
			missing = append(missing, id)
		case entry.Found:
			list = append(list, entry.Settings)
		}
	}

	if len(missing) == 0 {
		return list, nil
	}

	loaded, err := a.delegate.GetMany(ctx, missing)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*domain.FormSettings, len(loaded))
	for _, s := range loaded {
		byID[s.FormID] = s
		list = append(list, s)
	}
	for _, id := range missing {
		s := byID[id]
		_ = a.cache.SetJSON(ctx, formCacheKey(id), cachedSettings{Found: s != nil, Settings: s}, a.ttl)
	}
	return list, nil
}

func (a *CachedFormSettingsAdapter) Upsert(ctx context.Context, settings *domain.FormSettings) error {
	if err := a.delegate.Upsert(ctx, settings); err != nil {
		return err
	}
	a.invalidate(ctx, settings.FormID)
	return nil
}

func (a *CachedFormSettingsAdapter) Delete(ctx context.Context, formID int64) error {
	if err := a.delegate.Delete(ctx, formID); err != nil {
		return err
	}
	a.invalidate(ctx, formID)
	return nil
}

func (a *CachedFormSettingsAdapter) ListExcludedFormIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if found, err := a.cache.GetJSON(ctx, excludedCacheKey, &ids); err == nil && found {
		return ids, nil
	}

	ids, err := a.delegate.ListExcludedFormIDs(ctx)
	if err != nil {
		return nil, err
	}
	_ = a.cache.SetJSON(ctx, excludedCacheKey, ids, a.ttl)
	return ids, nil
}

func (a *CachedFormSettingsAdapter) invalidate(ctx context.Context, formID int64) {
	_ = a.cache.Delete(ctx, formCacheKey(formID), excludedCacheKey)
}
