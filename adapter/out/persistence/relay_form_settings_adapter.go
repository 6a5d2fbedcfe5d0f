// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formrelay/core/domain"
	"formrelay/core/port/out"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const formSettingsSchema = `
	CREATE TABLE IF NOT EXISTS form_settings (
		form_id    BIGINT PRIMARY KEY,
		excluded   BOOLEAN NOT NULL DEFAULT FALSE,
		manual_map JSONB NOT NULL DEFAULT '{}'::jsonb,
		ruleset    JSONB,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_form_settings_excluded
		ON form_settings (form_id) WHERE excluded;
`

// FormSettingsAdapter implements out.FormSettingsRepository using PostgreSQL.
type FormSettingsAdapter struct {
	db *sqlx.DB
}

var _ out.FormSettingsRepository = (*FormSettingsAdapter)(nil)

func NewFormSettingsAdapter(db *sqlx.DB) *FormSettingsAdapter {
	return &FormSettingsAdapter{db: db}
}

// EnsureSchema creates the form_settings table when it is missing.
func (a *FormSettingsAdapter) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, formSettingsSchema)
	return err
}

type formSettingsRow struct {
	FormID    int64     `db:"form_id"`
	Excluded  bool      `db:"excluded"`
	ManualMap []byte    `db:"manual_map"`
	Ruleset   []byte    `db:"ruleset"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *formSettingsRow) toEntity() (*domain.FormSettings, error) {
	settings := &domain.FormSettings{
		FormID:    r.FormID,
		Excluded:  r.Excluded,
		UpdatedAt: r.UpdatedAt,
	}

	if len(r.ManualMap) > 0 {
		if err := json.Unmarshal(r.ManualMap, &settings.ManualMap); err != nil {
			return nil, fmt.Errorf("decode manual_map for form %d: %w", r.FormID, err)
		}
	}
	if len(r.Ruleset) > 0 && string(r.Ruleset) != "null" {
		var spec domain.RulesetSpec
		if err := json.Unmarshal(r.Ruleset, &spec); err != nil {
			return nil, fmt.Errorf("decode ruleset for form %d: %w", r.FormID, err)
		}
		settings.Ruleset = &spec
	}
	return settings, nil
}

const selectFormSettings = `
	SELECT form_id, excluded, manual_map, ruleset, updated_at
	FROM form_settings
`

func (a *FormSettingsAdapter) Get(ctx context.Context, formID int64) (*domain.FormSettings, error) {
	var row formSettingsRow
	if err := a.db.GetContext(ctx, &row, selectFormSettings+` WHERE form_id = $1`, formID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toEntity()
}

func (a *FormSettingsAdapter) GetMany(ctx context.Context, formIDs []int64) ([]*domain.FormSettings, error) {
	if len(formIDs) == 0 {
		return []*domain.FormSettings{}, nil
	}

	var rows []formSettingsRow
	query := selectFormSettings + ` WHERE form_id = ANY($1) ORDER BY form_id`
	if err := a.db.SelectContext(ctx, &rows, query, pq.Array(formIDs)); err != nil {
		return nil, err
	}

	list := make([]*domain.FormSettings, 0, len(rows))
	for i := range rows {
		settings, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		list = append(list, settings)
	}
	return list, nil
}

func (a *FormSettingsAdapter) Upsert(ctx context.Context, settings *domain.FormSettings) error {
	manualMap := settings.ManualMap
	if manualMap == nil {
		manualMap = domain.ManualMap{}
	}
	mapJSON, err := json.Marshal(manualMap)
	if err != nil {
		return err
	}

	// jsonb parameters are sent as text
	var rulesetJSON any
	if settings.Ruleset != nil {
		data, err := json.Marshal(settings.Ruleset)
		if err != nil {
			return err
		}
		rulesetJSON = string(data)
	}

	updatedAt := settings.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	const query = `
		INSERT INTO form_settings (form_id, excluded, manual_map, ruleset, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (form_id) DO UPDATE SET
			excluded = EXCLUDED.excluded,
			manual_map = EXCLUDED.manual_map,
			ruleset = EXCLUDED.ruleset,
			updated_at = EXCLUDED.updated_at
	`

	_, err = a.db.ExecContext(ctx, query,
		settings.FormID,
		settings.Excluded,
		string(mapJSON),
		rulesetJSON,
		updatedAt,
	)
	return err
}

func (a *FormSettingsAdapter) Delete(ctx context.Context, formID int64) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM form_settings WHERE form_id = $1`, formID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return out.ErrSettingsNotFound
	}
	return nil
}

func (a *FormSettingsAdapter) ListExcludedFormIDs(ctx context.Context) ([]int64, error) {
	ids := []int64{}
	err := a.db.SelectContext(ctx, &ids, `SELECT form_id FROM form_settings WHERE excluded ORDER BY form_id`)
	return ids, err
}
