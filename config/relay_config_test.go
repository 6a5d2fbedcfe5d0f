package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WEBHOOK_ALLOWED_HOST", "")
	t.Setenv("EXCLUDED_FORM_IDS", "")
	t.Setenv("TIMEZONE", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "hooks.zapier.com", cfg.WebhookAllowedHost)
	assert.Equal(t, 5*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, "Untitled", cfg.DefaultFormTitle)
	assert.Equal(t, []string{"Checked", "Zaznaczone"}, cfg.CheckedMarkers)
	assert.Empty(t, cfg.ExcludedFormIDs)
	assert.NotEmpty(t, cfg.WorkerID)
	assert.False(t, cfg.UseStreams())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EXCLUDED_FORM_IDS", " 3, 7 ,,12")
	t.Setenv("WEBHOOK_TIMEOUT_SEC", "9")
	t.Setenv("CHECKED_MARKERS", "Angekreuzt, Checked")
	t.Setenv("TIMEZONE", "Europe/Warsaw")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DISABLE_STREAMS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 7, 12}, cfg.ExcludedFormIDs)
	assert.Equal(t, 9*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, []string{"Angekreuzt", "Checked"}, cfg.CheckedMarkers)
	assert.True(t, cfg.UseStreams())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("EXCLUDED_FORM_IDS", "1,abc")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("EXCLUDED_FORM_IDS", "")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err = Load()
	assert.Error(t, err)
}
