package http

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"formrelay/core/domain"
	"formrelay/core/port/out"
	"formrelay/core/service/formsettings"
	"formrelay/core/service/submission"
	"formrelay/infra/middleware"
	"formrelay/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminSecret = "admin-secret"

type recordingDispatcher struct {
	mu         sync.Mutex
	deliveries []*domain.Delivery
}

func (d *recordingDispatcher) Dispatch(_ context.Context, delivery *domain.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
	return nil
}

type memorySettings struct {
	mu   sync.Mutex
	data map[int64]*domain.FormSettings
}

func (m *memorySettings) Get(_ context.Context, id int64) (*domain.FormSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[id], nil
}

func (m *memorySettings) GetMany(_ context.Context, ids []int64) ([]*domain.FormSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*domain.FormSettings
	for _, id := range ids {
		if s, ok := m.data[id]; ok {
			list = append(list, s)
		}
	}
	return list, nil
}

func (m *memorySettings) Upsert(_ context.Context, s *domain.FormSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.FormID] = s
	return nil
}

func (m *memorySettings) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return out.ErrSettingsNotFound
	}
	delete(m.data, id)
	return nil
}

func (m *memorySettings) ListExcludedFormIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, s := range m.data {
		if s.Excluded {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memoryDeliveries struct{}

func (memoryDeliveries) Save(context.Context, *domain.DeliveryRecord) error { return nil }

func (memoryDeliveries) ListByForm(_ context.Context, formID int64, _ int) ([]*domain.DeliveryRecord, error) {
	return []*domain.DeliveryRecord{{ID: "d-1", FormID: formID, Status: domain.DeliveryDelivered}}, nil
}

type testEnv struct {
	app        *fiber.App
	dispatcher *recordingDispatcher
	settings   *memorySettings
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		dispatcher: &recordingDispatcher{},
		settings: &memorySettings{data: map[int64]*domain.FormSettings{
			4: {FormID: 4, Excluded: true},
		}},
	}

	fixedNow := func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	submissions := submission.NewService(submission.Config{ExcludedFormIDs: []int64{99}},
		nil, env.settings, env.dispatcher, metrics.NewRegistry(10)).WithClock(fixedNow)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	app.Use(middleware.RequestID())
	api := app.Group("/api/v1")
	NewSubmissionHandler(submissions).Register(api)

	NewFormSettingsHandler(formsettings.NewService(env.settings, []int64{99}), memoryDeliveries{}, nil).
		Register(api, middleware.AdminJWTAuth(adminSecret, nil))

	env.app = app
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded), string(data))
	}
	return resp.StatusCode, decoded
}

func adminToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops",
		"role": middleware.AdminRole,
		"exp":  time.Now().Add(time.Hour).Unix(),
		"iat":  time.Now().Unix(),
	})
	s, err := token.SignedString([]byte(adminSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

const contactForm = `{
	"form_id": 12,
	"settings": {"title": "Kontakt"},
	"fields": [
		{"key": "f1", "label": "Imię i nazwisko", "type": "text", "value": "Jan Kowalski"},
		{"key": "f2", "label": "Wiadomość", "type": "textarea", "value": "Proszę o kontakt"}
	]
}`

func TestSubmit_ClassifiesAndQueues(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, fiber.MethodPost, "/api/v1/submissions", contactForm, map[string]string{
		"Cookie":  "pysTrafficSource=Google.com; pys_utm_medium=CPC; pys_utm_source=google; pys_landing_page=javascript:alert(1)",
		"Referer": "https://example.com/kontakt",
	})

	require.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, false, body["excluded"])
	assert.Equal(t, true, body["dispatched"])
	assert.NotEmpty(t, body["delivery_id"])

	payload := body["payload"].(map[string]any)
	assert.Equal(t, "Kontakt", payload["Form Title"])
	assert.Equal(t, "googlecom", payload["Pys Traffic Source"])
	assert.Equal(t, "cpc", payload["Pys Utm Medium"])
	assert.Nil(t, payload["Pys Landing Page"])
	assert.Equal(t, "https://example.com/kontakt", payload["Submission Url"])
	assert.Equal(t, "Proszę o kontakt", payload["Message"])

	require.Len(t, env.dispatcher.deliveries, 1)
	delivered := string(env.dispatcher.deliveries[0].Body)
	assert.Less(t, strings.Index(delivered, `"Form Title"`), strings.Index(delivered, `"Calculated Source"`))
	assert.Less(t, strings.Index(delivered, `"Submission Datetime"`), strings.Index(delivered, `"Message"`))
}

func TestSubmit_TrackingOverride(t *testing.T) {
	env := newTestEnv(t)

	body := `{"form_id": 12, "fields": [], "tracking": {"utm_medium": "email", "referrer_url": "ftp://x"}}`
	status, resp := env.do(t, fiber.MethodPost, "/api/v1/submissions", body, map[string]string{
		"Cookie":  "pys_utm_medium=cpc",
		"Referer": "https://example.com/a",
	})

	require.Equal(t, fiber.StatusAccepted, status)
	payload := resp["payload"].(map[string]any)
	assert.Equal(t, "email", payload["Pys Utm Medium"])
	assert.Equal(t, "not_set", payload["Submission Url"])
	assert.Equal(t, "Untitled", payload["Form Title"])
}

func TestSubmit_ExcludedFormsEchoRecord(t *testing.T) {
	env := newTestEnv(t)

	for _, formID := range []string{"99", "4"} {
		status, resp := env.do(t, fiber.MethodPost, "/api/v1/submissions",
			`{"id": "`+formID+`", "fields": [{"key": "a", "value": "b"}]}`, nil)

		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, true, resp["excluded"])
		assert.Nil(t, resp["payload"])
		assert.Equal(t, formID, resp["submission"].(map[string]any)["id"])
	}
	assert.Empty(t, env.dispatcher.deliveries)
}

func TestSubmit_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.do(t, fiber.MethodPost, "/api/v1/submissions", `[1,2]`, nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", resp["error"].(map[string]any)["code"])
}

func TestPreview_DoesNotDispatch(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.do(t, fiber.MethodPost, "/api/v1/submissions/preview", contactForm, nil)

	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(12), resp["form_id"])
	assert.NotNil(t, resp["explanation"])
	assert.Equal(t, "Proszę o kontakt", resp["payload"].(map[string]any)["Message"])
	assert.Empty(t, env.dispatcher.deliveries)
}

func TestFormSettings_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, fiber.MethodGet, "/api/v1/forms/excluded", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestFormSettings_CRUD(t *testing.T) {
	env := newTestEnv(t)
	auth := map[string]string{fiber.HeaderAuthorization: adminToken(t)}

	status, _ := env.do(t, fiber.MethodGet, "/api/v1/forms/12/settings", "", auth)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, resp := env.do(t, fiber.MethodPut, "/api/v1/forms/12/settings",
		`{"excluded": true, "manual_map": {"f1": "Full Name"}}`, auth)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(12), resp["form_id"])

	status, resp = env.do(t, fiber.MethodGet, "/api/v1/forms/12/settings", "", auth)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Full Name", resp["manual_map"].(map[string]any)["f1"])

	status, resp = env.do(t, fiber.MethodGet, "/api/v1/forms/excluded", "", auth)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []any{float64(4), float64(12), float64(99)}, resp["form_ids"])

	status, resp = env.do(t, fiber.MethodGet, "/api/v1/forms/settings?ids=4,12,13", "", auth)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), resp["total"])

	status, _ = env.do(t, fiber.MethodDelete, "/api/v1/forms/12/settings", "", auth)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, _ = env.do(t, fiber.MethodDelete, "/api/v1/forms/12/settings", "", auth)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestFormSettings_Validation(t *testing.T) {
	env := newTestEnv(t)
	auth := map[string]string{fiber.HeaderAuthorization: adminToken(t)}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad id", fiber.MethodGet, "/api/v1/forms/abc/settings", "", fiber.StatusBadRequest},
		{"bad id list", fiber.MethodGet, "/api/v1/forms/settings?ids=1,x", "", fiber.StatusBadRequest},
		{"bad body", fiber.MethodPut, "/api/v1/forms/3/settings", `{"manual_map": 5}`, fiber.StatusBadRequest},
		{"bad ruleset", fiber.MethodPut, "/api/v1/forms/3/settings",
			`{"ruleset": {"tiers": [{"priority": 0, "rules": [{"target": "X", "concept": "nope"}]}]}}`,
			fiber.StatusUnprocessableEntity},
		{"revoke without blacklist", fiber.MethodDelete, "/api/v1/auth/token", "", fiber.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := env.do(t, tt.method, tt.path, tt.body, auth)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestFormSettings_Deliveries(t *testing.T) {
	env := newTestEnv(t)
	auth := map[string]string{fiber.HeaderAuthorization: adminToken(t)}

	status, resp := env.do(t, fiber.MethodGet, "/api/v1/forms/7/deliveries?limit=5", "", auth)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), resp["total"])
}

func TestSanitizers(t *testing.T) {
	assert.Nil(t, sanitizeKey(""))
	assert.Equal(t, "google_ads-1", *sanitizeKey("Google_Ads-1!"))
	assert.Nil(t, sanitizeURL("/relative"))
	assert.Nil(t, sanitizeURL("mailto:a@b.c"))
	assert.Equal(t, "https://example.com/x?y=1", *sanitizeURL(" https://example.com/x?y=1 "))

	ids, err := parseIDList(" 1, ,2")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	h := NewHealthHandler(HealthDeps{
		Metrics:      metrics.NewRegistry(10),
		QueueDepth:   func(context.Context) (int64, error) { return 3, nil },
		BreakerState: func() string { return "closed" },
	})
	h.Register(app)
	h.RegisterStats(app.Group("/api/v1"))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/stats", nil))
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, float64(3), stats["queue_depth"])
	assert.Equal(t, "closed", stats["webhook_breaker"])
}
