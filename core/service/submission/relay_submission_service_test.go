package submission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"formrelay/core/domain"
	"formrelay/core/service/attribution"
	"formrelay/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettingsRepo struct {
	settings   map[int64]*domain.FormSettings
	excluded   []int64
	getErr     error
	excludeErr error
}

func (r *fakeSettingsRepo) Get(_ context.Context, formID int64) (*domain.FormSettings, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.settings[formID], nil
}

func (r *fakeSettingsRepo) GetMany(_ context.Context, ids []int64) ([]*domain.FormSettings, error) {
	var out []*domain.FormSettings
	for _, id := range ids {
		if s, ok := r.settings[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSettingsRepo) Upsert(_ context.Context, s *domain.FormSettings) error {
	r.settings[s.FormID] = s
	return nil
}

func (r *fakeSettingsRepo) Delete(_ context.Context, formID int64) error {
	delete(r.settings, formID)
	return nil
}

func (r *fakeSettingsRepo) ListExcludedFormIDs(context.Context) ([]int64, error) {
	return r.excluded, r.excludeErr
}

type fakeDispatcher struct {
	mu         sync.Mutex
	deliveries []*domain.Delivery
	err        error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, delivery *domain.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.deliveries = append(d.deliveries, delivery)
	return nil
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestService(cfg Config, repo *fakeSettingsRepo, dispatcher *fakeDispatcher) (*Service, *metrics.Registry) {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("CEST", 2*60*60)
	}
	registry := metrics.NewRegistry(16)

	var svc *Service
	switch {
	case repo != nil && dispatcher != nil:
		svc = NewService(cfg, nil, repo, dispatcher, registry)
	case repo != nil:
		svc = NewService(cfg, nil, repo, nil, registry)
	case dispatcher != nil:
		svc = NewService(cfg, nil, nil, dispatcher, registry)
	default:
		svc = NewService(cfg, nil, nil, nil, registry)
	}
	svc.WithClock(func() time.Time { return fixedNow })
	svc.newID = func() string { return "delivery-1" }
	return svc, registry
}

func contactSubmission(formID int64) *domain.Submission {
	return &domain.Submission{
		FormID: formID,
		Title:  "Kontakt",
		Fields: []domain.FieldDescriptor{
			{Key: "f1", Label: "Imię i nazwisko", Type: "text", Value: "Jan Kowalski"},
			{Key: "f2", Label: "Wiadomość", Type: "textarea", Value: "Proszę o kontakt"},
			{Key: "f3", Label: "utm_source", Type: "hidden", Value: "google"},
		},
	}
}

func cpcSignals() domain.TrackingSignals {
	return domain.TrackingSignals{
		UTMMedium:   domain.StringPtr("cpc"),
		UTMSource:   domain.StringPtr("google"),
		ReferrerURL: domain.StringPtr("https://example.com/kontakt"),
	}
}

func TestProcess_BuildsAndDispatchesPayload(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	svc, registry := newTestService(Config{}, nil, dispatcher)

	sub := contactSubmission(5)
	res, err := svc.Process(context.Background(), sub, cpcSignals())
	require.NoError(t, err)

	assert.False(t, res.Excluded)
	assert.True(t, res.Dispatched)
	assert.Equal(t, "delivery-1", res.DeliveryID)
	assert.Same(t, sub, res.Submission)

	want := `{"Form Title":"Kontakt","Calculated Source":"google cpc","Pys Traffic Source":null,` +
		`"Pys Utm Medium":"cpc","Pys Utm Source":"google","Pys Landing Page":null,` +
		`"Submission Url":"https://example.com/kontakt","Submission Datetime":"2024-05-01 12:00:00",` +
		`"Full Name":"Jan Kowalski","Message":"Proszę o kontakt","utm_source":"google"}`

	require.Len(t, dispatcher.deliveries, 1)
	delivery := dispatcher.deliveries[0]
	assert.JSONEq(t, want, string(delivery.Body))
	assert.Equal(t, int64(5), delivery.FormID)
	assert.Equal(t, fixedNow, delivery.CreatedAt)

	body, err := json.Marshal(res.Payload)
	require.NoError(t, err)
	assert.Equal(t, want, string(body))

	assert.Equal(t, int64(1), registry.Count(metrics.SubmissionsReceived))
	assert.Equal(t, int64(1), registry.Count(metrics.DeliveriesQueued))
	assert.Equal(t, int64(1), registry.Latency(metrics.LatencyClassify).Count)
}

func TestProcess_TrackingDefaults(t *testing.T) {
	svc, _ := newTestService(Config{DefaultFormTitle: "Formularz"}, nil, nil)

	sub := contactSubmission(5)
	sub.Title = "  "
	signals := domain.TrackingSignals{
		TrafficSource: domain.StringPtr("instagram-app"),
		SubmittedAt:   time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC),
	}

	res, err := svc.Process(context.Background(), sub, signals)
	require.NoError(t, err)
	assert.False(t, res.Dispatched)

	title, _ := res.Payload.GetString(domain.KeyFormTitle)
	assert.Equal(t, "Formularz", title)

	source, _ := res.Payload.GetString(domain.KeyCalculatedSource)
	assert.Equal(t, attribution.InstagramOrganic, source)

	url, _ := res.Payload.GetString(domain.KeySubmissionURL)
	assert.Equal(t, SubmissionURLNotSet, url)

	when, _ := res.Payload.GetString(domain.KeySubmissionDatetime)
	assert.Equal(t, "2024-01-15 10:30:00", when)

	medium, ok := res.Payload.Get(domain.KeyUTMMedium)
	assert.True(t, ok)
	assert.Nil(t, medium)
}

func TestProcess_PayloadPrefix(t *testing.T) {
	svc, _ := newTestService(Config{PayloadPrefix: "nf_"}, nil, nil)

	res, err := svc.Process(context.Background(), contactSubmission(5), domain.TrackingSignals{})
	require.NoError(t, err)

	for _, key := range res.Payload.Keys() {
		assert.Regexp(t, `^nf_`, key)
	}
	assert.Equal(t, "nf_Form Title", res.Payload.Keys()[0])
	msg, _ := res.Payload.GetString("nf_Message")
	assert.Equal(t, "Proszę o kontakt", msg)
}

func TestProcess_Exclusions(t *testing.T) {
	tests := []struct {
		name         string
		static       []int64
		repo         *fakeSettingsRepo
		formID       int64
		wantExcluded bool
	}{
		{"static list", []int64{7}, nil, 7, true},
		{"stored list", nil, &fakeSettingsRepo{excluded: []int64{9}}, 9, true},
		{"not listed", []int64{7}, &fakeSettingsRepo{excluded: []int64{9}}, 5, false},
		{"missing form id", []int64{0}, nil, 0, true},
		{"stored list unavailable", []int64{7}, &fakeSettingsRepo{excludeErr: errors.New("db down")}, 9, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := &fakeDispatcher{}
			svc, registry := newTestService(Config{ExcludedFormIDs: tt.static}, tt.repo, dispatcher)

			sub := contactSubmission(tt.formID)
			sub.Raw = map[string]any{"id": float64(tt.formID), "title": "Kontakt"}
			res, err := svc.Process(context.Background(), sub, cpcSignals())
			require.NoError(t, err)

			assert.Equal(t, tt.wantExcluded, res.Excluded)
			if tt.wantExcluded {
				assert.Nil(t, res.Payload)
				assert.Same(t, sub, res.Submission)
				assert.Equal(t, map[string]any{"id": float64(tt.formID), "title": "Kontakt"}, res.Submission.Raw)
				assert.Empty(t, dispatcher.deliveries)
				assert.Equal(t, int64(1), registry.Count(metrics.SubmissionsExcluded))
			} else {
				assert.NotNil(t, res.Payload)
				assert.Len(t, dispatcher.deliveries, 1)
			}
		})
	}
}

func TestProcess_FormSettings(t *testing.T) {
	repo := &fakeSettingsRepo{settings: map[int64]*domain.FormSettings{
		5: {FormID: 5, ManualMap: domain.ManualMap{"f3": "Source"}},
		6: {
			FormID:    6,
			UpdatedAt: fixedNow,
			Ruleset: &domain.RulesetSpec{
				ExtendsDefault: true,
				Tiers: []domain.TierSpec{{
					Priority: 95,
					Rules:    []domain.RuleSpec{{Target: "Farm Size", Keywords: []string{"gospodarstwa"}}},
				}},
			},
		},
		8: {
			FormID: 8,
			Ruleset: &domain.RulesetSpec{Tiers: []domain.TierSpec{{
				Priority: 10,
				Rules:    []domain.RuleSpec{{Target: "X", Concept: "no-such-concept"}},
			}}},
		},
	}}
	svc, _ := newTestService(Config{}, repo, nil)

	farmField := domain.FieldDescriptor{Key: "f9", Label: "Powierzchnia gospodarstwa", Type: "text", Value: "40 ha"}

	t.Run("manual map", func(t *testing.T) {
		res, err := svc.Process(context.Background(), contactSubmission(5), domain.TrackingSignals{})
		require.NoError(t, err)
		source, _ := res.Payload.GetString("Source")
		assert.Equal(t, "google", source)
		assert.False(t, res.Payload.Has("utm_source"))
	})

	t.Run("ruleset override", func(t *testing.T) {
		sub := contactSubmission(6)
		sub.Fields = append(sub.Fields, farmField)

		for i := 0; i < 2; i++ {
			res, err := svc.Process(context.Background(), sub, domain.TrackingSignals{})
			require.NoError(t, err)
			size, _ := res.Payload.GetString("Farm Size")
			assert.Equal(t, "40 ha", size)
			name, _ := res.Payload.GetString(domain.TargetFullName)
			assert.Equal(t, "Jan Kowalski", name)
		}
		assert.Len(t, svc.rulesets, 1)
	})

	t.Run("default ruleset for other forms", func(t *testing.T) {
		sub := contactSubmission(5)
		sub.Fields = append(sub.Fields, farmField)
		res, err := svc.Process(context.Background(), sub, domain.TrackingSignals{})
		require.NoError(t, err)
		assert.False(t, res.Payload.Has("Farm Size"))
	})

	t.Run("broken ruleset falls back", func(t *testing.T) {
		res, err := svc.Process(context.Background(), contactSubmission(8), domain.TrackingSignals{})
		require.NoError(t, err)
		msg, _ := res.Payload.GetString(domain.TargetMessage)
		assert.Equal(t, "Proszę o kontakt", msg)
	})
}

func TestProcess_SettingsLookupFailureUsesDefaults(t *testing.T) {
	repo := &fakeSettingsRepo{getErr: errors.New("timeout")}
	dispatcher := &fakeDispatcher{}
	svc, _ := newTestService(Config{}, repo, dispatcher)

	res, err := svc.Process(context.Background(), contactSubmission(5), domain.TrackingSignals{})
	require.NoError(t, err)
	assert.True(t, res.Dispatched)
	name, _ := res.Payload.GetString(domain.TargetFullName)
	assert.Equal(t, "Jan Kowalski", name)
}

func TestProcess_DispatchErrorIsNotReturned(t *testing.T) {
	dispatcher := &fakeDispatcher{err: errors.New("queue full")}
	svc, registry := newTestService(Config{}, nil, dispatcher)

	res, err := svc.Process(context.Background(), contactSubmission(5), domain.TrackingSignals{})
	require.NoError(t, err)
	assert.False(t, res.Dispatched)
	assert.Empty(t, res.DeliveryID)
	assert.NotNil(t, res.Payload)
	assert.Equal(t, int64(1), registry.Count(metrics.DispatchErrors))
	assert.Equal(t, int64(0), registry.Count(metrics.DeliveriesQueued))
}

func TestPreview(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	svc, registry := newTestService(Config{ExcludedFormIDs: []int64{7}}, nil, dispatcher)

	sub := contactSubmission(5)
	sub.Fields[1].Label = "Uwagi"
	sub.Fields[1].Value = "Proszę oddzwonić"

	res, err := svc.Preview(context.Background(), sub, cpcSignals())
	require.NoError(t, err)
	assert.Empty(t, dispatcher.deliveries)
	assert.Equal(t, attribution.GoogleCPC, res.Attribution)
	require.NotNil(t, res.Explanation)
	assert.True(t, res.Explanation.MessageOverridden)
	assert.Equal(t, "f2", res.Explanation.MessageSourceKey)
	assert.Len(t, res.Explanation.Fields, 3)

	msg, _ := res.Payload.GetString(domain.TargetMessage)
	assert.Equal(t, "Proszę oddzwonić", msg)
	assert.Equal(t, int64(1), registry.Count(metrics.MessageOverrides))

	excluded, err := svc.Preview(context.Background(), contactSubmission(7), cpcSignals())
	require.NoError(t, err)
	assert.True(t, excluded.Excluded)
	assert.Nil(t, excluded.Payload)
	assert.Equal(t, attribution.GoogleCPC, excluded.Attribution)
}
