// Package submission turns collected form submissions into webhook payloads.
package submission

import (
	"context"
	"sync"
	"time"

	"formrelay/core/domain"
	"formrelay/core/port/in"
	"formrelay/core/port/out"
	"formrelay/core/service/attribution"
	"formrelay/core/service/classification"
	"formrelay/pkg/logger"
	"formrelay/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SubmissionDatetimeLayout is the layout of the Submission Datetime value.
const SubmissionDatetimeLayout = "2006-01-02 15:04:05"

// SubmissionURLNotSet is sent when the collector saw no referrer.
const SubmissionURLNotSet = "not_set"

// Config holds the payload settings shared by every submission.
type Config struct {
	PayloadPrefix    string
	DefaultFormTitle string
	ExcludedFormIDs  []int64
	Location         *time.Location
}

// Service implements in.SubmissionUseCase.
type Service struct {
	cfg        Config
	excluded   map[int64]struct{}
	classifier *classification.Classifier
	settings   out.FormSettingsRepository
	dispatcher out.DeliveryDispatcher
	metrics    *metrics.Registry

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	rulesets map[int64]compiledRuleset
}

type compiledRuleset struct {
	updatedAt time.Time
	ruleset   *classification.Ruleset
}

var _ in.SubmissionUseCase = (*Service)(nil)

// NewService creates the submission service. settings and dispatcher may be
// nil: submissions then use the defaults and are not delivered.
func NewService(
	cfg Config,
	classifier *classification.Classifier,
	settings out.FormSettingsRepository,
	dispatcher out.DeliveryDispatcher,
	registry *metrics.Registry,
) *Service {
	if cfg.DefaultFormTitle == "" {
		cfg.DefaultFormTitle = "Untitled"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if classifier == nil {
		classifier = classification.NewClassifier(nil, nil)
	}
	if registry == nil {
		registry = metrics.Global()
	}

	excluded := make(map[int64]struct{}, len(cfg.ExcludedFormIDs))
	for _, id := range cfg.ExcludedFormIDs {
		excluded[id] = struct{}{}
	}

	return &Service{
		cfg:        cfg,
		excluded:   excluded,
		classifier: classifier,
		settings:   settings,
		dispatcher: dispatcher,
		metrics:    registry,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
		rulesets:   make(map[int64]compiledRuleset),
	}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Process classifies sub and hands the payload to the dispatcher. Dispatch
// failures are logged and reported through Dispatched, never returned.
func (s *Service) Process(ctx context.Context, sub *domain.Submission, signals domain.TrackingSignals) (*in.ProcessResult, error) {
	s.metrics.Inc(metrics.SubmissionsReceived)
	log := logger.WithContext(ctx).WithField("form_id", sub.FormID)

	if s.isExcluded(ctx, sub.FormID) {
		s.metrics.Inc(metrics.SubmissionsExcluded)
		log.Debug("form excluded, submission passed through")
		return &in.ProcessResult{Submission: sub, Excluded: true}, nil
	}

	payload, _ := s.build(ctx, sub, signals)
	result := &in.ProcessResult{Submission: sub, Payload: payload}

	if s.dispatcher == nil {
		log.Warn("no delivery dispatcher configured, payload not sent")
		return result, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.metrics.Inc(metrics.DispatchErrors)
		log.WithError(err).Error("payload encoding failed")
		return result, nil
	}

	delivery := &domain.Delivery{
		ID:        s.newID(),
		FormID:    sub.FormID,
		Body:      body,
		CreatedAt: s.now(),
	}
	if err := s.dispatcher.Dispatch(ctx, delivery); err != nil {
		s.metrics.Inc(metrics.DispatchErrors)
		log.WithField("delivery_id", delivery.ID).WithError(err).Error("delivery dispatch failed")
		return result, nil
	}

	s.metrics.Inc(metrics.DeliveriesQueued)
	result.Dispatched = true
	result.DeliveryID = delivery.ID
	return result, nil
}

// Preview builds the payload without delivering it.
func (s *Service) Preview(ctx context.Context, sub *domain.Submission, signals domain.TrackingSignals) (*in.PreviewResult, error) {
	s.metrics.Inc(metrics.SubmissionsPreview)

	result := &in.PreviewResult{
		FormID:      sub.FormID,
		Attribution: attribution.Attribute(signals),
	}
	if s.isExcluded(ctx, sub.FormID) {
		result.Excluded = true
		return result, nil
	}

	payload, explanation := s.build(ctx, sub, signals)
	result.Payload = payload
	result.Explanation = explanation
	return result, nil
}

// isExcluded checks the static list first, then the stored exclusions.
// Repository failures fall back to the static list.
func (s *Service) isExcluded(ctx context.Context, formID int64) bool {
	if _, ok := s.excluded[formID]; ok {
		return true
	}
	if s.settings == nil {
		return false
	}
	ids, err := s.settings.ListExcludedFormIDs(ctx)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Warn("exclusion list unavailable, using static list")
		return false
	}
	for _, id := range ids {
		if id == formID {
			return true
		}
	}
	return false
}

func (s *Service) build(ctx context.Context, sub *domain.Submission, signals domain.TrackingSignals) (*domain.Payload, *domain.Explanation) {
	classifier, manual := s.formClassifier(ctx, sub.FormID)

	payload := domain.NewPayload()
	payload.Set(domain.KeyFormTitle, sub.TitleOrDefault(s.cfg.DefaultFormTitle))
	payload.Merge(s.trackingBlock(signals))

	start := time.Now()
	res := classifier.Explain(sub.Fields, manual)
	s.metrics.Since(metrics.LatencyClassify, start)
	if res.MessageOverridden {
		s.metrics.Inc(metrics.MessageOverrides)
	}
	payload.Merge(res.Payload)

	if s.cfg.PayloadPrefix != "" {
		payload = payload.WithPrefix(s.cfg.PayloadPrefix)
	}
	explanation := res.Explanation
	return payload, &explanation
}

func (s *Service) trackingBlock(signals domain.TrackingSignals) *domain.Payload {
	submittedAt := signals.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = s.now()
	}
	submissionURL := SubmissionURLNotSet
	if signals.ReferrerURL != nil && *signals.ReferrerURL != "" {
		submissionURL = *signals.ReferrerURL
	}

	block := domain.NewPayload()
	block.Set(domain.KeyCalculatedSource, attribution.Attribute(signals))
	block.Set(domain.KeyTrafficSource, nullable(signals.TrafficSource))
	block.Set(domain.KeyUTMMedium, nullable(signals.UTMMedium))
	block.Set(domain.KeyUTMSource, nullable(signals.UTMSource))
	block.Set(domain.KeyLandingPage, nullable(signals.LandingPage))
	block.Set(domain.KeySubmissionURL, submissionURL)
	block.Set(domain.KeySubmissionDatetime, submittedAt.In(s.cfg.Location).Format(SubmissionDatetimeLayout))
	return block
}

// formClassifier returns the classifier and manual map for formID. Settings
// that cannot be loaded or compiled fall back to the defaults.
func (s *Service) formClassifier(ctx context.Context, formID int64) (*classification.Classifier, domain.ManualMap) {
	if s.settings == nil {
		return s.classifier, nil
	}
	log := logger.WithContext(ctx).WithField("form_id", formID)

	settings, err := s.settings.Get(ctx, formID)
	if err != nil {
		log.WithError(err).Warn("form settings unavailable, using defaults")
		return s.classifier, nil
	}
	if settings == nil {
		return s.classifier, nil
	}
	if settings.Ruleset == nil {
		return s.classifier, settings.ManualMap
	}

	rs, err := s.compiledRuleset(settings)
	if err != nil {
		log.WithError(err).Warn("stored ruleset does not compile, using default ruleset")
		return s.classifier, settings.ManualMap
	}
	return s.classifier.WithRuleset(rs), settings.ManualMap
}

// compiledRuleset memoizes compiled per-form rulesets until the settings change.
func (s *Service) compiledRuleset(settings *domain.FormSettings) (*classification.Ruleset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.rulesets[settings.FormID]; ok && c.updatedAt.Equal(settings.UpdatedAt) {
		return c.ruleset, nil
	}
	rs, err := classification.Compile(settings.Ruleset)
	if err != nil {
		delete(s.rulesets, settings.FormID)
		return nil, err
	}
	s.rulesets[settings.FormID] = compiledRuleset{updatedAt: settings.UpdatedAt, ruleset: rs}
	return rs, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
