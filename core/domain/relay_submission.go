package domain

import (
	"strconv"
	"strings"
	"time"
)

// ChoiceOption is one entry of a choice-list field.
type ChoiceOption struct {
	Value any    `json:"value"`
	Label string `json:"label"`
}

// FieldDescriptor is a single submitted form field.
type FieldDescriptor struct {
	Key     string         `json:"key"`
	Label   string         `json:"label"`
	Type    string         `json:"type"`
	Value   any            `json:"value"`
	Options []ChoiceOption `json:"options,omitempty"`
}

// FieldTypeOrDefault returns the field type, or "unknown" when none was sent.
func (f *FieldDescriptor) FieldTypeOrDefault() string {
	if f.Type == "" {
		return FieldTypeUnknown
	}
	return f.Type
}

// Submission is the normalized record handed over by the collector.
type Submission struct {
	FormID int64             `json:"form_id"`
	Title  string            `json:"title"`
	Fields []FieldDescriptor `json:"fields"`

	// Raw keeps the record exactly as received so excluded forms can be returned untouched.
	Raw map[string]any `json:"-"`
}

// TitleOrDefault returns the form title or fallback when it is blank.
func (s *Submission) TitleOrDefault(fallback string) string {
	if strings.TrimSpace(s.Title) == "" {
		return fallback
	}
	return s.Title
}

// TrackingSignals are the attribution inputs read from cookies and headers.
// A nil pointer means the signal was not present at all.
type TrackingSignals struct {
	TrafficSource *string   `json:"traffic_source,omitempty"`
	UTMMedium     *string   `json:"utm_medium,omitempty"`
	UTMSource     *string   `json:"utm_source,omitempty"`
	LandingPage   *string   `json:"landing_page,omitempty"`
	ReferrerURL   *string   `json:"referrer_url,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ParseFormID extracts a numeric form id from a raw record. The first key holding
// a numeric value wins; anything else yields 0.
func ParseFormID(raw map[string]any, keys ...string) int64 {
	if len(keys) == 0 {
		keys = []string{"form_id", "id"}
	}
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int:
			return int64(n)
		case int64:
			return n
		case string:
			s := strings.TrimSpace(n)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return int64(f)
			}
		}
	}
	return 0
}
