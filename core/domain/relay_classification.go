package domain

// ClassificationSource tells how a field got its target.
type ClassificationSource string

const (
	SourceManual  ClassificationSource = "manual"  // manual map entry
	SourceRule    ClassificationSource = "rule"    // ruleset match
	SourceSlug    ClassificationSource = "slug"    // label or key slug
	SourceSkipped ClassificationSource = "skipped" // layout type or empty value
)

// FieldOutcome explains how one field was handled.
type FieldOutcome struct {
	Key          string               `json:"key"`
	Label        string               `json:"label"`
	Type         string               `json:"type"`
	Target       string               `json:"target,omitempty"`
	Source       ClassificationSource `json:"source"`
	Tier         int                  `json:"tier,omitempty"`
	Rule         string               `json:"rule,omitempty"`
	Rejected     []string             `json:"rejected,omitempty"`
	MessageScore int                  `json:"message_score"`
}

// Explanation is the per-field reasoning behind a payload.
type Explanation struct {
	Fields            []FieldOutcome `json:"fields"`
	MessageSourceKey  string         `json:"message_source_key,omitempty"`
	MessageOverridden bool           `json:"message_overridden"`
}
