package domain

import "time"

// ManualMap maps a field key straight to a payload target.
type ManualMap map[string]string

// FormSettings holds per-form overrides managed through the admin API.
type FormSettings struct {
	FormID    int64        `json:"form_id"`
	Excluded  bool         `json:"excluded"`
	ManualMap ManualMap    `json:"manual_map,omitempty"`
	Ruleset   *RulesetSpec `json:"ruleset,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RulesetSpec is the declarative form of a classification ruleset, loaded
// from YAML files or stored as JSON per form.
type RulesetSpec struct {
	// ExtendsDefault layers the tiers below on top of the built-in ruleset.
	ExtendsDefault bool                `json:"extends_default" yaml:"extends_default"`
	Dictionaries   map[string][]string `json:"dictionaries,omitempty" yaml:"dictionaries,omitempty"`
	Tiers          []TierSpec          `json:"tiers" yaml:"tiers"`
}

// TierSpec is one priority group of rules.
type TierSpec struct {
	Name     string     `json:"name,omitempty" yaml:"name,omitempty"`
	Priority int        `json:"priority" yaml:"priority"`
	Rules    []RuleSpec `json:"rules" yaml:"rules"`
}

// RuleSpec names a target and the keyword groups that select it. A rule with
// a followed_by group is compound: the second group must appear after the first.
type RuleSpec struct {
	Target             string   `json:"target" yaml:"target"`
	Concept            string   `json:"concept,omitempty" yaml:"concept,omitempty"`
	Keywords           []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	FollowedBy         string   `json:"followed_by,omitempty" yaml:"followed_by,omitempty"`
	FollowedByKeywords []string `json:"followed_by_keywords,omitempty" yaml:"followed_by_keywords,omitempty"`
}

// IsCompound reports whether the rule carries a second keyword group.
func (r RuleSpec) IsCompound() bool {
	return r.FollowedBy != "" || len(r.FollowedByKeywords) > 0
}
