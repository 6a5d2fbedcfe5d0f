// Package classification maps submitted form fields onto canonical payload
// targets using tiered keyword rules and a Message heuristic.
package classification

import (
	"formrelay/core/domain"
)

// identityWordLimit is the longest label, in words, that may still be
// classified as Full Name, Email or Phone.
const identityWordLimit = 4

const fallbackSlug = "field"

// Result is the full output of one classification run.
type Result struct {
	domain.Explanation
	Payload          *domain.Payload   `json:"payload"`
	MessageCandidate *MessageCandidate `json:"-"`
}

// Classifier maps submitted fields onto canonical targets.
type Classifier struct {
	ruleset *Ruleset
	values  *ValueNormalizer
}

// NewClassifier creates a classifier. A nil ruleset or normalizer selects the defaults.
func NewClassifier(ruleset *Ruleset, values *ValueNormalizer) *Classifier {
	if ruleset == nil {
		ruleset = DefaultRuleset()
	}
	if values == nil {
		values = NewValueNormalizer(nil)
	}
	return &Classifier{ruleset: ruleset, values: values}
}

// WithRuleset returns a classifier sharing the value normalizer but using rs.
func (c *Classifier) WithRuleset(rs *Ruleset) *Classifier {
	if rs == nil || rs == c.ruleset {
		return c
	}
	return &Classifier{ruleset: rs, values: c.values}
}

func (c *Classifier) Ruleset() *Ruleset {
	return c.ruleset
}

// Classify returns the payload for fields.
func (c *Classifier) Classify(fields []domain.FieldDescriptor, manual domain.ManualMap) *domain.Payload {
	return c.Explain(fields, manual).Payload
}

// Explain classifies fields and records the reasoning for every field.
func (c *Classifier) Explain(fields []domain.FieldDescriptor, manual domain.ManualMap) *Result {
	payload := domain.NewPayload()
	cache := NewChoiceCache()
	scorer := &messageScorer{}
	outcomes := make([]domain.FieldOutcome, 0, len(fields))

	for i := range fields {
		field := &fields[i]
		fieldType := field.FieldTypeOrDefault()
		outcome := domain.FieldOutcome{Key: field.Key, Label: field.Label, Type: fieldType, MessageScore: -1}

		if domain.IsSkippedFieldType(fieldType) || isEmptyValue(field.Value) {
			outcome.Source = domain.SourceSkipped
			outcomes = append(outcomes, outcome)
			continue
		}

		label := NormalizeForMatching(field.Label)
		key := NormalizeForMatching(field.Key)

		if target, ok := manual[field.Key]; ok {
			outcome.Source = domain.SourceManual
			outcome.Target = target
		} else if match, rejected := c.match(fieldType, label, key, field.Value); match != nil {
			outcome.Source = domain.SourceRule
			outcome.Target = match.rule.Target
			outcome.Tier = match.tier
			outcome.Rule = match.rule.Name
			outcome.Rejected = rejected
		} else {
			outcome.Source = domain.SourceSlug
			outcome.Target = slugTarget(label, key)
			outcome.Rejected = rejected
		}
		payload.Set(outcome.Target, c.values.Normalize(field, field.Value, outcome.Target, cache))

		if score, ok := scorer.Offer(i, field, label, key); ok {
			outcome.MessageScore = score
		}
		outcomes = append(outcomes, outcome)
	}

	res := &Result{
		Explanation:      domain.Explanation{Fields: outcomes},
		Payload:          payload,
		MessageCandidate: scorer.Best(),
	}

	current, has := payload.Get(domain.TargetMessage)
	if (!has || IsWeakText(current)) && res.MessageCandidate != nil {
		best := res.MessageCandidate.Field
		value := best.Value
		if value == nil {
			value = ""
		}
		payload.Set(domain.TargetMessage, c.values.Normalize(best, value, domain.TargetMessage, cache))
		res.MessageOverridden = true
		res.MessageSourceKey = best.Key
	}
	return res
}

type ruleMatch struct {
	rule Rule
	tier int
}

// match scans tiers in priority order and returns the first rule whose
// target passes the gates. Gate rejections are reported and scanning continues.
func (c *Classifier) match(fieldType, label, key string, value any) (*ruleMatch, []string) {
	var rejected []string
	for _, tier := range c.ruleset.tiers {
		for _, rule := range tier.Rules {
			if !rule.Matcher.Match(label) && !rule.Matcher.Match(key) {
				continue
			}
			if domain.IsIdentityTarget(rule.Target) {
				if CountWords(label) > identityWordLimit {
					rejected = append(rejected, rule.Name+": label too long")
					continue
				}
				if domain.HasTrackingToken(label, key) {
					rejected = append(rejected, rule.Name+": tracking field")
					continue
				}
			}
			if rule.Target == domain.TargetMessage && !IsMessageEligible(fieldType, label, key, value) {
				rejected = append(rejected, rule.Name+": not message content")
				continue
			}
			return &ruleMatch{rule: rule, tier: tier.Priority}, rejected
		}
	}
	return nil, rejected
}

func slugTarget(label, key string) string {
	if label != "" {
		if s := Slugify(label); s != "" {
			return s
		}
	}
	if s := Slugify(key); s != "" {
		return s
	}
	return fallbackSlug
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
