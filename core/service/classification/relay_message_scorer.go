package classification

import (
	"strings"
	"unicode/utf8"

	"formrelay/core/domain"
)

const (
	textareaBonus   = 100000
	textualBonus    = 10000
	maxLengthCredit = 1000000
)

var weakTexts = map[string]struct{}{
	"": {}, "n/a": {}, "na": {}, "null": {}, "none": {}, "-": {}, "brak": {}, `n\a`: {},
}

// IsMessageEligible reports whether a field may fill the Message slot: a
// textual type, not a tracking field, with non-blank content. label and key
// are the normalized search forms.
func IsMessageEligible(fieldType, label, key string, value any) bool {
	if !domain.IsTextualFieldType(fieldType) {
		return false
	}
	if domain.IsMetaField(label, key, fieldType) {
		return false
	}
	return TextOf(value) != ""
}

// MessageScore rates a candidate. Textareas always outrank other types, then
// longer text wins. Blank values score -1.
func MessageScore(fieldType string, value any) int {
	text := TextOf(value)
	if text == "" {
		return -1
	}
	bonus := textualBonus
	if strings.ToLower(fieldType) == domain.FieldTypeTextarea {
		bonus = textareaBonus
	}
	return bonus + min(utf8.RuneCountInString(text), maxLengthCredit)
}

// IsWeakText reports whether a Message value is as good as empty.
func IsWeakText(v any) bool {
	if v == nil || !domain.IsScalar(v) {
		return true
	}
	t := strings.ToLower(strings.TrimSpace(domain.Stringify(v)))
	if _, weak := weakTexts[t]; weak {
		return true
	}
	return utf8.RuneCountInString(t) < 2
}

// MessageCandidate is the best Message source seen so far.
type MessageCandidate struct {
	Index int
	Field *domain.FieldDescriptor
	Score int
}

// messageScorer keeps a running maximum. Ties keep the earlier field.
type messageScorer struct {
	best *MessageCandidate
}

func (s *messageScorer) Offer(index int, field *domain.FieldDescriptor, label, key string) (int, bool) {
	fieldType := field.FieldTypeOrDefault()
	if !IsMessageEligible(fieldType, label, key, field.Value) {
		return -1, false
	}
	score := MessageScore(fieldType, field.Value)
	if s.best == nil || score > s.best.Score {
		s.best = &MessageCandidate{Index: index, Field: field, Score: score}
	}
	return score, true
}

func (s *messageScorer) Best() *MessageCandidate {
	return s.best
}
