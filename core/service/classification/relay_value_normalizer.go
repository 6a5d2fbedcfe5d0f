package classification

import (
	"strings"

	"formrelay/core/domain"
	"formrelay/pkg/safejson"
)

const (
	ConsentYes = "yes"
	ConsentNo  = "no"
)

// DefaultCheckedMarkers are the localized labels some form builders send
// instead of "1" for a ticked box.
var DefaultCheckedMarkers = []string{"Checked", "Zaznaczone"}

// ChoiceCache memoizes option value -> label maps per field key for the
// duration of one classification run. It must not be shared between runs.
type ChoiceCache struct {
	byField map[string]map[string]string
}

func NewChoiceCache() *ChoiceCache {
	return &ChoiceCache{byField: make(map[string]map[string]string)}
}

// Resolve maps value to its option label.
func (c *ChoiceCache) Resolve(field *domain.FieldDescriptor, value any) (string, bool) {
	labels, ok := c.byField[field.Key]
	if !ok {
		labels = make(map[string]string, len(field.Options))
		for _, opt := range field.Options {
			if opt.Value == nil {
				continue
			}
			labels[domain.Stringify(opt.Value)] = opt.Label
		}
		c.byField[field.Key] = labels
	}
	label, ok := labels[domain.Stringify(value)]
	return label, ok
}

// size returns the number of fields cached so far.
func (c *ChoiceCache) size() int {
	return len(c.byField)
}

// ValueNormalizer converts raw field values into payload scalars.
type ValueNormalizer struct {
	checked map[string]struct{}
}

func NewValueNormalizer(checkedMarkers []string) *ValueNormalizer {
	if len(checkedMarkers) == 0 {
		checkedMarkers = DefaultCheckedMarkers
	}
	checked := make(map[string]struct{}, len(checkedMarkers))
	for _, m := range checkedMarkers {
		checked[m] = struct{}{}
	}
	return &ValueNormalizer{checked: checked}
}

// Normalize renders value for target. Consent targets and boolean field
// types collapse to "yes"/"no", choice lists resolve through their options,
// everything else becomes text.
func (n *ValueNormalizer) Normalize(field *domain.FieldDescriptor, value any, target string, cache *ChoiceCache) any {
	fieldType := field.FieldTypeOrDefault()

	if domain.IsConsentTarget(target) || domain.IsBooleanFieldType(fieldType) {
		if n.isChecked(value) {
			return ConsentYes
		}
		return ConsentNo
	}

	if domain.IsChoiceFieldType(fieldType) {
		if cache == nil {
			cache = NewChoiceCache()
		}
		if label, ok := cache.Resolve(field, value); ok {
			return label
		}
		return value
	}

	if domain.IsTextualFieldType(fieldType) {
		if domain.IsScalar(value) {
			return strings.TrimSpace(domain.Stringify(value))
		}
		return safejson.String(value)
	}

	if value == nil {
		return ""
	}
	if domain.IsScalar(value) {
		return domain.Stringify(value)
	}
	return safejson.String(value)
}

func (n *ValueNormalizer) isChecked(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if v == "1" {
			return true
		}
		_, ok := n.checked[v]
		return ok
	}
	return domain.IsScalar(value) && domain.Stringify(value) == "1"
}

// TextOf renders a value for content checks: scalars are stringified and
// trimmed, structures are encoded as JSON.
func TextOf(value any) string {
	if value == nil {
		return ""
	}
	if domain.IsScalar(value) {
		return strings.TrimSpace(domain.Stringify(value))
	}
	return strings.TrimSpace(safejson.String(value))
}
