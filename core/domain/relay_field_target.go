package domain

import (
	"strings"
	"unicode"
)

// Canonical payload targets.
const (
	TargetFullName     = "Full Name"
	TargetEmail        = "Email"
	TargetPhone        = "Phone"
	TargetMessage      = "Message"
	TargetConsentEmail = "Consent-Email"
	TargetConsentSMS   = "Consent-SMS"
	TargetPostal       = "Postal/District"
	TargetEquipment    = "Equipment"
)

// Payload header and tracking keys.
const (
	KeyFormTitle          = "Form Title"
	KeyCalculatedSource   = "Calculated Source"
	KeyTrafficSource      = "Pys Traffic Source"
	KeyUTMMedium          = "Pys Utm Medium"
	KeyUTMSource          = "Pys Utm Source"
	KeyLandingPage        = "Pys Landing Page"
	KeySubmissionURL      = "Submission Url"
	KeySubmissionDatetime = "Submission Datetime"
)

const (
	FieldTypeUnknown  = "unknown"
	FieldTypeTextarea = "textarea"
)

var (
	// skipFieldTypes never carry user content. Matched exactly.
	skipFieldTypes = map[string]struct{}{
		"submit": {}, "html": {}, "hr": {}, "recaptcha": {}, "spam": {}, "info": {}, "divider": {},
	}

	textualFieldTypes = map[string]struct{}{
		"textarea": {}, "textbox": {}, "text": {}, "paragraph": {},
		"richtext": {}, "wysiwyg": {}, "textarea_rte": {},
	}

	booleanFieldTypes = map[string]struct{}{
		"checkbox": {}, "toggle": {},
	}

	choiceFieldTypes = map[string]struct{}{
		"listselect": {}, "listradio": {},
	}

	// metaTypePrefixes mark analytics and layout types.
	metaTypePrefixes = []string{
		"user-analytics", "hidden", "submit", "recaptcha", "spam", "hr", "html", "info", "divider",
	}

	// metaNeedles appear in labels or keys of tracking fields.
	metaNeedles = []string{
		"utm", "user analytics", "analytics", "pys", "traffic", "landing page", "landing-page",
		"referer", "referrer", "gclid", "fbclid", "campaign", "medium", "source", "term", "cookie",
	}

	// trackingTokens are whole words that only tracking fields use.
	trackingTokens = map[string]struct{}{
		"utm": {}, "pys": {}, "gclid": {}, "fbclid": {}, "analytics": {}, "referrer": {}, "referer": {},
	}

	identityTargets = map[string]struct{}{
		TargetFullName: {}, TargetEmail: {}, TargetPhone: {},
	}

	consentTargets = map[string]struct{}{
		TargetConsentEmail: {}, TargetConsentSMS: {},
	}
)

// IsSkippedFieldType reports whether t is a layout or anti-spam type.
func IsSkippedFieldType(t string) bool {
	_, ok := skipFieldTypes[t]
	return ok
}

// IsTextualFieldType reports whether t holds free text written by the user.
func IsTextualFieldType(t string) bool {
	_, ok := textualFieldTypes[strings.ToLower(t)]
	return ok
}

func IsBooleanFieldType(t string) bool {
	_, ok := booleanFieldTypes[t]
	return ok
}

func IsChoiceFieldType(t string) bool {
	_, ok := choiceFieldTypes[t]
	return ok
}

// IsMetaField reports whether a field carries tracking data instead of content.
// label and key are expected in their normalized search form.
func IsMetaField(label, key, fieldType string) bool {
	t := strings.ToLower(fieldType)
	for _, prefix := range metaTypePrefixes {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return HasTrackingVocabulary(label, key)
}

// HasTrackingVocabulary reports whether a normalized label or key names an
// analytics or attribution value (utm, referrer, click ids, cookies...).
func HasTrackingVocabulary(label, key string) bool {
	for _, needle := range metaNeedles {
		if strings.Contains(label, needle) || strings.Contains(key, needle) {
			return true
		}
	}
	return false
}

// HasTrackingToken reports whether the label or key contains a tracking token
// as a whole word. Words are split on anything that is not a letter or digit.
func HasTrackingToken(label, key string) bool {
	return hasToken(label) || hasToken(key)
}

func hasToken(s string) bool {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, ok := trackingTokens[w]; ok {
			return true
		}
	}
	return false
}

func IsIdentityTarget(target string) bool {
	_, ok := identityTargets[target]
	return ok
}

func IsConsentTarget(target string) bool {
	_, ok := consentTargets[target]
	return ok
}
