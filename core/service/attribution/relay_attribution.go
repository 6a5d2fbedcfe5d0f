// Package attribution derives a marketing acquisition channel from the
// tracking cookies collected with a submission.
package attribution

import (
	"strings"

	"formrelay/core/domain"
)

// Channel labels.
const (
	GoogleCPC        = "google cpc"
	FacebookCPC      = "facebook cpc"
	OtherCPC         = "other cpc"
	Newsletter       = "newsletter"
	SMSCampaign      = "SMS campaign"
	OtherNewsletter  = "other newsletter"
	Direct           = "direct"
	InstagramOrganic = "instagram organic"
	FacebookOrganic  = "facebook organic"
	Organic          = "organic"
	Referral         = "referral"
	Other            = "other"
)

var (
	socialSources = []string{"facebook", "linkedin", "messenger"}
	searchSources = []string{"google", "bing", "chat", "yahoo", "perplexity"}
)

// Attribute maps tracking signals to one channel label. Signals are compared
// as given; the collector lowercases them. A nil signal never equals a
// literal and contains nothing.
func Attribute(s domain.TrackingSignals) string {
	medium, source, traffic := s.UTMMedium, s.UTMSource, s.TrafficSource

	if equals(medium, "cpc") {
		switch {
		case equals(source, "google"):
			return GoogleCPC
		case equals(source, "facebook"):
			return FacebookCPC
		default:
			return OtherCPC
		}
	}

	if equals(source, "newsletter") {
		switch {
		case equals(medium, "email"):
			return Newsletter
		case equals(medium, "sms"):
			return SMSCampaign
		default:
			return OtherNewsletter
		}
	}

	if !isEmptyMedium(medium) {
		return Other
	}

	t := domain.Deref(traffic)
	switch {
	case equals(traffic, "direct"):
		return Direct
	case strings.Contains(t, "instagram"):
		return InstagramOrganic
	case containsAny(t, socialSources):
		return FacebookOrganic
	case containsAny(t, searchSources):
		return Organic
	default:
		return Referral
	}
}

func equals(v *string, want string) bool {
	return v != nil && *v == want
}

// isEmptyMedium treats "", "0" and the literal "null" as no medium.
func isEmptyMedium(v *string) bool {
	if v == nil {
		return true
	}
	switch *v {
	case "", "0", "null":
		return true
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
