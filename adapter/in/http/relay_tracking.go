package http

import (
	"net/url"
	"strings"
	"time"

	"formrelay/core/domain"

	"github.com/gofiber/fiber/v2"
)

const (
	CookieTrafficSource = "pysTrafficSource"
	CookieUTMMedium     = "pys_utm_medium"
	CookieUTMSource     = "pys_utm_source"
	CookieLandingPage   = "pys_landing_page"
)

// CollectTracking reads attribution signals from cookies and the Referer
// header. Keys in override replace the request values.
func CollectTracking(c *fiber.Ctx, override map[string]any) domain.TrackingSignals {
	signals := domain.TrackingSignals{
		TrafficSource: sanitizeKey(c.Cookies(CookieTrafficSource)),
		UTMMedium:     sanitizeKey(c.Cookies(CookieUTMMedium)),
		UTMSource:     sanitizeKey(c.Cookies(CookieUTMSource)),
		LandingPage:   sanitizeURL(c.Cookies(CookieLandingPage)),
		ReferrerURL:   sanitizeURL(c.Get(fiber.HeaderReferer)),
	}
	applyTrackingOverride(&signals, override)
	return signals
}

func applyTrackingOverride(signals *domain.TrackingSignals, override map[string]any) {
	if override == nil {
		return
	}
	if v, ok := override["traffic_source"].(string); ok {
		signals.TrafficSource = sanitizeKey(v)
	}
	if v, ok := override["utm_medium"].(string); ok {
		signals.UTMMedium = sanitizeKey(v)
	}
	if v, ok := override["utm_source"].(string); ok {
		signals.UTMSource = sanitizeKey(v)
	}
	if v, ok := override["landing_page"].(string); ok {
		signals.LandingPage = sanitizeURL(v)
	}
	if v, ok := override["referrer_url"].(string); ok {
		signals.ReferrerURL = sanitizeURL(v)
	}
	if v, ok := override["submitted_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			signals.SubmittedAt = ts
		}
	}
}

// sanitizeKey lowercases s and keeps only [a-z0-9_-]. Empty input is absent.
func sanitizeKey(s string) *string {
	if s == "" {
		return nil
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return domain.StringPtr(b.String())
}

// sanitizeURL keeps s only when it is an absolute http(s) URL.
func sanitizeURL(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	return domain.StringPtr(u.String())
}
