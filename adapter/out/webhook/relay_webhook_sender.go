// Package webhook posts payloads to the configured webhook endpoint.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"formrelay/core/port/out"
	"formrelay/pkg/httputil"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var (
	ErrWebhookNotConfigured = fmt.Errorf("%w: webhook url not configured", out.ErrDeliveryRejected)
	ErrHostNotAllowed       = fmt.Errorf("%w: webhook host not allowed", out.ErrDeliveryRejected)
	ErrUnexpectedStatus     = errors.New("unexpected webhook status")
)

// ContentType is sent with every payload.
const ContentType = "application/json; charset=utf-8"

// Config holds webhook settings.
type Config struct {
	URL         string
	AllowedHost string
	Timeout     time.Duration
}

// Sender implements out.PayloadSender.
type Sender struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

var _ out.PayloadSender = (*Sender)(nil)

func NewSender(cfg Config, log zerolog.Logger) *Sender {
	log = log.With().Str("component", "webhook_sender").Logger()

	settings := gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Sender{
		cfg:     cfg,
		client:  httputil.NewOptimizedClient(httputil.WebhookClientConfig(cfg.Timeout)),
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

// Validate checks the configured URL against the allowed host.
func (s *Sender) Validate() error {
	_, err := s.target()
	return err
}

func (s *Sender) target() (string, error) {
	if s.cfg.URL == "" {
		return "", ErrWebhookNotConfigured
	}
	u, err := url.Parse(s.cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid url", ErrWebhookNotConfigured)
	}
	if u.Hostname() != s.cfg.AllowedHost {
		return "", fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	return u.String(), nil
}

// Send posts body and returns the response status. Configuration errors are
// returned without a request and do not count against the breaker.
func (s *Sender) Send(ctx context.Context, body []byte) (int, error) {
	target, err := s.target()
	if err != nil {
		return 0, err
	}

	status := 0
	_, err = s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", ContentType)

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		status = resp.StatusCode
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
		}
		return nil, nil
	})
	return status, err
}

// BreakerState reports the circuit breaker state.
func (s *Sender) BreakerState() string {
	return s.breaker.State().String()
}
