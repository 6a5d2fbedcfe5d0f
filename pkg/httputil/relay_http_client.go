// Package httputil builds pooled HTTP clients for outbound calls.
package httputil

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrTooManyRedirects is returned when a response redirects past the limit.
var ErrTooManyRedirects = errors.New("too many redirects")

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	// Timeout bounds the whole request, redirects included.
	Timeout time.Duration

	KeepAliveInterval time.Duration

	// MaxRedirects is the number of redirects followed. Negative means the
	// net/http default.
	MaxRedirects int
}

// DefaultClientConfig returns the default configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		Timeout:             30 * time.Second,
		KeepAliveInterval:   30 * time.Second,
		MaxRedirects:        -1,
	}
}

// WebhookClientConfig returns the configuration for webhook delivery: a short
// overall timeout and a single redirect.
func WebhookClientConfig(timeout time.Duration) *ClientConfig {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ClientConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     60 * time.Second,
		DialTimeout:         timeout,
		TLSHandshakeTimeout: timeout,
		Timeout:             timeout,
		KeepAliveInterval:   30 * time.Second,
		MaxRedirects:        1,
	}
}

// NewOptimizedClient creates an HTTP client with connection pooling.
func NewOptimizedClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
	if cfg.MaxRedirects >= 0 {
		limit := cfg.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) > limit {
				return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, limit)
			}
			return nil
		}
	}
	return client
}
