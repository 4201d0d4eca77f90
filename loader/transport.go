package loader

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Transport sends a wire-level request. It is the only collaborator that
// performs network I/O, and it must abort when ctx is cancelled.
type Transport interface {
	Send(ctx context.Context, req *http.Request) (*http.Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// HTTPConfig tunes the *http.Client built by NewHTTPTransport.
//
// Start from one of the presets and override fields as needed:
//
//	cfg := loader.DefaultHTTPConfig()
//	cfg.Timeout = 30 * time.Second
//	transport := loader.NewHTTPTransport(cfg)
type HTTPConfig struct {
	// Timeout limits the whole exchange: connect, write, and read of the
	// response body. Zero means no timeout.
	//
	// Default: 15s
	Timeout time.Duration

	// MaxIdleConns limits idle keep-alive connections across all hosts.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost limits idle connections kept per host.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits total connections per host. Zero is unlimited.
	//
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays pooled.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout limits the TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout limits the wait for response headers after the
	// request is written. Zero defers to Timeout.
	ResponseHeaderTimeout time.Duration

	// ExpectContinueTimeout limits the wait for a 100-continue.
	//
	// Default: 1s
	ExpectContinueTimeout time.Duration

	// DialTimeout limits TCP connection establishment.
	//
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive period.
	//
	// Default: 30s
	KeepAlive time.Duration

	DisableKeepAlives  bool
	DisableCompression bool
	ForceHTTP2         bool

	// TLSConfig is used for HTTPS connections. Nil uses the Go defaults.
	TLSConfig *tls.Config
}

// DefaultHTTPConfig returns a balanced configuration for API traffic.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:               15 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialTimeout:           5 * time.Second,
		KeepAlive:             30 * time.Second,
		DisableCompression:    true,
	}
}

// LowLatencyHTTPConfig returns a configuration with short timeouts and
// HTTP/2 enabled, for latency-sensitive calls.
func LowLatencyHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:               5 * time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   25,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 3 * time.Second,
		ExpectContinueTimeout: 500 * time.Millisecond,
		DialTimeout:           2 * time.Second,
		KeepAlive:             15 * time.Second,
		DisableCompression:    true,
		ForceHTTP2:            true,
	}
}

// HighThroughputHTTPConfig returns a configuration with a large
// connection pool and unlimited per-host connections, for bulk traffic
// and uploads.
func HighThroughputHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:               60 * time.Second,
		MaxIdleConns:          500,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialTimeout:           5 * time.Second,
		KeepAlive:             30 * time.Second,
		DisableCompression:    true,
	}
}

// HTTPTransport is a Transport backed by an *http.Client.
type HTTPTransport struct {
	client *http.Client
}

// Compile-time interface check.
var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport builds a pooled *http.Client from cfg.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		DisableCompression:    cfg.DisableCompression,
		TLSClientConfig:       cfg.TLSConfig,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}

	return &HTTPTransport{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

// NewHTTPTransportFromClient wraps an existing client. A nil client uses
// http.DefaultClient.
func NewHTTPTransportFromClient(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.client.Do(req.WithContext(ctx))
}
