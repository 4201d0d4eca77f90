package request

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrMissingHost is returned by Descriptor.URL when no host has been
// resolved for the request.
var ErrMissingHost = errors.New("request: missing host")

// ErrUnsupportedScheme is returned by Descriptor.URL for schemes other than
// http and https.
var ErrUnsupportedScheme = errors.New("request: unsupported scheme")

// DefaultScheme is used when a descriptor does not name a scheme.
const DefaultScheme = "https"

// Method is an HTTP method supported by the pipeline.
type Method string

// Supported methods.
const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodDelete Method = http.MethodDelete
	MethodPatch  Method = http.MethodPatch
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch:
		return true
	default:
		return false
	}
}

// String returns the method token.
func (m Method) String() string {
	return string(m)
}

// Descriptor describes a single HTTP call.
//
// A Descriptor is a value. The With* methods return modified copies and
// never change the receiver; maps held by the copy are cloned so two
// descriptors never share mutable state.
//
// A descriptor only becomes sendable once a host is known, either set
// directly or resolved by a pipeline stage such as the environment loader.
type Descriptor struct {
	// ID identifies this descriptor instance for correlation and logging.
	// It is opaque and carries no semantics.
	ID string

	// Scheme is the URL scheme. Empty means DefaultScheme.
	Scheme string

	// Host is the server host name or address, without port.
	Host string

	// Port is the server port. Zero means the scheme default.
	Port int

	// Path is the URL path, with or without a leading slash.
	Path string

	// Query holds the URL query parameters.
	Query url.Values

	// Method is the HTTP method. Empty means GET.
	Method Method

	// Headers are the request headers. Keys are stored canonicalized and
	// later writes win.
	Headers map[string]string

	// Body is the request payload. Nil is treated as Empty().
	Body Body

	// CanRetry marks the request as safe to resubmit.
	CanRetry bool

	// RetryCount is the number of resubmissions performed so far.
	RetryCount int

	// Options holds out-of-band typed settings.
	Options Options
}

// Option customizes a descriptor built by New.
type Option func(Descriptor) Descriptor

// New returns a descriptor for method and path with a fresh ID.
//
// Example:
//
//	req := request.New(request.MethodPost, "/payments",
//	    request.WithHost("api.example.com"),
//	    request.WithBody(request.JSONObject(payment)),
//	)
func New(method Method, path string, opts ...Option) Descriptor {
	d := Descriptor{
		ID:      uuid.NewString(),
		Method:  method,
		Path:    path,
		Headers: make(map[string]string),
		Body:    Empty(),
	}
	for _, opt := range opts {
		d = opt(d)
	}
	return d
}

// WithScheme sets the URL scheme.
func WithScheme(scheme string) Option {
	return func(d Descriptor) Descriptor { return d.WithScheme(scheme) }
}

// WithHost sets the host.
func WithHost(host string) Option {
	return func(d Descriptor) Descriptor { return d.WithHost(host) }
}

// WithPort sets the port.
func WithPort(port int) Option {
	return func(d Descriptor) Descriptor { return d.WithPort(port) }
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) Option {
	return func(d Descriptor) Descriptor { return d.WithQuery(key, value) }
}

// WithHeader sets a header.
func WithHeader(key, value string) Option {
	return func(d Descriptor) Descriptor { return d.WithHeader(key, value) }
}

// WithHeaders merges headers, later values winning.
func WithHeaders(headers map[string]string) Option {
	return func(d Descriptor) Descriptor { return d.WithHeaders(headers) }
}

// WithBody sets the request body.
func WithBody(body Body) Option {
	return func(d Descriptor) Descriptor { return d.WithBody(body) }
}

// WithID overrides the generated identifier.
func WithID(id string) Option {
	return func(d Descriptor) Descriptor {
		d.ID = id
		return d
	}
}

// Retryable marks the request as safe to resubmit.
func Retryable() Option {
	return func(d Descriptor) Descriptor { return d.WithRetry(true) }
}

// WithCapability stores v for capability c in the descriptor options.
func WithCapability[T any](c Capability[T], v T) Option {
	return func(d Descriptor) Descriptor { return Assign(d, c, v) }
}

// Lookup returns the value of capability c for the descriptor.
func Lookup[T any](d Descriptor, c Capability[T]) T {
	return Get(d.Options, c)
}

// Assign returns a copy of d where capability c holds v.
func Assign[T any](d Descriptor, c Capability[T], v T) Descriptor {
	next := d.Clone()
	next.Options = Set(d.Options, c, v)
	return next
}

// Clone returns a deep copy of the descriptor's mutable maps.
// Body values are immutable by convention and are shared.
func (d Descriptor) Clone() Descriptor {
	next := d
	if d.Headers != nil {
		next.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			next.Headers[k] = v
		}
	}
	if d.Query != nil {
		next.Query = make(url.Values, len(d.Query))
		for k, v := range d.Query {
			next.Query[k] = append([]string(nil), v...)
		}
	}
	return next
}

// WithScheme returns a copy with the given scheme.
func (d Descriptor) WithScheme(scheme string) Descriptor {
	next := d.Clone()
	next.Scheme = scheme
	return next
}

// WithHost returns a copy with the given host.
func (d Descriptor) WithHost(host string) Descriptor {
	next := d.Clone()
	next.Host = host
	return next
}

// WithPort returns a copy with the given port.
func (d Descriptor) WithPort(port int) Descriptor {
	next := d.Clone()
	next.Port = port
	return next
}

// WithPath returns a copy with the given path.
func (d Descriptor) WithPath(path string) Descriptor {
	next := d.Clone()
	next.Path = path
	return next
}

// WithMethod returns a copy with the given method.
func (d Descriptor) WithMethod(m Method) Descriptor {
	next := d.Clone()
	next.Method = m
	return next
}

// WithQuery returns a copy with value appended to the query key.
func (d Descriptor) WithQuery(key, value string) Descriptor {
	next := d.Clone()
	if next.Query == nil {
		next.Query = make(url.Values)
	}
	next.Query.Add(key, value)
	return next
}

// WithHeader returns a copy with the header set, replacing any prior value.
func (d Descriptor) WithHeader(key, value string) Descriptor {
	next := d.Clone()
	if next.Headers == nil {
		next.Headers = make(map[string]string)
	}
	next.Headers[http.CanonicalHeaderKey(key)] = value
	return next
}

// WithHeaders returns a copy with all headers merged in. On conflict the
// argument wins.
func (d Descriptor) WithHeaders(headers map[string]string) Descriptor {
	next := d.Clone()
	if next.Headers == nil {
		next.Headers = make(map[string]string, len(headers))
	}
	for k, v := range headers {
		next.Headers[http.CanonicalHeaderKey(k)] = v
	}
	return next
}

// WithoutHeader returns a copy without the header.
func (d Descriptor) WithoutHeader(key string) Descriptor {
	next := d.Clone()
	delete(next.Headers, http.CanonicalHeaderKey(key))
	return next
}

// Header returns the header value, or "" if unset.
func (d Descriptor) Header(key string) string {
	return d.Headers[http.CanonicalHeaderKey(key)]
}

// WithBody returns a copy with the given body.
func (d Descriptor) WithBody(body Body) Descriptor {
	next := d.Clone()
	next.Body = body
	return next
}

// WithRetry returns a copy with CanRetry set.
func (d Descriptor) WithRetry(canRetry bool) Descriptor {
	next := d.Clone()
	next.CanRetry = canRetry
	return next
}

// NextRetry returns a copy with RetryCount incremented.
func (d Descriptor) NextRetry() Descriptor {
	next := d.Clone()
	next.RetryCount++
	return next
}

// Payload returns the body, substituting Empty for nil.
func (d Descriptor) Payload() Body {
	if d.Body == nil {
		return Empty()
	}
	return d.Body
}

// EffectiveMethod returns the method, substituting GET for empty.
func (d Descriptor) EffectiveMethod() Method {
	if d.Method == "" {
		return MethodGet
	}
	return d.Method
}

// URL builds the absolute URL of the request.
//
// It fails with ErrMissingHost when no host is set and with
// ErrUnsupportedScheme for schemes other than http and https.
func (d Descriptor) URL() (*url.URL, error) {
	if d.Host == "" {
		return nil, ErrMissingHost
	}

	scheme := strings.ToLower(d.Scheme)
	switch scheme {
	case "":
		scheme = DefaultScheme
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, d.Scheme)
	}

	host := d.Host
	if d.Port > 0 {
		host = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	}

	path := d.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u := &url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   path,
	}
	if len(d.Query) > 0 {
		u.RawQuery = d.Query.Encode()
	}
	return u, nil
}
