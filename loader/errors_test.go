package loader

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kroma-labs/sentinel-loader/request"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "given nil, then Unknown",
			err:  nil,
			want: Unknown,
		},
		{
			name: "given context.Canceled wrapped in url.Error, then Cancelled",
			err:  &url.Error{Op: "Get", URL: "https://x", Err: context.Canceled},
			want: Cancelled,
		},
		{
			name: "given deadline exceeded, then CannotConnect",
			err:  fmt.Errorf("send: %w", context.DeadlineExceeded),
			want: CannotConnect,
		},
		{
			name: "given encoding error, then InvalidRequest",
			err:  &request.EncodingError{Err: errors.New("bad")},
			want: InvalidRequest,
		},
		{
			name: "given missing host, then InvalidRequest",
			err:  request.ErrMissingHost,
			want: InvalidRequest,
		},
		{
			name: "given unknown authority, then InsecureConnection",
			err:  &url.Error{Op: "Get", URL: "https://x", Err: x509.UnknownAuthorityError{}},
			want: InsecureConnection,
		},
		{
			name: "given hostname mismatch, then InsecureConnection",
			err:  x509.HostnameError{Certificate: &x509.Certificate{}, Host: "x"},
			want: InsecureConnection,
		},
		{
			name: "given connection refused, then CannotConnect",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			want: CannotConnect,
		},
		{
			name: "given DNS not found, then CannotConnect",
			err:  &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true},
			want: CannotConnect,
		},
		{
			name: "given net timeout, then CannotConnect",
			err:  timeoutError{},
			want: CannotConnect,
		},
		{
			name: "given unexpected EOF, then CannotConnect",
			err:  fmt.Errorf("read: %w", io.ErrUnexpectedEOF),
			want: CannotConnect,
		},
		{
			name: "given opaque error with connectivity text, then CannotConnect",
			err:  errors.New("proxy: connection reset by peer"),
			want: CannotConnect,
		},
		{
			name: "given opaque error with tls text, then InsecureConnection",
			err:  errors.New("remote error: tls: handshake failure"),
			want: InsecureConnection,
		},
		{
			name: "given url.Error without timeout, then not treated as connectivity",
			err:  &url.Error{Op: "Get", URL: "https://x", Err: errors.New("something odd")},
			want: Unknown,
		},
		{
			name: "given url.Error with timeout, then CannotConnect",
			err:  &url.Error{Op: "Get", URL: "https://x", Err: timeoutError{}},
			want: CannotConnect,
		},
		{
			name: "given unsupported request scheme, then InvalidRequest",
			err:  fmt.Errorf("%w %q", request.ErrUnsupportedScheme, "ftp"),
			want: InvalidRequest,
		},
		{
			name: "given unsupported protocol scheme from net/http, then InvalidRequest",
			err:  &url.Error{Op: "Get", URL: "ftp://x", Err: errors.New(`unsupported protocol scheme "ftp"`)},
			want: InvalidRequest,
		},
		{
			name: "given malformed status line, then InvalidResponse",
			err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New(
				`net/http: HTTP/1.x transport connection broken: malformed HTTP status code "NOT"`)},
			want: InvalidResponse,
		},
		{
			name: "given GOAWAY from server, then InvalidResponse",
			err:  errors.New("http2: server sent GOAWAY and closed the connection"),
			want: InvalidResponse,
		},
		{
			name: "given body read after close, then InvalidResponse",
			err:  fmt.Errorf("read: %w", http.ErrBodyReadAfterClose),
			want: InvalidResponse,
		},
		{
			name: "given HTTPS client answered in plain HTTP, then InvalidResponse",
			err:  &url.Error{Op: "Get", URL: "https://x", Err: http.ErrSchemeMismatch},
			want: InvalidResponse,
		},
		{
			name: "given broken connection caused by a reset, then CannotConnect",
			err: fmt.Errorf("net/http: HTTP/1.x transport connection broken: %w",
				&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}),
			want: CannotConnect,
		},
		{
			name: "given already classified error, then keeps its kind",
			err:  fmt.Errorf("wrapped: %w", NewError(TokenRefreshFailure, request.Descriptor{}, nil)),
			want: TokenRefreshFailure,
		},
		{
			name: "given unrelated error, then Unknown",
			err:  errors.New("something odd"),
			want: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestError(t *testing.T) {
	req := request.New(request.MethodGet, "/x", request.WithID("req-1"))
	cause := errors.New("boom")

	t.Run("given kind target, then Is matches only that kind", func(t *testing.T) {
		err := NewError(CannotConnect, req, cause)

		assert.ErrorIs(t, err, CannotConnect)
		assert.NotErrorIs(t, err, Cancelled)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("given partial response, then message names the status", func(t *testing.T) {
		err := NewError(OutdatedAppVersion, req, cause).WithResponse(Response{StatusCode: 426})

		assert.Equal(t, "loader: outdated_app_version (request req-1): status 426: boom", err.Error())
	})

	t.Run("given WithResponse, then original is untouched", func(t *testing.T) {
		err := NewError(Unknown, req, nil)
		_ = err.WithResponse(Response{StatusCode: 500})

		assert.Nil(t, err.Response)
	})

	t.Run("given errors.As, then exposes the error", func(t *testing.T) {
		var wrapped error = fmt.Errorf("call: %w", NewError(InvalidResponse, req, cause))

		var le *Error
		assert.True(t, errors.As(wrapped, &le))
		assert.Equal(t, InvalidResponse, le.Kind)
		assert.Equal(t, "req-1", le.Request.ID)
	})
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "reset_in_progress", ResetInProgress.String())
	assert.Equal(t, "unknown", Kind(99).String())
	assert.Equal(t, "loader: token_refresh_failure", TokenRefreshFailure.Error())
}

func TestContextKind(t *testing.T) {
	assert.Equal(t, Cancelled, contextKind(context.Canceled))
	assert.Equal(t, CannotConnect, contextKind(context.DeadlineExceeded))
	assert.Equal(t, CannotConnect, Classify(context.DeadlineExceeded))
}
