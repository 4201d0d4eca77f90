package loader

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/kroma-labs/sentinel-loader/request"
)

// Kind classifies a pipeline failure.
//
// Kind implements error so callers can match with errors.Is:
//
//	if errors.Is(res.Err(), loader.Cancelled) { ... }
type Kind int

// The closed set of failure kinds.
const (
	// InvalidRequest means the descriptor could not become a sendable
	// request, or its body failed to encode.
	InvalidRequest Kind = iota + 1

	// CannotConnect covers connectivity, DNS and timeout failures.
	CannotConnect

	// Cancelled means the caller's context was cancelled.
	Cancelled

	// InsecureConnection means TLS or certificate verification failed.
	InsecureConnection

	// InvalidResponse means the transport returned no usable HTTP response.
	InvalidResponse

	// TokenRefreshFailure means a credential could not be obtained.
	TokenRefreshFailure

	// OutdatedAppVersion means the server rejected the client version.
	OutdatedAppVersion

	// ResetInProgress means the client is resetting and refuses traffic.
	ResetInProgress

	// Unknown is everything else.
	Unknown
)

var kindNames = map[Kind]string{
	InvalidRequest:      "invalid_request",
	CannotConnect:       "cannot_connect",
	Cancelled:           "cancelled",
	InsecureConnection:  "insecure_connection",
	InvalidResponse:     "invalid_response",
	TokenRefreshFailure: "token_refresh_failure",
	OutdatedAppVersion:  "outdated_app_version",
	ResetInProgress:     "reset_in_progress",
	Unknown:             "unknown",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k Kind) Error() string {
	return "loader: " + k.String()
}

var (
	// ErrEmptyResult is reported for a zero Result.
	ErrEmptyResult = errors.New("loader: empty result")

	// ErrNoResponse is wrapped when a transport returns neither a response
	// nor an error.
	ErrNoResponse = errors.New("loader: transport returned no response")
)

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind

	// Request is the descriptor that was being resolved.
	Request request.Descriptor

	// Response is the partial response, when the server answered.
	Response *Response

	// Err is the underlying cause.
	Err error
}

// NewError returns an Error of kind for req caused by err.
func NewError(kind Kind, req request.Descriptor, err error) *Error {
	return &Error{Kind: kind, Request: req, Err: err}
}

// WithResponse returns a copy of e carrying resp as the partial response.
func (e *Error) WithResponse(resp Response) *Error {
	next := *e
	next.Response = &resp
	return &next
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("loader: ")
	b.WriteString(e.Kind.String())
	if e.Request.ID != "" {
		fmt.Fprintf(&b, " (request %s)", e.Request.ID)
	}
	if e.Response != nil {
		fmt.Fprintf(&b, ": status %d", e.Response.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a Kind target against the error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// StatusError is the cause recorded when a status code is mapped to a
// failure kind.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Classify maps a transport or construction error to a Kind.
//
//   - context.Canceled: Cancelled
//   - encoding errors, missing host, unsupported scheme: InvalidRequest
//   - TLS and certificate errors: InsecureConnection
//   - malformed or broken HTTP exchanges: InvalidResponse
//   - network, DNS, syscall errors, timeouts and deadlines: CannotConnect
//   - anything else: Unknown
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	var loaderErr *Error
	if errors.As(err, &loaderErr) {
		return loaderErr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return Cancelled
	}

	if isInvalidRequest(err) {
		return InvalidRequest
	}

	if isInsecure(err) {
		return InsecureConnection
	}

	if errors.Is(err, context.DeadlineExceeded) || isConnectivity(err) {
		return CannotConnect
	}

	if isInvalidResponse(err) {
		return InvalidResponse
	}

	if containsPattern(err, connectivityPatterns) {
		return CannotConnect
	}

	return Unknown
}

// contextKind maps a done context's error to a Kind. Only cancellation is
// Cancelled; an expired deadline is CannotConnect, as Classify reports it.
func contextKind(err error) Kind {
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return CannotConnect
}

func isInvalidRequest(err error) bool {
	var encErr *request.EncodingError
	if errors.As(err, &encErr) {
		return true
	}
	if errors.Is(err, request.ErrMissingHost) || errors.Is(err, request.ErrUnsupportedScheme) {
		return true
	}
	return containsPattern(err, invalidRequestPatterns)
}

// isInvalidResponse reports exchanges where the server answered with
// something that is not a usable HTTP response.
func isInvalidResponse(err error) bool {
	if errors.Is(err, http.ErrBodyReadAfterClose) ||
		errors.Is(err, http.ErrSchemeMismatch) ||
		errors.Is(err, http.ErrLineTooLong) {
		return true
	}
	return containsPattern(err, invalidResponsePatterns)
}

// isInsecure reports TLS handshake and certificate verification failures.
func isInsecure(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	var authorityErr x509.UnknownAuthorityError
	if errors.As(err, &authorityErr) {
		return true
	}

	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}

	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		return true
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}

	return containsPattern(err, insecurePatterns)
}

// isConnectivity reports typed network-level failures: dial, DNS, resets,
// timeouts and EOF.
func isConnectivity(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	// *url.Error satisfies net.Error, so only a timeout counts.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EHOSTDOWN) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	if errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

// Fallbacks for wrapped errors from third-party transports where type
// checks fail.
var (
	invalidRequestPatterns = []string{
		"unsupported protocol scheme",
		"invalid method",
		"invalid header field",
		"http: no host in request url",
	}
	invalidResponsePatterns = []string{
		"malformed http",
		"transport connection broken",
		"server sent goaway",
		"http2: server sent",
		"bogus greeting",
		"invalid content-length",
		"invalid transfer-encoding",
		"unexpected content-length",
	}
	insecurePatterns = []string{
		"x509:",
		"certificate",
		"tls:",
	}
	connectivityPatterns = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is down",
		"network unreachable",
		"no route to host",
		"i/o timeout",
		"temporary failure",
		"server closed",
		"broken pipe",
		"eof",
	}
)

func containsPattern(err error, patterns []string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
