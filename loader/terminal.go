package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kroma-labs/sentinel-loader/request"
)

// DefaultMaxResponseBytes caps the response body read by TransportLoader.
const DefaultMaxResponseBytes int64 = 32 << 20

// ErrResponseTooLarge is wrapped when a response body exceeds the
// configured limit.
var ErrResponseTooLarge = errors.New("loader: response body too large")

// TransportLoader is the terminal loader. It turns a descriptor into an
// *http.Request, sends it through a Transport and reads the response.
//
// Multipart bodies are staged in a temporary file created by the configured
// TempFileSink and streamed from there; the file is removed once the
// exchange completes. Other bodies are encoded in memory.
//
// Every HTTP response is a Success, whatever its status, except for status
// codes mapped to a failure Kind with WithStatusKind. By default 426
// Upgrade Required maps to OutdatedAppVersion.
type TransportLoader struct {
	transport   Transport
	sink        request.TempFileSink
	statusKinds map[int]Kind
	maxBody     int64
}

// Compile-time interface check.
var _ Loader = (*TransportLoader)(nil)

// TransportOption configures a TransportLoader.
type TransportOption func(*TransportLoader)

// WithTempFileSink sets the sink used to stage multipart uploads.
//
// Default: request.OSTempFileSink{}
func WithTempFileSink(sink request.TempFileSink) TransportOption {
	return func(l *TransportLoader) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// WithStatusKind maps a response status code to a failure kind. The failure
// carries the response as its partial response.
func WithStatusKind(code int, kind Kind) TransportOption {
	return func(l *TransportLoader) {
		l.statusKinds[code] = kind
	}
}

// WithoutStatusKind removes a status code mapping, including the default.
func WithoutStatusKind(code int) TransportOption {
	return func(l *TransportLoader) {
		delete(l.statusKinds, code)
	}
}

// WithMaxResponseBytes caps the response body size. Non-positive values
// select DefaultMaxResponseBytes.
func WithMaxResponseBytes(n int64) TransportOption {
	return func(l *TransportLoader) {
		if n <= 0 {
			n = DefaultMaxResponseBytes
		}
		l.maxBody = n
	}
}

// NewTransportLoader returns a terminal loader sending through t.
func NewTransportLoader(t Transport, opts ...TransportOption) *TransportLoader {
	l := &TransportLoader{
		transport: t,
		sink:      request.OSTempFileSink{},
		statusKinds: map[int]Kind{
			http.StatusUpgradeRequired: OutdatedAppVersion,
		},
		maxBody: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load implements Loader.
func (l *TransportLoader) Load(ctx context.Context, req request.Descriptor) Result {
	httpReq, cleanup, err := l.build(ctx, req)
	if err != nil {
		return Failure(NewError(classifyBuild(ctx, err), req, err))
	}
	defer cleanup()

	resp, err := l.transport.Send(ctx, httpReq)
	if err != nil {
		return Failure(NewError(classifySend(ctx, err), req, err))
	}
	if resp == nil {
		return Failure(NewError(InvalidResponse, req, ErrNoResponse))
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
	}
	defer resp.Body.Close()

	out := Response{
		Request:    req,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBody+1))
	if err != nil {
		kind := InvalidResponse
		if ctxErr := ctx.Err(); ctxErr != nil {
			kind = contextKind(ctxErr)
		}
		return Failure(NewError(kind, req, fmt.Errorf("read response body: %w", err)).WithResponse(out))
	}
	if int64(len(body)) > l.maxBody {
		return Failure(NewError(InvalidResponse, req, ErrResponseTooLarge).WithResponse(out))
	}
	out.Body = body

	if kind, ok := l.statusKinds[resp.StatusCode]; ok {
		return Failure(NewError(kind, req, &StatusError{StatusCode: resp.StatusCode}).WithResponse(out))
	}
	return Success(out)
}

// build converts req into an *http.Request. The returned cleanup releases
// any staged upload file and must be called once the exchange is over.
func (l *TransportLoader) build(ctx context.Context, req request.Descriptor) (*http.Request, func(), error) {
	noop := func() {}

	method := req.EffectiveMethod()
	if !method.Valid() {
		return nil, noop, fmt.Errorf("request: unsupported method %q", method)
	}

	u, err := req.URL()
	if err != nil {
		return nil, noop, err
	}

	payload := req.Payload()
	var (
		body    io.Reader
		length  int64
		cleanup = noop
	)
	if !payload.IsEmpty() {
		if mp, ok := payload.(*request.MultipartBody); ok {
			f, size, err := mp.MaterializeToFile(ctx, l.sink)
			if err != nil {
				return nil, noop, err
			}
			body, length = f, size
			cleanup = func() { request.DiscardTempFile(f) }
		} else {
			data, err := payload.Encode()
			if err != nil {
				return nil, noop, err
			}
			body, length = bytes.NewReader(data), int64(len(data))
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method.String(), u.String(), body)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	if body != nil {
		// NewRequest only infers the length of in-memory readers.
		httpReq.ContentLength = length
		for k, v := range payload.Headers() {
			httpReq.Header.Set(k, v)
		}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, cleanup, nil
}

func classifyBuild(ctx context.Context, err error) Kind {
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return contextKind(ctxErr)
	}
	return InvalidRequest
}

func classifySend(ctx context.Context, err error) Kind {
	if errors.Is(ctx.Err(), context.Canceled) {
		return Cancelled
	}
	return Classify(err)
}
