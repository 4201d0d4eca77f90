package loader

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/sentinel-loader/request"
)

// defaultLogger writes debug output to stdout.
var defaultLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// LoggingLoader logs each request on the way down and its outcome on the
// way up, at debug level.
type LoggingLoader struct {
	logger zerolog.Logger
	curl   bool
	next   Loader
}

// LoggingOption configures a LoggingLoader.
type LoggingOption func(*LoggingLoader)

// WithLogger sets the logger.
//
// Default: a zerolog logger writing to stdout with timestamps
func WithLogger(logger zerolog.Logger) LoggingOption {
	return func(l *LoggingLoader) {
		l.logger = logger
	}
}

// WithCurl adds an equivalent cURL command to the request log line.
// Header values, including credentials, are logged as is.
func WithCurl() LoggingOption {
	return func(l *LoggingLoader) {
		l.curl = true
	}
}

// NewLoggingLoader returns a logging stage.
func NewLoggingLoader(opts ...LoggingOption) *LoggingLoader {
	l := &LoggingLoader{logger: defaultLogger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Link implements Stage.
func (l *LoggingLoader) Link(next Loader) Loader {
	linked := *l
	linked.next = next
	return &linked
}

// Load implements Loader.
func (l *LoggingLoader) Load(ctx context.Context, req request.Descriptor) Result {
	if l.next == nil {
		return notLinked(req)
	}

	target := "<unresolved>"
	if u, err := req.URL(); err == nil {
		target = u.String()
	}

	event := l.logger.Debug().
		Str("request_id", req.ID).
		Str("method", req.EffectiveMethod().String()).
		Str("url", target).
		Int("retry_count", req.RetryCount)
	if l.curl {
		event = event.Str("curl", CurlCommand(req))
	}
	event.Msg("HTTP request")

	start := time.Now()
	res := l.next.Load(ctx, req)
	duration := time.Since(start)

	if failure, ok := res.Failure(); ok {
		event := l.logger.Debug().
			Str("request_id", req.ID).
			Str("kind", failure.Kind.String()).
			Dur("duration", duration).
			Err(failure.Err)
		if status := res.StatusCode(); status != 0 {
			event = event.Int("status", status)
		}
		event.Msg("HTTP request failed")
		return res
	}

	resp, _ := res.Response()
	l.logger.Debug().
		Str("request_id", req.ID).
		Int("status", resp.StatusCode).
		Int("body_size", len(resp.Body)).
		Dur("duration", duration).
		Msg("HTTP response")
	return res
}

// CurlCommand renders req as a cURL command.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' -H 'Content-Type: application/json' -d '{"name":"John"}'
func CurlCommand(req request.Descriptor) string {
	parts := []string{"curl"}

	method := req.EffectiveMethod()
	if method != request.MethodGet {
		parts = append(parts, "-X", method.String())
	}

	if u, err := req.URL(); err == nil {
		parts = append(parts, shellQuote(u.String()))
	} else {
		parts = append(parts, shellQuote(req.Path))
	}

	payload := req.Payload()
	mp, isMultipart := payload.(*request.MultipartBody)

	headers := make(map[string]string, len(req.Headers))
	if !payload.IsEmpty() && !isMultipart {
		for k, v := range payload.Headers() {
			headers[k] = v
		}
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, "-H", shellQuote(fmt.Sprintf("%s: %s", k, headers[k])))
	}

	switch {
	case payload.IsEmpty():
	case isMultipart:
		for _, p := range mp.Parts() {
			switch {
			case p.IsFile():
				parts = append(parts, "-F", shellQuote(fmt.Sprintf("%s=@%s;type=%s", p.Name, p.Path(), p.ContentType)))
			case p.FileName == "" && strings.HasPrefix(p.ContentType, "text/"):
				// --form-string sends the value literally, without @ or < expansion.
				parts = append(parts, "--form-string", shellQuote(fmt.Sprintf("%s=%s", p.Name, p.Data())))
			default:
				parts = append(parts, "-F", shellQuote(fmt.Sprintf("%s=[%d bytes omitted];type=%s", p.Name, len(p.Data()), p.ContentType)))
			}
		}
	default:
		if data, err := payload.Encode(); err == nil && len(data) > 0 {
			parts = append(parts, "-d", shellQuote(string(data)))
		}
	}

	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
