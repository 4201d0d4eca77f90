package connection

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/sentinel-loader/loader"
	"github.com/kroma-labs/sentinel-loader/request"
)

// Connection runs requests through a loader chain and checks the
// responses. It is safe for concurrent use.
type Connection struct {
	chain     loader.Loader
	validator Validator
	logger    zerolog.Logger
}

// Option configures a Connection.
type Option func(*Connection)

// WithValidator replaces the response validator. Pass nil to accept every
// response the chain returns.
//
// Default: StatusValidator
func WithValidator(v Validator) Option {
	return func(c *Connection) {
		c.validator = v
	}
}

// WithLogger sets the logger for rejected responses.
//
// Default: zerolog.Nop()
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// New returns a Connection sending through chain.
func New(chain loader.Loader, opts ...Option) *Connection {
	c := &Connection{
		chain:     chain,
		validator: StatusValidator,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req and validates the response.
//
// A chain failure is returned untouched. A rejected response is returned
// together with a *ValidationError.
func (c *Connection) Do(ctx context.Context, req request.Descriptor) (loader.Response, error) {
	res := c.chain.Load(ctx, req)
	if err := res.Err(); err != nil {
		return loader.Response{}, err
	}

	resp, _ := res.Response()
	if c.validator == nil {
		return resp, nil
	}
	if err := c.validator(resp); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			verr = &ValidationError{Response: resp, Err: err}
		}
		c.logger.Debug().
			Str("request_id", resp.Request.ID).
			Int("status", resp.StatusCode).
			Err(verr.Err).
			Msg("response rejected")
		return resp, verr
	}
	return resp, nil
}

// Load sends req, validates the response and decodes its body with dec.
func Load[T any](ctx context.Context, c *Connection, req request.Descriptor, dec Decoder[T]) (T, error) {
	var zero T

	resp, err := c.Do(ctx, req)
	if err != nil {
		return zero, err
	}

	v, err := dec.Decode(resp.Body)
	if err != nil {
		c.logger.Debug().
			Str("request_id", resp.Request.ID).
			Int("status", resp.StatusCode).
			Err(err).
			Msg("response decode failed")
		return zero, &DecodeError{Response: resp, Err: err}
	}
	return v, nil
}
