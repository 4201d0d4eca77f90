package connection

import (
	"errors"
	"fmt"

	"github.com/kroma-labs/sentinel-loader/loader"
)

// ErrUnexpectedStatus is wrapped by the default validator for responses
// outside [200, 300).
var ErrUnexpectedStatus = errors.New("connection: unexpected status")

// ValidationError reports a response rejected by a Validator.
type ValidationError struct {
	Response loader.Response
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("connection: invalid response (status %d): %v", e.Response.StatusCode, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DecodeError reports a response body the Decoder could not decode.
type DecodeError struct {
	Response loader.Response
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("connection: decode response (status %d): %v", e.Response.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
