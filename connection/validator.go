package connection

import (
	"fmt"

	"github.com/kroma-labs/sentinel-loader/loader"
)

// Validator inspects a successful chain response before it is decoded. A
// non-nil error stops the call.
type Validator func(resp loader.Response) error

// StatusValidator rejects responses outside [200, 300). It is the default
// validator.
func StatusValidator(resp loader.Response) error {
	if resp.IsValid() {
		return nil
	}
	return fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
}

// Validators runs validators in order and stops at the first error.
func Validators(vs ...Validator) Validator {
	return func(resp loader.Response) error {
		for _, v := range vs {
			if v == nil {
				continue
			}
			if err := v(resp); err != nil {
				return err
			}
		}
		return nil
	}
}

// Envelope decodes the body with dec and passes the result to check. It
// suits APIs that report business errors inside 2xx bodies:
//
//	type envelope struct {
//	    Code    string `json:"code"`
//	    Message string `json:"message"`
//	}
//
//	v := connection.Envelope(connection.JSON[envelope](), func(e envelope) error {
//	    if e.Code != "" {
//	        return fmt.Errorf("%s: %s", e.Code, e.Message)
//	    }
//	    return nil
//	})
//
// Bodies the decoder rejects are not business errors and pass.
func Envelope[E any](dec Decoder[E], check func(E) error) Validator {
	return func(resp loader.Response) error {
		if len(resp.Body) == 0 {
			return nil
		}
		e, err := dec.Decode(resp.Body)
		if err != nil {
			return nil
		}
		return check(e)
	}
}
