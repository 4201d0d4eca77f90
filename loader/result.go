package loader

import (
	"net/http"

	"github.com/kroma-labs/sentinel-loader/request"
)

// Response is a received HTTP response with its body fully read.
type Response struct {
	// Request is the descriptor that produced this response.
	Request request.Descriptor

	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsValid reports whether the status is in [200, 300).
func (r Response) IsValid() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Result is the outcome of resolving a request: a Response on success, or
// an *Error on failure. Both carry the originating request.
type Result struct {
	response *Response
	err      *Error
}

// Success returns a successful Result.
func Success(resp Response) Result {
	return Result{response: &resp}
}

// Failure returns a failed Result. A nil err is recorded as Unknown.
func Failure(err *Error) Result {
	if err == nil {
		err = &Error{Kind: Unknown}
	}
	return Result{err: err}
}

// IsSuccess reports whether the result holds a response and no error.
func (r Result) IsSuccess() bool {
	return r.err == nil && r.response != nil
}

// Response returns the successful response.
func (r Result) Response() (Response, bool) {
	if r.response == nil {
		return Response{}, false
	}
	return *r.response, true
}

// Failure returns the failure.
func (r Result) Failure() (*Error, bool) {
	return r.err, r.err != nil
}

// Err returns the failure as an error, or nil on success.
func (r Result) Err() error {
	if r.err == nil {
		if r.response == nil {
			return &Error{Kind: Unknown, Err: ErrEmptyResult}
		}
		return nil
	}
	return r.err
}

// Request returns the descriptor the result was produced for.
func (r Result) Request() request.Descriptor {
	if r.err != nil {
		return r.err.Request
	}
	if r.response != nil {
		return r.response.Request
	}
	return request.Descriptor{}
}

// HTTPResponse returns the response received from the server, if any. For
// failures this is the partial response attached to the error.
func (r Result) HTTPResponse() (Response, bool) {
	if r.response != nil {
		return *r.response, true
	}
	if r.err != nil && r.err.Response != nil {
		return *r.err.Response, true
	}
	return Response{}, false
}

// StatusCode returns the received status code, or 0 when nothing was
// received.
func (r Result) StatusCode() int {
	resp, ok := r.HTTPResponse()
	if !ok {
		return 0
	}
	return resp.StatusCode
}

// WithRequest returns a copy of the result attributed to req. The copy
// owns its body and header, so it can be handed to another caller.
func (r Result) WithRequest(req request.Descriptor) Result {
	if r.response != nil {
		resp := r.response.detach(req)
		r.response = &resp
	}
	if r.err != nil {
		e := *r.err
		e.Request = req
		if e.Response != nil {
			partial := e.Response.detach(req)
			e.Response = &partial
		}
		r.err = &e
	}
	return r
}

func (r Response) detach(req request.Descriptor) Response {
	r.Request = req
	r.Header = r.Header.Clone()
	if r.Body != nil {
		r.Body = append([]byte(nil), r.Body...)
	}
	return r
}
