package request

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"

	json "github.com/goccy/go-json"
)

// Content types set by the structured body variants.
const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
)

// Body is a request payload.
//
// Headers returns the headers the body contributes to the request
// (typically Content-Type). An empty body contributes none, and callers
// skip header injection altogether when IsEmpty reports true.
type Body interface {
	IsEmpty() bool
	Headers() map[string]string
	Encode() ([]byte, error)
}

// EncodingError reports a body that could not be serialized, or a
// multipart part whose source could not be read.
type EncodingError struct {
	// Part is the multipart part name, empty for non-multipart bodies.
	Part string
	Err  error
}

func (e *EncodingError) Error() string {
	if e.Part != "" {
		return fmt.Sprintf("request: encode part %q: %v", e.Part, e.Err)
	}
	return fmt.Sprintf("request: encode body: %v", e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

var (
	errNotObject = errors.New("value does not encode to a JSON object")
	errNotArray  = errors.New("value does not encode to a JSON array")
)

type emptyBody struct{}

// Empty returns a body with no bytes and no headers.
func Empty() Body {
	return emptyBody{}
}

func (emptyBody) IsEmpty() bool { return true }

func (emptyBody) Headers() map[string]string { return nil }

func (emptyBody) Encode() ([]byte, error) { return nil, nil }

type rawBody struct {
	data    []byte
	headers map[string]string
}

// Raw returns a body sending data verbatim with the caller's headers.
func Raw(data []byte, headers map[string]string) Body {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return rawBody{data: append([]byte(nil), data...), headers: h}
}

func (b rawBody) IsEmpty() bool { return len(b.data) == 0 }

func (b rawBody) Headers() map[string]string {
	h := make(map[string]string, len(b.headers))
	for k, v := range b.headers {
		h[k] = v
	}
	return h
}

func (b rawBody) Encode() ([]byte, error) {
	return append([]byte(nil), b.data...), nil
}

type jsonBody struct {
	value any
	array bool
}

// JSONObject returns a body serializing v as a JSON object.
// Encoding fails with an EncodingError if v is not serializable or does not
// produce an object.
func JSONObject(v any) Body {
	return jsonBody{value: v}
}

// JSONArray returns a body serializing v as a JSON array.
func JSONArray(v any) Body {
	return jsonBody{value: v, array: true}
}

func (b jsonBody) IsEmpty() bool { return b.value == nil }

func (b jsonBody) Headers() map[string]string {
	return map[string]string{"Content-Type": ContentTypeJSON}
}

func (b jsonBody) Encode() ([]byte, error) {
	data, err := json.Marshal(b.value)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}

	trimmed := bytes.TrimSpace(data)
	switch {
	case b.array && (len(trimmed) == 0 || trimmed[0] != '['):
		return nil, &EncodingError{Err: errNotArray}
	case !b.array && (len(trimmed) == 0 || trimmed[0] != '{'):
		return nil, &EncodingError{Err: errNotObject}
	}
	return data, nil
}

type formBody struct {
	values url.Values
}

// Form returns a URL-encoded form body. Keys are encoded in sorted order.
func Form(values url.Values) Body {
	cp := make(url.Values, len(values))
	for k, v := range values {
		cp[k] = append([]string(nil), v...)
	}
	return formBody{values: cp}
}

// FormMap is Form for single-valued fields.
func FormMap(fields map[string]string) Body {
	values := make(url.Values, len(fields))
	for k, v := range fields {
		values.Set(k, v)
	}
	return formBody{values: values}
}

func (b formBody) IsEmpty() bool { return len(b.values) == 0 }

func (b formBody) Headers() map[string]string {
	return map[string]string{"Content-Type": ContentTypeForm}
}

func (b formBody) Encode() ([]byte, error) {
	return []byte(b.values.Encode()), nil
}
