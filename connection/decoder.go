package connection

import (
	"encoding/xml"

	json "github.com/goccy/go-json"
)

// Decoder turns a response body into a T.
type Decoder[T any] interface {
	Decode(data []byte) (T, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc[T any] func(data []byte) (T, error)

// Decode implements Decoder.
func (f DecoderFunc[T]) Decode(data []byte) (T, error) {
	return f(data)
}

// JSON decodes JSON bodies.
func JSON[T any]() Decoder[T] {
	return DecoderFunc[T](func(data []byte) (T, error) {
		var v T
		err := json.Unmarshal(data, &v)
		return v, err
	})
}

// XML decodes XML bodies.
func XML[T any]() Decoder[T] {
	return DecoderFunc[T](func(data []byte) (T, error) {
		var v T
		err := xml.Unmarshal(data, &v)
		return v, err
	})
}

// Bytes returns the body as is.
func Bytes() Decoder[[]byte] {
	return DecoderFunc[[]byte](func(data []byte) ([]byte, error) {
		return append([]byte(nil), data...), nil
	})
}

// Discard ignores the body. Use it for calls where only success matters.
func Discard() Decoder[struct{}] {
	return DecoderFunc[struct{}](func([]byte) (struct{}, error) {
		return struct{}{}, nil
	})
}
