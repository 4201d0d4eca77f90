package loader

import (
	"context"

	"github.com/google/uuid"

	"github.com/kroma-labs/sentinel-loader/request"
)

// Modifier transforms a descriptor.
type Modifier func(request.Descriptor) request.Descriptor

// ModifierLoader applies modifiers to every request before forwarding it.
type ModifierLoader struct {
	modify func(request.Descriptor) (request.Descriptor, error)
	next   Loader
}

// NewModifierLoader returns a stage applying mods in order.
func NewModifierLoader(mods ...Modifier) *ModifierLoader {
	mods = append([]Modifier(nil), mods...)
	return &ModifierLoader{
		modify: func(req request.Descriptor) (request.Descriptor, error) {
			for _, m := range mods {
				req = m(req)
			}
			return req, nil
		},
	}
}

// NewCheckedModifierLoader returns a stage applying fn, which may reject a
// request. A rejection short-circuits with InvalidRequest.
func NewCheckedModifierLoader(fn func(request.Descriptor) (request.Descriptor, error)) *ModifierLoader {
	return &ModifierLoader{modify: fn}
}

// Link implements Stage.
func (l *ModifierLoader) Link(next Loader) Loader {
	return &ModifierLoader{modify: l.modify, next: next}
}

// Load implements Loader.
func (l *ModifierLoader) Load(ctx context.Context, req request.Descriptor) Result {
	if l.next == nil {
		return notLinked(req)
	}
	modified, err := l.modify(req)
	if err != nil {
		return Failure(NewError(InvalidRequest, req, err))
	}
	return l.next.Load(ctx, modified)
}

// BearerToken sets "Authorization: Bearer <token>".
func BearerToken(token string) Modifier {
	return func(req request.Descriptor) request.Descriptor {
		return req.WithHeader("Authorization", "Bearer "+token)
	}
}

// APIKey sets header to key.
func APIKey(header, key string) Modifier {
	return func(req request.Descriptor) request.Descriptor {
		return req.WithHeader(header, key)
	}
}

// CorrelationID sets header to an ID from idFunc when the request does not
// carry one. A nil idFunc generates UUIDs.
func CorrelationID(header string, idFunc func() string) Modifier {
	if idFunc == nil {
		idFunc = uuid.NewString
	}
	return func(req request.Descriptor) request.Descriptor {
		if req.Header(header) != "" {
			return req
		}
		return req.WithHeader(header, idFunc())
	}
}

// UserAgent sets the User-Agent header.
func UserAgent(ua string) Modifier {
	return func(req request.Descriptor) request.Descriptor {
		return req.WithHeader("User-Agent", ua)
	}
}

// DefaultHeaders sets headers the request does not already carry.
func DefaultHeaders(headers map[string]string) Modifier {
	return func(req request.Descriptor) request.Descriptor {
		for k, v := range headers {
			if req.Header(k) == "" {
				req = req.WithHeader(k, v)
			}
		}
		return req
	}
}
