package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/kroma-labs/sentinel-loader/request"
)

// CoalesceLoader merges identical concurrent GET requests into one
// downstream traversal. Requests are identical when their URL and headers
// match. Each caller receives the shared outcome attributed to its own
// descriptor. Other methods pass through.
type CoalesceLoader struct {
	group *singleflight.Group
	next  Loader
}

// NewCoalesceLoader returns a coalescing stage. Every chain the stage is
// linked into shares one group.
func NewCoalesceLoader() *CoalesceLoader {
	return &CoalesceLoader{group: &singleflight.Group{}}
}

// Link implements Stage.
func (l *CoalesceLoader) Link(next Loader) Loader {
	return &CoalesceLoader{group: l.group, next: next}
}

// Load implements Loader.
func (l *CoalesceLoader) Load(ctx context.Context, req request.Descriptor) Result {
	if l.next == nil {
		return notLinked(req)
	}
	if req.EffectiveMethod() != request.MethodGet {
		return l.next.Load(ctx, req)
	}
	key, ok := coalesceKey(req)
	if !ok {
		return l.next.Load(ctx, req)
	}

	ch := l.group.DoChan(key, func() (any, error) {
		return l.next.Load(ctx, req), nil
	})

	select {
	case <-ctx.Done():
		return Failure(NewError(contextKind(ctx.Err()), req, ctx.Err()))
	case shared := <-ch:
		res := shared.Val.(Result)
		if !shared.Shared {
			return res
		}
		// The leader's context ended while this caller is still live.
		if leaderDone(res) && ctx.Err() == nil {
			return l.next.Load(ctx, req)
		}
		return res.WithRequest(req)
	}
}

// coalesceKey hashes the resolved URL and sorted headers.
func coalesceKey(req request.Descriptor) (string, bool) {
	u, err := req.URL()
	if err != nil {
		return "", false
	}

	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(u.String())
	for _, k := range keys {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(req.Headers[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), true
}

func leaderDone(res Result) bool {
	err := res.Err()
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
