package loader

import (
	"context"
	"strings"

	"github.com/kroma-labs/sentinel-loader/request"
)

// Environment names a deployment target: where requests go and which
// headers they carry by default.
type Environment struct {
	Name       string            `yaml:"-"`
	Scheme     string            `yaml:"scheme"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	PathPrefix string            `yaml:"path_prefix"`
	Headers    map[string]string `yaml:"headers"`
}

// EnvironmentCapability overrides the loader's environment for a single
// request. Nil means no override.
var EnvironmentCapability = request.NewCapability[*Environment]("loader.environment", nil)

// WithEnvironment returns a descriptor option routing the request to env.
func WithEnvironment(env Environment) request.Option {
	return request.WithCapability(EnvironmentCapability, &env)
}

// EnvironmentLoader fills in the parts of a request its call site leaves
// out: scheme, host, port, path prefix and default headers.
//
// The environment applies to requests that either name no host or name the
// environment's own host. Request headers win over environment headers, and
// a path that already carries the prefix is left alone, so resolving a
// request twice gives the same result as resolving it once.
type EnvironmentLoader struct {
	env  Environment
	next Loader
}

// NewEnvironmentLoader returns a stage resolving requests against env.
func NewEnvironmentLoader(env Environment) *EnvironmentLoader {
	return &EnvironmentLoader{env: env}
}

// Link implements Stage.
func (l *EnvironmentLoader) Link(next Loader) Loader {
	return &EnvironmentLoader{env: l.env, next: next}
}

// Load implements Loader.
func (l *EnvironmentLoader) Load(ctx context.Context, req request.Descriptor) Result {
	if l.next == nil {
		return notLinked(req)
	}
	return l.next.Load(ctx, l.Resolve(req))
}

// Resolve returns req with the environment applied.
func (l *EnvironmentLoader) Resolve(req request.Descriptor) request.Descriptor {
	env := l.env
	if override := request.Lookup(req, EnvironmentCapability); override != nil {
		env = *override
	}
	return env.apply(req)
}

func (env Environment) apply(req request.Descriptor) request.Descriptor {
	if env.Host == "" || (req.Host != "" && req.Host != env.Host) {
		return req
	}

	next := req.Clone()
	if next.Host == "" {
		next.Host = env.Host
		if next.Port == 0 {
			next.Port = env.Port
		}
		if next.Scheme == "" {
			next.Scheme = env.Scheme
		}
	}

	next.Path = joinPrefix(env.PathPrefix, next.Path)

	for k, v := range env.Headers {
		if next.Header(k) == "" {
			next = next.WithHeader(k, v)
		}
	}
	return next
}

// joinPrefix prepends prefix to path unless path already starts with it.
func joinPrefix(prefix, path string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return path
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if path == prefix || strings.HasPrefix(path, prefix+"/") {
		return path
	}
	return prefix + path
}
