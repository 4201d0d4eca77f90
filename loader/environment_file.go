package loader

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownEnvironment is returned when an environment name is not defined.
var ErrUnknownEnvironment = errors.New("loader: unknown environment")

// EnvironmentSet is a named collection of environments, typically loaded
// from a YAML file:
//
//	default: staging
//	environments:
//	  staging:
//	    host: staging.api.example.com
//	    path_prefix: /v1
//	    headers:
//	      X-Env: staging
//	  production:
//	    host: api.example.com
//	    port: 443
//	    path_prefix: /v1
type EnvironmentSet struct {
	Default      string                 `yaml:"default"`
	Environments map[string]Environment `yaml:"environments"`
}

// LoadEnvironments reads and validates an environment file.
func LoadEnvironments(path string) (*EnvironmentSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read environment file: %w", err)
	}
	return ParseEnvironments(data)
}

// ParseEnvironments parses and validates environment YAML.
func ParseEnvironments(data []byte) (*EnvironmentSet, error) {
	set := &EnvironmentSet{}
	if err := yaml.Unmarshal(data, set); err != nil {
		return nil, fmt.Errorf("failed to parse environment file: %w", err)
	}
	if err := set.validate(); err != nil {
		return nil, fmt.Errorf("invalid environment file: %w", err)
	}
	return set, nil
}

func (s *EnvironmentSet) validate() error {
	if len(s.Environments) == 0 {
		return fmt.Errorf("at least one environment is required")
	}

	for name, env := range s.Environments {
		if env.Host == "" {
			return fmt.Errorf("environments.%s: host is required", name)
		}
		if env.Port < 0 || env.Port > 65535 {
			return fmt.Errorf("environments.%s: port %d out of range", name, env.Port)
		}
		switch env.Scheme {
		case "", "http", "https":
		default:
			return fmt.Errorf("environments.%s: unsupported scheme %q", name, env.Scheme)
		}
		env.Name = name
		s.Environments[name] = env
	}

	if s.Default != "" {
		if _, ok := s.Environments[s.Default]; !ok {
			return fmt.Errorf("default environment %q is not defined", s.Default)
		}
	}
	return nil
}

// Get returns the named environment. An empty name selects the default.
func (s *EnvironmentSet) Get(name string) (Environment, error) {
	if name == "" {
		name = s.Default
	}
	env, ok := s.Environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
	}
	return env, nil
}

// Names returns the environment names in sorted order.
func (s *EnvironmentSet) Names() []string {
	names := make([]string, 0, len(s.Environments))
	for name := range s.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
