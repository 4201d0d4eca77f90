package request

// Capability is a typed, independently defaulted slot in an Options bag.
//
// Capabilities are identified by key. Two capabilities sharing a key but
// declaring different value types never observe each other's values: a
// stored value of the wrong type is treated as absent and the default is
// returned instead.
//
// Example:
//
//	var Locale = request.NewCapability("locale", "en-US")
//
//	opts := request.Options{}
//	opts = request.Set(opts, Locale, "de-DE")
//	request.Get(opts, Locale) // "de-DE"
type Capability[T any] struct {
	key string
	def T
}

// NewCapability declares a capability with the given key and default value.
func NewCapability[T any](key string, def T) Capability[T] {
	return Capability[T]{key: key, def: def}
}

// Key returns the identity of the capability.
func (c Capability[T]) Key() string {
	return c.key
}

// Default returns the value reported when the capability is unset.
func (c Capability[T]) Default() T {
	return c.def
}

// Options is a heterogeneous store of per-request settings keyed by
// capability. The zero value is an empty bag ready to use.
//
// Options is copy-on-write: Set returns a new bag and leaves the original
// untouched, so bags held by different descriptors never alias.
type Options struct {
	values map[string]any
}

// Get returns the value stored for c, or c's default when the capability is
// unset or holds a value of a different type. Get never fails.
func Get[T any](o Options, c Capability[T]) T {
	v, ok := o.values[c.key]
	if !ok {
		return c.def
	}
	typed, ok := v.(T)
	if !ok {
		return c.def
	}
	return typed
}

// Set returns a copy of o where c holds v, replacing any prior value.
func Set[T any](o Options, c Capability[T], v T) Options {
	next := o.clone(1)
	next.values[c.key] = v
	return next
}

// Unset returns a copy of o without a value for the capability key.
func (o Options) Unset(key string) Options {
	if _, ok := o.values[key]; !ok {
		return o
	}
	next := o.clone(0)
	delete(next.values, key)
	return next
}

// Has reports whether a value is stored under key, whatever its type.
func (o Options) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

// Len returns the number of stored capabilities.
func (o Options) Len() int {
	return len(o.values)
}

// Keys returns the keys of all stored capabilities in no particular order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o.values))
	for k := range o.values {
		keys = append(keys, k)
	}
	return keys
}

func (o Options) clone(extra int) Options {
	values := make(map[string]any, len(o.values)+extra)
	for k, v := range o.values {
		values[k] = v
	}
	return Options{values: values}
}
