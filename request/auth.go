package request

// AuthMethod selects how a request authenticates.
type AuthMethod int

// Authentication methods.
const (
	// AuthNone sends the request without credentials.
	AuthNone AuthMethod = iota

	// AuthBearer sends an "Authorization: Bearer <token>" header.
	AuthBearer

	// AuthAPIKey sends the credential in an API key header.
	AuthAPIKey
)

// String returns a lowercase name for logs.
func (m AuthMethod) String() string {
	switch m {
	case AuthBearer:
		return "bearer"
	case AuthAPIKey:
		return "api_key"
	default:
		return "none"
	}
}

// AuthMethodCapability carries the request's authentication method.
var AuthMethodCapability = NewCapability("request.auth_method", AuthNone)

// WithAuth returns a copy of d authenticating with m.
func (d Descriptor) WithAuth(m AuthMethod) Descriptor {
	return Assign(d, AuthMethodCapability, m)
}

// Auth returns the request's authentication method.
func (d Descriptor) Auth() AuthMethod {
	return Lookup(d, AuthMethodCapability)
}
