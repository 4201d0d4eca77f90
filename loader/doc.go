// Package loader implements the request pipeline.
//
// A pipeline is a chain of stages ending in a terminal loader that talks to
// the network. Each stage receives a request.Descriptor, and either answers
// it directly (a mock, a cached response, a cancelled context) or forwards
// a possibly modified descriptor to the next stage. The Result flows back
// through the same stages, so a stage can inspect the outcome and act on it;
// RetryLoader resubmits failed responses this way.
//
// # Building a chain
//
// Stages are listed outermost first. The terminal loader is always last:
//
//	chain := loader.NewChain(
//	    loader.NewTransportLoader(loader.NewHTTPTransport(loader.DefaultHTTPConfig())),
//	    loader.NewLoggingLoader(),
//	    loader.NewRetryLoader(loader.DefaultRetryConfig()),
//	    loader.NewEnvironmentLoader(loader.Environment{Host: "api.example.com", PathPrefix: "/v1"}),
//	    loader.NewCacheLoader(cache.NewMemoryStore()),
//	)
//
//	res := chain.Load(ctx, request.New(request.MethodGet, "/users/42"))
//	if err := res.Err(); err != nil {
//	    // errors.Is(err, loader.CannotConnect), errors.Is(err, loader.Cancelled), ...
//	}
//
// A chain is immutable once built. Every stage is guarded: when the context
// is already done, the stage fails without calling onward: Cancelled when
// the context was cancelled, CannotConnect when its deadline expired.
//
// # Errors
//
// Failures are *Error values carrying a Kind from a closed taxonomy, the
// request that was attempted and, when one was received, the response.
// Raw transport errors never leak past the terminal loader; they are wrapped
// and classified there.
package loader
