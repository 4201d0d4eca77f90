// Package connection is the entry point applications call.
//
// A Connection runs a request.Descriptor through a loader chain, validates
// the response and decodes its body into an application type:
//
//	conn := connection.New(chain)
//	user, err := connection.Load(ctx, conn, request.New(request.MethodGet, "/users/42"), connection.JSON[User]())
//
// Chain failures are returned untouched as *loader.Error. A response that
// fails validation yields a *ValidationError and a body that cannot be
// decoded yields a *DecodeError; neither is a loader failure.
package connection
