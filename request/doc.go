// Package request describes an outbound HTTP call as a plain value.
//
// A Descriptor carries the URL parts, method, headers, body, retry state and
// an Options bag of typed per-request settings. Descriptors are values: every
// helper that "changes" one returns a modified copy and never touches the
// receiver, so a descriptor can be handed to concurrent pipeline stages
// without a locking discipline.
//
// # Building Requests
//
//	req := request.New(request.MethodGet, "/users/42",
//	    request.WithHost("api.example.com"),
//	    request.WithHeader("Accept", "application/json"),
//	    request.Retryable(),
//	)
//
//	// Copy-with-changes
//	next := req.WithQuery("expand", "teams").WithHeader("X-Trace", "abc")
//
// # Options
//
// Capabilities are typed, independently defaulted slots in the Options bag.
// A lookup of a capability that was never set returns its default:
//
//	var Tenant = request.NewCapability("tenant", "public")
//
//	req = request.Assign(req, Tenant, "acme")
//	request.Lookup(req, Tenant) // "acme"
//
// # Bodies
//
// Body variants: Empty, Raw, JSONObject, JSONArray, Form and Multipart.
// Multipart bodies can be encoded in memory or streamed to a temporary file
// part by part, which keeps memory bounded for large attachments:
//
//	body := request.Multipart(
//	    request.TextPart("title", "Q4 report"),
//	    request.FilePart("document", "/path/to/report.pdf"),
//	)
//	file, size, err := body.MaterializeToFile(ctx, request.OSTempFileSink{})
package request
