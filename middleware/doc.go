// Package middleware adapts authcore to net/http.
//
//   - [Guard] verifies the bearer access token through Engine.Authorize and
//     stores the claims in the request context.
//   - [ClientIP] records the caller address used for rate limiting and audit.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to the Engine).
//   - Access Redis (the Engine handles I/O).
package middleware
