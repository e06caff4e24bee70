// Package authcore is a credential and session lifecycle engine: Argon2id
// password verification, signed access and refresh JWTs, single-use refresh
// rotation with reuse detection, revocation backed by a Redis access-token
// blacklist, and fixed-window rate limiting.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy and value types. Flow orchestration, the limiter, the
// blacklist and audit dispatch live under internal/ and are never exported.
// Refresh records are persisted through [refresh.Store]; user records come
// from the caller's [UserProvider].
//
// # Errors
//
// Every failure matches one sentinel with [errors.Is]. Backend failures are
// [*InfrastructureError] values that match [ErrInfrastructure], and
// additionally [ErrBackendTimeout] when a deadline expired. Use
// [PublicMessage] to render any error for an untrusted client.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store internals or key material in its public API.
//   - Return token, password or backend detail in an error string meant for clients.
//   - Hold an in-process lock across I/O.
package authcore
