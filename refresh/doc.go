// Package refresh defines the persisted side of refresh-token rotation.
//
// A [Record] is keyed by the refresh token's jti and stores only the SHA-256 hash
// of the token string. Records are revoked, never deleted: a revoked record whose
// ReplacedBy is set was consumed by a rotation, so presenting its token again is
// a replay. A record revoked without ReplacedBy was ended by logout or bulk
// revocation.
//
// [Store] is the contract rotation relies on. Implementations must make
// [Store.Supersede] and [Store.Revoke] conditional on the record still being
// active, so that among concurrent rotations of one token exactly one observes
// true. [MemoryStore] is a reference implementation for tests and single-process
// deployments; the pgstore package provides the PostgreSQL one.
package refresh
