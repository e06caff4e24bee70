// Package redisstore implements [refresh.Store] on Redis.
//
// Each record is a hash under prefix:rt:<id> that expires with the token,
// and each user has a set prefix:ru:<userID> of record ids. Transactions are
// optimistic: keys read inside WithinTx are WATCHed and the buffered writes
// are applied with MULTI/EXEC, retrying when a watched key changed.
//
// On Redis Cluster every key must hash to one slot, so use a prefix with a
// hash tag such as "{refresh}". Transactions are routed by the prefix:tx key.
//
// # Retention
//
// Unlike pgstore, which keeps every record until an operator prunes it, a
// record here is deleted by Redis once its ExpiresAt passes, revoked or not.
// A refresh token presented after that point is reported as invalid rather
// than as reused, which is indistinguishable to the caller because the
// token itself is expired.
//
// # What this package must NOT do
//
//   - Store raw refresh tokens. Only their SHA-256 digests are kept.
//   - Hold a client-side lock across Redis calls.
package redisstore
