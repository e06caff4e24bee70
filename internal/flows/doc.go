// Package flows contains the orchestration behind every Engine operation.
//
// Each Run* function takes a typed dependency struct and returns a result that
// classifies failures with a kind enum. The Engine maps kinds to its public
// errors, metrics and audit events, so flows never import the root package.
//
// Flows hold no state between calls. All I/O goes through the dependency
// struct: the refresh store, the token codec, the limiter and the blacklist.
package flows
