// Package internal groups the packages that are private to authcore.
//
//   - audit: event model, sinks and the async dispatcher
//   - blacklist: Redis access-token blacklist
//   - dbx: SQL transaction helper
//   - flows: Engine operations as dependency-injected functions
//   - metrics: latency bucket layout
//   - rate: Redis fixed-window limiter
//   - security: configuration posture report
package internal
