// Package rate implements the fixed-window request limiter used in front of the
// authentication endpoints.
//
// # Window semantics
//
// Each (bucket, scope) pair owns one counter per window. The window index is
// derived from the injected clock, so the key itself rolls over at the window
// boundary:
//
//	<prefix>:<bucket>:<scope>:<window-index>
//
// The counter is incremented and, on its first hit, given an expiry at the
// window end, inside one Lua script. No second request can observe a counter
// without an expiry.
package rate
