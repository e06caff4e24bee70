// Package jwt issues and verifies the two token kinds used by authcore: short-lived
// access tokens and long-lived refresh tokens, both signed with one configured key.
//
// Every token carries sub, iat, exp, a random jti and a typ claim. The typ claim keeps
// a refresh token from being accepted where an access token is expected and the
// other way around. Parse failures wrap ErrExpired or ErrInvalid so callers never
// inspect library-specific errors.
//
// This package is pure: it does not persist tokens or consult revocation state.
package jwt
