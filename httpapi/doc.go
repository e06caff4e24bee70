// Package httpapi exposes an authcore Engine as JSON endpoints:
//
//	POST /register  {"username","email","password"}   -> 201 token response
//	POST /login     {"identifier","password"}          -> 200 token response
//	POST /refresh   refresh cookie or {"refresh_token"} -> 200 token response
//	POST /logout    refresh cookie or body, optional bearer -> 204
//	GET  /me        bearer access token                -> 200 claims
//
// The refresh token travels in an HttpOnly, SameSite=Strict cookie and is
// also returned in the body for non-browser clients. Error bodies carry only
// [authcore.PublicMessage] text.
package httpapi
