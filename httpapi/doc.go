// Package httpapi serves the authentication endpoints over echo.
//
// Routes live under a base path, normally /api/auth: password, one-time code
// and Google login, refresh, logout, logout-all and /me. Engine errors are
// mapped to HTTP status once, from [campusauth.KindOf]. The refresh secret
// only ever travels in the HttpOnly session cookie.
package httpapi
