// Package jwt issues and verifies the short-lived access tokens handed out
// after login and refresh. Tokens carry the user, primary role, branch,
// session id and the encoded page mask of the access snapshot.
package jwt
