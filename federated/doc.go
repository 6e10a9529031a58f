// Package federated verifies Google sign-in assertions.
//
// [JWKSValidator] checks RS256 ID tokens against the provider's JWKS, with
// issuer, audience, expiry and optional hosted-domain checks. Key fetching,
// caching and unknown-kid refresh are handled by keyfunc and jwkset.
// [CodeExchanger] handles the authorization-code variant by exchanging the
// code through golang.org/x/oauth2 and handing the returned id_token to the
// validator.
package federated
