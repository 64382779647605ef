// Package auth verifies bearer credentials for the direct-chat HTTP surface and
// realtime gateway.
//
// Credentials are PASETO v4.public access tokens minted by the marketplace's
// identity service. The token carries the account id in the "uid" claim; this
// package only verifies signature, issuer and validity window and never talks to
// an identity store.
package auth
