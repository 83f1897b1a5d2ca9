// Package verify implements the capability-token verification gate.
//
// Every request entering consensus passes through a Verifier first:
// structural checks, signature verification against the injected
// keyring, claim validation (issuer, audience, clock skew, expiry,
// validity window, score, permissions) and single-use enforcement via a
// jti replay set. Rejection happens before any consensus resources are
// spent.
//
// @design DS-0201
package verify
