// Package captoken implements the capability token wire format.
//
// A capability token is three base64url segments joined by dots:
//
//	header.payload.signature
//
// The header names the signature algorithm and the signing key id; the
// payload is the JSON claims object; the signature covers the first two
// segments. Supported algorithms are EdDSA (Ed25519) and HS256
// (HMAC-SHA256), resolved through an injected Keyring so protocol code
// never touches a concrete crypto provider.
//
// The package provides both sides of the contract: Sign is used by the
// upstream issuer (and by tests), Parse by the verifier.
package captoken
