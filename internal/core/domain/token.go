// Package domain defines the core domain models for PermaMesh.
package domain

import "time"

// Token validation constants.
const (
	// MaxValidityWindow is the maximum allowed exp-iat span.
	MaxValidityWindow = 300 * time.Second

	// MaxClockSkew is the tolerated clock drift for iat checks.
	MaxClockSkew = 5 * time.Second

	// MinValidationScore is the lowest acceptable upstream fraud score.
	MinValidationScore = 0.5
)

// Permission bits carried in the capability token bitmask.
const (
	PermStore  uint32 = 1 << 0 // append records
	PermQuery  uint32 = 1 << 1 // read/query records
	PermExport uint32 = 1 << 2 // export shard snapshots
	PermAdmin  uint32 = 1 << 3 // administrative operations
)

// ValidationResults carries the upstream issuer's fraud-scoring outcome.
type ValidationResults struct {
	// Score is the issuer's confidence in the requester, 0..1.
	Score float64 `json:"score"`
}

// TokenPayload is the decoded payload of a capability token.
//
// A capability token is a signed, time-bounded, single-use authorization
// artifact issued by the upstream identity process. The verifier enforces
// single use via the jti replay set.
type TokenPayload struct {
	// JTI is the unique token identifier used for replay detection.
	JTI string `json:"jti"`

	// Issuer identifies the upstream token issuer.
	Issuer string `json:"iss"`

	// Audience identifies the intended consumer of the token.
	Audience string `json:"aud"`

	// IssuedAt is the issue time in unix seconds.
	IssuedAt int64 `json:"iat"`

	// ExpiresAt is the expiry time in unix seconds. exp-iat must not
	// exceed MaxValidityWindow.
	ExpiresAt int64 `json:"exp"`

	// ValidationResults is the issuer's scoring outcome.
	ValidationResults ValidationResults `json:"validation_results"`

	// Department is the organizational unit the token was issued for.
	Department string `json:"department"`

	// Permissions is a nonzero bitmask of Perm* bits.
	Permissions uint32 `json:"permissions"`
}

// HasRequiredFields reports whether all mandatory claims are present.
func (p *TokenPayload) HasRequiredFields() bool {
	return p.JTI != "" &&
		p.Issuer != "" &&
		p.Audience != "" &&
		p.IssuedAt != 0 &&
		p.ExpiresAt != 0
}

// HasPermission is a pure bitwise check against the permission mask.
func (p *TokenPayload) HasPermission(bit uint32) bool {
	return p.Permissions&bit != 0
}

// ValidityWindow returns the exp-iat span.
func (p *TokenPayload) ValidityWindow() time.Duration {
	return time.Duration(p.ExpiresAt-p.IssuedAt) * time.Second
}

// ExpiredAt reports whether the token is expired at the given instant.
func (p *TokenPayload) ExpiredAt(now time.Time) bool {
	return p.ExpiresAt < now.Unix()
}

// VerifiedToken is a cache entry pairing a verified payload with the
// instant verification succeeded.
type VerifiedToken struct {
	Payload    *TokenPayload
	VerifiedAt time.Time
}
