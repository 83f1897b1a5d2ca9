// Package domain defines the core domain models for PermaMesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// The numeric suffix of a code is HTTP-status-like (4xxx client, 5xxx server)
// so transport layers can map errors without switching on messages.
//
// @design DS-0104
type DomainError struct {
	Code    string // Error code (e.g., "PM-TOKN-4011")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// HTTPStatus derives the HTTP-like status from the error code suffix.
// "PM-TOKN-4011" -> 401. Unknown shapes report 500.
func (e *DomainError) HTTPStatus() int {
	if len(e.Code) < 4 {
		return 500
	}
	suffix := e.Code[len(e.Code)-4:]
	status := 0
	for _, c := range suffix[:3] {
		if c < '0' || c > '9' {
			return 500
		}
		status = status*10 + int(c-'0')
	}
	if status < 100 || status > 599 {
		return 500
	}
	return status
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Token Errors (TOKN)
//
// All token errors are non-retryable for the same token instance: the
// verifier rejects before any consensus resources are spent.
// ============================================================================

var (
	// ErrTokenMalformed indicates the token is not a three-segment signed token.
	ErrTokenMalformed = NewDomainError("PM-TOKN-4000", "malformed token")

	// ErrTokenUnknownKey indicates the signing key id is not registered.
	ErrTokenUnknownKey = NewDomainError("PM-TOKN-4010", "unknown signing key id")

	// ErrTokenBadSignature indicates the token signature does not verify.
	ErrTokenBadSignature = NewDomainError("PM-TOKN-4012", "invalid token signature")

	// ErrTokenIssuerMismatch indicates the issuer claim does not match.
	ErrTokenIssuerMismatch = NewDomainError("PM-TOKN-4013", "issuer mismatch")

	// ErrTokenAudienceMismatch indicates the audience claim does not match.
	ErrTokenAudienceMismatch = NewDomainError("PM-TOKN-4014", "audience mismatch")

	// ErrTokenClockSkew indicates iat is beyond the acceptable skew window.
	ErrTokenClockSkew = NewDomainError("PM-TOKN-4015", "token issued in the future")

	// ErrTokenExpired indicates the token expiry is in the past.
	ErrTokenExpired = NewDomainError("PM-TOKN-4011", "token expired")

	// ErrTokenWindowExceeded indicates exp-iat exceeds the maximum validity window.
	ErrTokenWindowExceeded = NewDomainError("PM-TOKN-4016", "validity window exceeded")

	// ErrTokenMissingFields indicates a required claim is absent.
	ErrTokenMissingFields = NewDomainError("PM-TOKN-4001", "missing required fields")

	// ErrTokenLowScore indicates the validation score is below the floor.
	ErrTokenLowScore = NewDomainError("PM-TOKN-4030", "validation score too low")

	// ErrTokenNoPermissions indicates the permission bitmask is zero.
	ErrTokenNoPermissions = NewDomainError("PM-TOKN-4031", "no permissions granted")

	// ErrTokenReplay indicates the jti has already been consumed.
	ErrTokenReplay = NewDomainError("PM-TOKN-4090", "token already used")
)

// ============================================================================
// Consensus Errors (CONS)
// ============================================================================

var (
	// ErrConsensusInvalidToken indicates the request was rejected at entry
	// before any protocol work. Fatal for that request.
	ErrConsensusInvalidToken = NewDomainError("PM-CONS-4010", "invalid token at consensus entry")

	// ErrConsensusQuorumNotReached indicates a slot failed to gather 2f+1
	// matching votes within the consensus timeout. Recoverable via view change.
	ErrConsensusQuorumNotReached = NewDomainError("PM-CONS-4220", "quorum not reached")

	// ErrConsensusNotPrimary indicates this node cannot initiate for the view.
	ErrConsensusNotPrimary = NewDomainError("PM-CONS-4210", "node is not primary for current view")

	// ErrConsensusDuplicate indicates the request id was already committed.
	ErrConsensusDuplicate = NewDomainError("PM-CONS-4091", "request already committed")

	// ErrConsensusStopped indicates the engine is shut down.
	ErrConsensusStopped = NewDomainError("PM-CONS-5030", "consensus engine stopped")
)

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrRecordNotFound indicates the record id is unknown to every shard.
	ErrRecordNotFound = NewDomainError("PM-STOR-4040", "record not found")

	// ErrRecordConflict indicates a record with the same id already exists.
	ErrRecordConflict = NewDomainError("PM-STOR-4090", "record id conflict")

	// ErrProofInvalid indicates the stored inclusion proof does not verify.
	ErrProofInvalid = NewDomainError("PM-STOR-4220", "merkle proof verification failed")

	// ErrShardNotFound indicates the shard id is out of range.
	ErrShardNotFound = NewDomainError("PM-STOR-4041", "shard not found")

	// ErrStorageInternal indicates a storage layer failure.
	ErrStorageInternal = NewDomainError("PM-STOR-5001", "storage error")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("PM-SYS-5000", "internal server error")

	// ErrRateLimited indicates the admission rate limit was hit.
	ErrRateLimited = NewDomainError("PM-SYS-4290", "too many requests")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("PM-SYS-4000", "bad request")
)
