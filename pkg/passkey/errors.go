// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"errors"
	"fmt"
)

// Sentinel errors for ceremony and store operations. Every failure is
// terminal for the current ceremony attempt; the engine never retries
// internally.
var (
	// ErrUnknownChallenge is returned when a response references a challenge
	// that was never issued, has already been consumed, or has expired.
	// Expired and absent are deliberately indistinguishable.
	ErrUnknownChallenge = errors.New("unknown or expired challenge")

	// ErrCeremonyMismatch is returned when a consumed challenge was issued
	// for a different operation, or bound to a different account, than the
	// one the response claims.
	ErrCeremonyMismatch = errors.New("ceremony mismatch")

	// ErrOriginMismatch is returned when the response's origin binding does
	// not match any configured relying-party origin.
	ErrOriginMismatch = errors.New("origin mismatch")

	// ErrMalformedResponse is returned when the authenticator response is
	// structurally invalid.
	ErrMalformedResponse = errors.New("malformed authenticator response")

	// ErrDuplicateCredential is returned when a credential ID is already
	// present in the store. Credential IDs are unique across all accounts.
	ErrDuplicateCredential = errors.New("credential already exists")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrSignatureInvalid is returned when the assertion signature does not
	// verify against the stored public key.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrCounterRegression is returned when an authenticator reports a
	// signature counter at or below the stored value. This is the primary
	// signal of a cloned authenticator and aborts the authentication.
	ErrCounterRegression = errors.New("signature counter regression")

	// ErrChallengeExists is returned by a ledger when a challenge value is
	// already outstanding. Callers treat this as a logic error, not a
	// recoverable condition.
	ErrChallengeExists = errors.New("challenge already outstanding")

	// ErrNotConfigured is returned when the service is missing required
	// dependencies.
	ErrNotConfigured = errors.New("passkey service not configured")
)

// CeremonyError wraps an error with the operation that produced it.
type CeremonyError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *CeremonyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CeremonyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new CeremonyError with the given operation and error.
func NewError(op string, err error) error {
	return &CeremonyError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsUnknownChallenge returns true if the error indicates a challenge that is
// unknown, consumed, or expired.
func IsUnknownChallenge(err error) bool {
	return errors.Is(err, ErrUnknownChallenge)
}

// IsCredentialNotFound returns true if the error indicates a missing credential.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsDuplicateCredential returns true if the error indicates a duplicate
// credential ID.
func IsDuplicateCredential(err error) bool {
	return errors.Is(err, ErrDuplicateCredential)
}

// IsSecuritySignal returns true for failures that indicate possible
// credential cloning or forgery rather than a benign timeout or user error.
// Operators should alert on these; user-facing surfaces should not
// distinguish them from ordinary verification failures.
func IsSecuritySignal(err error) bool {
	return errors.Is(err, ErrSignatureInvalid) || errors.Is(err, ErrCounterRegression)
}
