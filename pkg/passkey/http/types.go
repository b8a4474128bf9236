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

package http

import "encoding/json"

// RegistrationOptionsRequest is the request body for starting registration.
type RegistrationOptionsRequest struct {
	// AccountID is the opaque account identifier (required).
	AccountID string `json:"account_id"`

	// Label is the user-chosen name for the new credential (optional).
	Label string `json:"label,omitempty"`

	// Attachment restricts the authenticator type (optional).
	// Options: "platform", "cross-platform", "" (any)
	Attachment string `json:"attachment,omitempty"`
}

// RegistrationVerifyRequest is the request body for completing registration.
type RegistrationVerifyRequest struct {
	// AccountID is the account the new credential belongs to (required).
	AccountID string `json:"account_id"`

	// Label is the user-chosen name for the new credential (optional).
	Label string `json:"label,omitempty"`

	// Response is the attestation response from the authenticator.
	Response json.RawMessage `json:"response"`
}

// AuthenticationOptionsRequest is the request body for starting
// authentication. An empty body selects the discoverable flow.
type AuthenticationOptionsRequest struct {
	// AccountID is the account to authenticate (optional).
	// If not provided, discoverable credentials flow is used.
	AccountID string `json:"account_id,omitempty"`
}

// CredentialResponse is the wire representation of a stored credential.
// The public key is never exposed.
type CredentialResponse struct {
	// ID is the base64url-encoded credential ID.
	ID string `json:"id"`

	// AccountID is the owning account.
	AccountID string `json:"account_id"`

	// Label is the user-chosen credential name.
	Label string `json:"label"`

	// SignCount is the current signature counter.
	SignCount uint32 `json:"sign_count"`

	// CreatedAt is the enrollment time in RFC 3339 format.
	CreatedAt string `json:"created_at"`

	// LastUsedAt is the last successful authentication in RFC 3339
	// format, empty if never used.
	LastUsedAt string `json:"last_used_at,omitempty"`
}

// AuthVerifyResponse is the response after a successful authentication.
type AuthVerifyResponse struct {
	// AccountID is the proven account identity.
	AccountID string `json:"account_id"`

	// CredentialID is the base64url-encoded ID of the credential used.
	CredentialID string `json:"credential_id"`

	// Token is the issued token, if the service has a token issuer.
	Token string `json:"token,omitempty"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeUnknownChallenge   = "unknown_challenge"
	ErrorCodeCeremonyMismatch   = "ceremony_mismatch"
	ErrorCodeOriginMismatch     = "origin_mismatch"
	ErrorCodeDuplicate          = "duplicate_credential"
	ErrorCodeNoCredentials      = "no_credentials"
	ErrorCodeNotFound           = "credential_not_found"
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeInternalError      = "internal_error"
)
