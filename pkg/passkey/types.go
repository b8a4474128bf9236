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
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Operation identifies which ceremony a challenge was issued for.
type Operation string

const (
	// OperationRegistration is the credential-creation ceremony.
	OperationRegistration Operation = "registration"

	// OperationAuthentication is the assertion ceremony.
	OperationAuthentication Operation = "authentication"
)

// Attachment expresses the caller's authenticator attachment preference for
// a registration ceremony.
type Attachment string

const (
	// AttachmentAny places no restriction on the authenticator type.
	AttachmentAny Attachment = ""

	// AttachmentPlatform restricts the ceremony to platform authenticators
	// (built-in biometric sensors, TPM-backed keys).
	AttachmentPlatform Attachment = "platform"

	// AttachmentCrossPlatform restricts the ceremony to roaming
	// authenticators (USB/NFC/BLE security keys).
	AttachmentCrossPlatform Attachment = "cross-platform"
)

// Credential is one enrolled authenticator binding for an account.
// Once stored, only SignCount and LastUsedAt ever change.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	// Unique across the entire store, not just per account.
	ID []byte `json:"id"`

	// AccountID is the external account this credential belongs to.
	AccountID string `json:"account_id"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// AttestationType indicates the type of attestation used at enrollment.
	AttestationType string `json:"attestation_type,omitempty"`

	// Transports lists transport hints reported by the client. Informational
	// only; never used for security decisions.
	Transports []protocol.AuthenticatorTransport `json:"transports,omitempty"`

	// AAGUID is the authenticator's model identifier.
	AAGUID []byte `json:"aaguid,omitempty"`

	// SignCount is the authenticator's signature counter. Monotonically
	// non-decreasing; used for clone detection.
	SignCount uint32 `json:"sign_count"`

	// Flags records the authenticator flags observed at enrollment.
	Flags CredentialFlags `json:"flags"`

	// Label is the user-chosen name for this credential ("MacBook Pro").
	Label string `json:"label"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CredentialFlags contains authenticator capability flags.
type CredentialFlags struct {
	UserPresent    bool `json:"user_present"`
	UserVerified   bool `json:"user_verified"`
	BackupEligible bool `json:"backup_eligible"`
	BackupState    bool `json:"backup_state"`
}

// EncodedID returns the credential ID in the base64url form used on the wire.
func (c *Credential) EncodedID() string {
	return base64.RawURLEncoding.EncodeToString(c.ID)
}

// ToWebAuthn converts a Credential to the go-webauthn library's type.
func (c *Credential) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

// Descriptor returns the credential descriptor used in allow and exclude
// lists.
func (c *Credential) Descriptor() protocol.CredentialDescriptor {
	return protocol.CredentialDescriptor{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: c.ID,
		Transport:    c.Transports,
	}
}

// newCredential builds a Credential from a verified library credential.
func newCredential(accountID, label string, wc *webauthn.Credential, now time.Time) *Credential {
	return &Credential{
		ID:              wc.ID,
		AccountID:       accountID,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transports:      wc.Transport,
		AAGUID:          wc.Authenticator.AAGUID,
		SignCount:       wc.Authenticator.SignCount,
		Flags: CredentialFlags{
			UserPresent:    wc.Flags.UserPresent,
			UserVerified:   wc.Flags.UserVerified,
			BackupEligible: wc.Flags.BackupEligible,
			BackupState:    wc.Flags.BackupState,
		},
		Label:     label,
		CreatedAt: now.UTC(),
	}
}

// PendingChallenge is the short-lived association between an issued challenge
// and the ceremony it was issued for. It is created when options are built
// and consumed exactly once, either by verification or by expiry.
type PendingChallenge struct {
	// Challenge is the base64url token embedded in the ceremony options.
	Challenge string `json:"challenge"`

	// Operation is the ceremony this challenge was issued for.
	Operation Operation `json:"operation"`

	// AccountID is the bound account. Required for registration; empty for
	// account-less (discoverable) authentication.
	AccountID string `json:"account_id,omitempty"`

	// Session carries the library session state needed to verify the
	// eventual response.
	Session webauthn.SessionData `json:"session"`

	// ExpiresAt is the instant the challenge stops being acceptable.
	// Checked at consume time; background reaping is hygiene only.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the challenge is past its expiry at the given
// instant.
func (p *PendingChallenge) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// accountHandle adapts an externally owned account to the webauthn.User
// interface. The engine never persists accounts; it only carries the opaque
// ID and display label through a ceremony.
type accountHandle struct {
	id          string
	label       string
	credentials []*Credential
}

func (a *accountHandle) WebAuthnID() []byte {
	return []byte(a.id)
}

func (a *accountHandle) WebAuthnName() string {
	if a.label != "" {
		return a.label
	}
	return a.id
}

func (a *accountHandle) WebAuthnDisplayName() string {
	return a.WebAuthnName()
}

func (a *accountHandle) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(a.credentials))
	for i, c := range a.credentials {
		creds[i] = c.ToWebAuthn()
	}
	return creds
}
