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
	"context"
)

// CredentialStore is the durable per-account registry of enrolled
// credentials. Implementations must serialize operations on the same
// credential ID: concurrent inserts of one ID must not both succeed, and a
// stale counter bump must be rejected rather than silently lost.
type CredentialStore interface {
	// Insert stores a new credential.
	// Returns ErrDuplicateCredential if the credential ID is already
	// present, regardless of which account it belongs to.
	Insert(ctx context.Context, cred *Credential) error

	// GetByID retrieves a credential by its ID.
	// Returns ErrCredentialNotFound if the credential does not exist.
	GetByID(ctx context.Context, credentialID []byte) (*Credential, error)

	// ListByAccount retrieves all credentials enrolled for an account.
	// Returns an empty slice when the account has none.
	ListByAccount(ctx context.Context, accountID string) ([]*Credential, error)

	// BumpCounter records a new signature counter value.
	// Returns ErrCounterRegression if newCount is not strictly greater than
	// the stored value, and ErrCredentialNotFound if the credential does
	// not exist. A successful bump also updates the last-used timestamp.
	// As the one exception to strict monotonicity, a bump from zero to zero
	// succeeds as a timestamp-only update so counter-less authenticators
	// still leave a last-used trail.
	BumpCounter(ctx context.Context, credentialID []byte, newCount uint32) error

	// Delete removes a credential by its ID.
	// Returns ErrCredentialNotFound if the credential does not exist.
	Delete(ctx context.Context, credentialID []byte) error
}

// ChallengeLedger tracks outstanding ceremony challenges. Entries are
// created when options are built and consumed exactly once.
type ChallengeLedger interface {
	// Open records a freshly issued challenge. Returns ErrChallengeExists
	// if the challenge value is already outstanding; with challenges minted
	// by GenerateChallenge this indicates a logic error, not a condition to
	// recover from.
	Open(ctx context.Context, entry *PendingChallenge) error

	// Consume atomically looks up and deletes the entry for a challenge.
	// Returns ErrUnknownChallenge if the challenge is unknown, already
	// consumed, or past its expiry. Expiry is evaluated here, at consume
	// time; implementations must not rely on background reaping having run.
	// Two concurrent consumers of the same challenge must not both succeed.
	Consume(ctx context.Context, challenge string) (*PendingChallenge, error)
}

// TokenIssuer is an optional hook invoked after a successful
// authentication. Session/token issuance is outside the engine's
// responsibility; this seam exists so callers can mint whatever proof of
// session they use without re-deriving the verified identity.
type TokenIssuer interface {
	// IssueToken creates a token for the proven account.
	IssueToken(ctx context.Context, accountID string, cred *Credential) (string, error)
}
