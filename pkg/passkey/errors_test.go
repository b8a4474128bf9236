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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCeremonyError(t *testing.T) {
	err := NewError("consume challenge", ErrUnknownChallenge)

	assert.Equal(t, "consume challenge: unknown or expired challenge", err.Error())
	assert.ErrorIs(t, err, ErrUnknownChallenge)

	var ce *CeremonyError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "consume challenge", ce.Op)
	assert.Equal(t, ErrUnknownChallenge, errors.Unwrap(err))
}

func TestCeremonyError_NoOp(t *testing.T) {
	err := NewError("", ErrOriginMismatch)
	assert.Equal(t, "origin mismatch", err.Error())
	assert.ErrorIs(t, err, ErrOriginMismatch)
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError("op", nil))

	wrapped := WrapError("insert credential", ErrDuplicateCredential)
	assert.ErrorIs(t, wrapped, ErrDuplicateCredential)
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsUnknownChallenge(WrapError("op", ErrUnknownChallenge)))
	assert.False(t, IsUnknownChallenge(ErrOriginMismatch))

	assert.True(t, IsCredentialNotFound(WrapError("op", ErrCredentialNotFound)))
	assert.False(t, IsCredentialNotFound(ErrUnknownChallenge))

	assert.True(t, IsDuplicateCredential(WrapError("op", ErrDuplicateCredential)))
	assert.False(t, IsDuplicateCredential(ErrCredentialNotFound))
}

func TestIsSecuritySignal(t *testing.T) {
	assert.True(t, IsSecuritySignal(ErrSignatureInvalid))
	assert.True(t, IsSecuritySignal(ErrCounterRegression))
	assert.True(t, IsSecuritySignal(WrapError("validate assertion", ErrSignatureInvalid)))

	assert.False(t, IsSecuritySignal(ErrUnknownChallenge))
	assert.False(t, IsSecuritySignal(ErrOriginMismatch))
	assert.False(t, IsSecuritySignal(errors.New("other")))
}
