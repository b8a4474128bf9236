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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChallenge(t *testing.T) {
	challenge, err := GenerateChallenge()
	require.NoError(t, err)
	require.NotEmpty(t, challenge)

	// Decodes back to the full entropy length
	raw, err := DecodeChallenge(challenge)
	require.NoError(t, err)
	assert.Len(t, raw, challengeBytes)

	// Unpadded base64url only
	_, err = base64.RawURLEncoding.DecodeString(challenge)
	assert.NoError(t, err)
}

func TestGenerateChallenge_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		challenge, err := GenerateChallenge()
		require.NoError(t, err)
		require.False(t, seen[challenge], "duplicate challenge generated")
		seen[challenge] = true
	}
}

func TestDecodeChallenge_Invalid(t *testing.T) {
	_, err := DecodeChallenge("not!base64url")
	assert.Error(t, err)
}

func TestValidChallenge(t *testing.T) {
	challenge, err := GenerateChallenge()
	require.NoError(t, err)
	assert.True(t, ValidChallenge(challenge))

	// Too short
	short := base64.RawURLEncoding.EncodeToString(make([]byte, MinChallengeBytes-1))
	assert.False(t, ValidChallenge(short))

	// Exactly at the floor
	floor := base64.RawURLEncoding.EncodeToString(make([]byte, MinChallengeBytes))
	assert.True(t, ValidChallenge(floor))

	// Not base64url at all
	assert.False(t, ValidChallenge("%%%%"))
	assert.False(t, ValidChallenge(""))
}
