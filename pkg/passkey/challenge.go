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
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	// MinChallengeBytes is the smallest challenge the engine will accept.
	// Anything shorter is guessable enough to undermine replay protection.
	MinChallengeBytes = 16

	// challengeBytes is the entropy of challenges minted by this package.
	challengeBytes = 32
)

// GenerateChallenge returns a fresh base64url-encoded challenge drawn from
// crypto/rand. Collisions are treated as negligible at this length; callers
// do not retry on duplicates.
func GenerateChallenge() (string, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random challenge: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DecodeChallenge decodes a base64url challenge token back to raw bytes.
func DecodeChallenge(challenge string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(challenge)
	if err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return raw, nil
}

// ValidChallenge reports whether the encoded challenge carries at least
// MinChallengeBytes of entropy.
func ValidChallenge(challenge string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(challenge)
	if err != nil {
		return false
	}
	return len(raw) >= MinChallengeBytes
}
