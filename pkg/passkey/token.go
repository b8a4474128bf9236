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
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTIssuer issues signed JWTs for accounts that completed an
// authentication ceremony. It implements the TokenIssuer interface.
type JWTIssuer struct {
	// privateKey is the key used to sign tokens
	privateKey crypto.PrivateKey
	// method is the JWT signing method, derived from the key type
	method jwt.SigningMethod
	// issuer is the JWT issuer claim
	issuer string
	// audience is the JWT audience claim
	audience []string
	// expiresIn is how long tokens are valid
	expiresIn time.Duration
	// keyID is the key identifier for the kid header
	keyID string
}

// JWTIssuerConfig contains configuration for the JWT issuer.
type JWTIssuerConfig struct {
	// PrivateKey is the key used to sign tokens (required).
	// ECDSA P-256, RSA, and Ed25519 keys are supported.
	PrivateKey crypto.PrivateKey
	// Issuer is the JWT issuer claim (default: "go-passkey")
	Issuer string
	// Audience is the JWT audience claim (default: ["go-passkey"])
	Audience []string
	// ExpiresIn is how long tokens are valid (default: 1 hour)
	ExpiresIn time.Duration
	// KeyID is the key identifier for the kid header (optional)
	KeyID string
}

// NewJWTIssuer creates a new JWT issuer with the given configuration.
func NewJWTIssuer(config *JWTIssuerConfig) (*JWTIssuer, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	var method jwt.SigningMethod
	switch config.PrivateKey.(type) {
	case *ecdsa.PrivateKey:
		method = jwt.SigningMethodES256
	case *rsa.PrivateKey:
		method = jwt.SigningMethodRS256
	case ed25519.PrivateKey:
		method = jwt.SigningMethodEdDSA
	default:
		return nil, fmt.Errorf("unsupported private key type %T", config.PrivateKey)
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-passkey"
	}

	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{"go-passkey"}
	}

	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	return &JWTIssuer{
		privateKey: config.PrivateKey,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		expiresIn:  expiresIn,
		keyID:      config.KeyID,
	}, nil
}

// IssueToken creates a JWT for the authenticated account. The credential
// used during the ceremony is recorded in a custom claim so relying
// services can distinguish which authenticator signed in.
func (g *JWTIssuer) IssueToken(ctx context.Context, accountID string, cred *Credential) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss": g.issuer,
		"aud": g.audience,
		"sub": accountID,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(g.expiresIn).Unix(),
		"nbf": now.Unix(),
	}
	if cred != nil {
		claims["cred"] = cred.EncodedID()
	}

	token := jwt.NewWithClaims(g.method, claims)
	if g.keyID != "" {
		token.Header["kid"] = g.keyID
	}

	signed, err := token.SignedString(g.privateKey)
	if err != nil {
		return "", fmt.Errorf("token signing failed: %w", err)
	}
	return signed, nil
}

// VerifyToken verifies a JWT issued by this issuer and returns the claims.
func (g *JWTIssuer) VerifyToken(tokenString string) (jwt.MapClaims, error) {
	publicKey := publicKeyOf(g.privateKey)
	if publicKey == nil {
		return nil, fmt.Errorf("public key not available for verification")
	}

	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != g.method.Alg() {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return publicKey, nil
		},
		jwt.WithIssuer(g.issuer),
		jwt.WithAudience(g.audience[0]),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

// Issuer returns the configured issuer.
func (g *JWTIssuer) Issuer() string {
	return g.issuer
}

// ExpiresIn returns the token expiration duration.
func (g *JWTIssuer) ExpiresIn() time.Duration {
	return g.expiresIn
}

func publicKeyOf(key crypto.PrivateKey) crypto.PublicKey {
	type publicKeyGetter interface {
		Public() crypto.PublicKey
	}
	if pk, ok := key.(publicKeyGetter); ok {
		return pk.Public()
	}
	return nil
}
