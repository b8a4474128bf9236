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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		RPID:          "example.com",
		RPDisplayName: "Example Corp",
		RPOrigins:     []string{"https://example.com"},
	}
}

func testService(t *testing.T, cfg *Config) (*Service, *MemoryCredentialStore, *MemoryChallengeLedger) {
	t.Helper()
	store := NewMemoryCredentialStore()
	ledger := NewMemoryChallengeLedger(time.Minute)
	svc, err := NewService(ServiceParams{
		Config:          cfg,
		CredentialStore: store,
		ChallengeLedger: ledger,
	})
	require.NoError(t, err)
	return svc, store, ledger
}

func testRelyingParty(cfg *Config) virtualwebauthn.RelyingParty {
	return virtualwebauthn.RelyingParty{
		Name:   cfg.RPDisplayName,
		ID:     cfg.RPID,
		Origin: cfg.RPOrigins[0],
	}
}

// attest runs the virtual authenticator against registration options and
// returns the attestation response JSON the browser would send.
func attest(t *testing.T, rp virtualwebauthn.RelyingParty, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential, options *protocol.CredentialCreation) []byte {
	t.Helper()
	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsed, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	return []byte(virtualwebauthn.CreateAttestationResponse(rp, auth, cred, *parsed))
}

// assertAgainst runs the virtual authenticator against assertion options and
// returns the assertion response JSON the browser would send.
func assertAgainst(t *testing.T, rp virtualwebauthn.RelyingParty, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential, options *protocol.CredentialAssertion) []byte {
	t.Helper()
	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsed, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)
	return []byte(virtualwebauthn.CreateAssertionResponse(rp, auth, cred, *parsed))
}

// enroll registers a fresh credential for an account and returns it.
func enroll(t *testing.T, svc *Service, rp virtualwebauthn.RelyingParty, auth *virtualwebauthn.Authenticator, cred virtualwebauthn.Credential, accountID, label string) *Credential {
	t.Helper()
	ctx := context.Background()

	options, err := svc.BeginRegistration(ctx, accountID, label, AttachmentAny)
	require.NoError(t, err)

	stored, err := svc.FinishRegistration(ctx, accountID, label, attest(t, rp, *auth, cred, options))
	require.NoError(t, err)
	auth.AddCredential(cred)
	return stored
}

func TestIntegration_FullRegistrationFlow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, store, _ := testService(t, cfg)

	rp := testRelyingParty(cfg)
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// Begin registration
	options, err := svc.BeginRegistration(ctx, "user-1", "Test User", AttachmentAny)
	require.NoError(t, err)
	require.NotNil(t, options)

	// Verify options structure
	assert.Equal(t, cfg.RPID, options.Response.RelyingParty.ID)
	assert.Equal(t, cfg.RPDisplayName, options.Response.RelyingParty.Name)
	assert.Equal(t, "Test User", options.Response.User.Name)
	assert.Empty(t, options.Response.CredentialExcludeList)

	// The challenge on the wire is one of ours
	require.NotEmpty(t, options.Response.Challenge)
	encoded := base64.RawURLEncoding.EncodeToString(options.Response.Challenge)
	assert.True(t, ValidChallenge(encoded))

	// Complete the ceremony with the virtual authenticator
	response := attest(t, rp, authenticator, credential, options)
	cred, err := svc.FinishRegistration(ctx, "user-1", "Test User", response)
	require.NoError(t, err)
	require.NotNil(t, cred)

	assert.Equal(t, "user-1", cred.AccountID)
	assert.Equal(t, "Test User", cred.Label)
	assert.NotEmpty(t, cred.ID)
	assert.NotEmpty(t, cred.PublicKey)
	assert.False(t, cred.CreatedAt.IsZero())

	// Credential is stored and listable
	creds, err := svc.Credentials(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, cred.ID, creds[0].ID)
	assert.Equal(t, 1, store.Count())
}

func TestIntegration_FullAuthenticationFlow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, store, _ := testService(t, cfg)

	rp := testRelyingParty(cfg)
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	enrolled := enroll(t, svc, rp, &authenticator, credential, "user-1", "laptop")

	// Begin an account-identified ceremony
	options, err := svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, options)
	assert.Equal(t, cfg.RPID, options.Response.RelyingPartyID)
	require.Len(t, options.Response.AllowedCredentials, 1)
	assert.Equal(t, protocol.URLEncodedBase64(enrolled.ID), options.Response.AllowedCredentials[0].CredentialID)

	// Complete the ceremony
	response := assertAgainst(t, rp, authenticator, credential, options)
	result, err := svc.FinishAuthentication(ctx, response)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "user-1", result.AccountID)
	assert.Equal(t, enrolled.ID, result.Credential.ID)
	assert.Empty(t, result.Token)
	assert.False(t, result.Credential.LastUsedAt.IsZero())

	// The last-used timestamp is persisted, not just set on the returned copy
	stored, err := store.GetByID(ctx, enrolled.ID)
	require.NoError(t, err)
	assert.False(t, stored.LastUsedAt.IsZero())
}

func TestIntegration_DiscoverableAuthenticationFlow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ResidentKeyRequirement = "preferred"
	svc, _, _ := testService(t, cfg)

	rp := testRelyingParty(cfg)
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	enroll(t, svc, rp, &authenticator, credential, "user-1", "phone")

	// Account-less ceremony; any enrolled passkey may answer
	options, err := svc.BeginAuthentication(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, options.Response.AllowedCredentials)

	// A discoverable credential carries the user handle in the assertion
	discoverable := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: []byte("user-1"),
	})
	discoverable.AddCredential(credential)

	response := assertAgainst(t, rp, discoverable, credential, options)
	result, err := svc.FinishAuthentication(ctx, response)
	require.NoError(t, err)
	assert.Equal(t, "user-1", result.AccountID)
}

func TestIntegration_MultipleCredentials(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, _, _ := testService(t, cfg)
	rp := testRelyingParty(cfg)

	auth1 := virtualwebauthn.NewAuthenticator()
	cred1 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	auth2 := virtualwebauthn.NewAuthenticator()
	cred2 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	enroll(t, svc, rp, &auth1, cred1, "user-1", "laptop")

	// The second registration must exclude the first credential
	options, err := svc.BeginRegistration(ctx, "user-1", "security key", AttachmentAny)
	require.NoError(t, err)
	assert.Len(t, options.Response.CredentialExcludeList, 1)

	_, err = svc.FinishRegistration(ctx, "user-1", "security key", attest(t, rp, auth2, cred2, options))
	require.NoError(t, err)
	auth2.AddCredential(cred2)

	creds, err := svc.Credentials(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	// Either authenticator can answer an identified ceremony
	for _, pair := range []struct {
		auth virtualwebauthn.Authenticator
		cred virtualwebauthn.Credential
	}{{auth1, cred1}, {auth2, cred2}} {
		options, err := svc.BeginAuthentication(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, options.Response.AllowedCredentials, 2)

		result, err := svc.FinishAuthentication(ctx, assertAgainst(t, rp, pair.auth, pair.cred, options))
		require.NoError(t, err)
		assert.Equal(t, "user-1", result.AccountID)
	}
}

func TestIntegration_ChallengeReplayRejected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, _, _ := testService(t, cfg)
	rp := testRelyingParty(cfg)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := svc.BeginRegistration(ctx, "user-1", "laptop", AttachmentAny)
	require.NoError(t, err)

	response := attest(t, rp, authenticator, credential, options)
	_, err = svc.FinishRegistration(ctx, "user-1", "laptop", response)
	require.NoError(t, err)

	// Same response again; the challenge was already consumed
	_, err = svc.FinishRegistration(ctx, "user-1", "laptop", response)
	assert.ErrorIs(t, err, ErrUnknownChallenge)
}

func TestIntegration_AssertionReplayRejected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, _, _ := testService(t, cfg)
	rp := testRelyingParty(cfg)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	enroll(t, svc, rp, &authenticator, credential, "user-1", "laptop")

	options, err := svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)

	response := assertAgainst(t, rp, authenticator, credential, options)
	_, err = svc.FinishAuthentication(ctx, response)
	require.NoError(t, err)

	_, err = svc.FinishAuthentication(ctx, response)
	assert.ErrorIs(t, err, ErrUnknownChallenge)
}

func TestIntegration_OriginMismatchRejected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, _, _ := testService(t, cfg)

	// The authenticator answers from an origin we never configured
	evil := virtualwebauthn.RelyingParty{
		Name:   cfg.RPDisplayName,
		ID:     cfg.RPID,
		Origin: "https://evil.example.net",
	}
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := svc.BeginRegistration(ctx, "user-1", "laptop", AttachmentAny)
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, "user-1", "laptop", attest(t, evil, authenticator, credential, options))
	assert.ErrorIs(t, err, ErrOriginMismatch)
}

func TestIntegration_AccountMismatchRejected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, _, _ := testService(t, cfg)
	rp := testRelyingParty(cfg)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// Challenge issued for one account, verification attempted for another
	options, err := svc.BeginRegistration(ctx, "user-1", "laptop", AttachmentAny)
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, "user-2", "laptop", attest(t, rp, authenticator, credential, options))
	assert.ErrorIs(t, err, ErrCeremonyMismatch)
}

func TestIntegration_CrossAccountAssertionRejected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, _, _ := testService(t, cfg)
	rp := testRelyingParty(cfg)

	authAlice := virtualwebauthn.NewAuthenticator()
	credAlice := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	enroll(t, svc, rp, &authAlice, credAlice, "alice", "laptop")

	authBob := virtualwebauthn.NewAuthenticator()
	credBob := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	enroll(t, svc, rp, &authBob, credBob, "bob", "laptop")

	// A challenge bound to alice answered with bob's credential
	options, err := svc.BeginAuthentication(ctx, "alice")
	require.NoError(t, err)

	_, err = svc.FinishAuthentication(ctx, assertAgainst(t, rp, authBob, credBob, options))
	assert.ErrorIs(t, err, ErrCeremonyMismatch)
}

func TestIntegration_DuplicateCredentialRejected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, _, _ := testService(t, cfg)
	rp := testRelyingParty(cfg)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	enroll(t, svc, rp, &authenticator, credential, "user-1", "laptop")

	// The same physical credential presented for a different account
	options, err := svc.BeginRegistration(ctx, "user-2", "laptop", AttachmentAny)
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, "user-2", "laptop", attest(t, rp, authenticator, credential, options))
	assert.ErrorIs(t, err, ErrDuplicateCredential)
}

func TestIntegration_SignCountAdvances(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, _, _ := testService(t, cfg)
	rp := testRelyingParty(cfg)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	enrolled := enroll(t, svc, rp, &authenticator, credential, "user-1", "laptop")
	assert.Equal(t, uint32(0), enrolled.SignCount)

	// The virtual authenticator signs with whatever counter the credential
	// carries; advance it by hand like a hardware key would
	for i := uint32(1); i <= 3; i++ {
		credential.Counter++

		options, err := svc.BeginAuthentication(ctx, "user-1")
		require.NoError(t, err)

		result, err := svc.FinishAuthentication(ctx, assertAgainst(t, rp, authenticator, credential, options))
		require.NoError(t, err)
		assert.Equal(t, i, result.Credential.SignCount)
	}

	creds, err := svc.Credentials(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, uint32(3), creds[0].SignCount)
}

func TestIntegration_CounterRegressionRejected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, store, _ := testService(t, cfg)
	rp := testRelyingParty(cfg)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	enrolled := enroll(t, svc, rp, &authenticator, credential, "user-1", "laptop")

	// Simulate prior authentications that left the stored counter ahead of
	// what this authenticator will report
	require.NoError(t, store.BumpCounter(ctx, enrolled.ID, 100))

	options, err := svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)

	_, err = svc.FinishAuthentication(ctx, assertAgainst(t, rp, authenticator, credential, options))
	assert.ErrorIs(t, err, ErrCounterRegression)

	// The stored counter is untouched
	got, err := store.GetByID(ctx, enrolled.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), got.SignCount)
}

func TestIntegration_ExpiredChallengeRejected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, _, _ := testService(t, cfg)
	rp := testRelyingParty(cfg)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// Issue the challenge in the past so its TTL has already elapsed
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	options, err := svc.BeginRegistration(ctx, "user-1", "laptop", AttachmentAny)
	require.NoError(t, err)
	svc.now = time.Now

	_, err = svc.FinishRegistration(ctx, "user-1", "laptop", attest(t, rp, authenticator, credential, options))
	assert.ErrorIs(t, err, ErrUnknownChallenge)
}

func TestIntegration_TokenIssuedOnAuthentication(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuer, err := NewJWTIssuer(&JWTIssuerConfig{
		PrivateKey: key,
		Issuer:     "test-issuer",
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Config:          cfg,
		CredentialStore: NewMemoryCredentialStore(),
		ChallengeLedger: NewMemoryChallengeLedger(time.Minute),
		TokenIssuer:     issuer,
	})
	require.NoError(t, err)

	rp := testRelyingParty(cfg)
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	enrolled := enroll(t, svc, rp, &authenticator, credential, "user-1", "laptop")

	options, err := svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)

	result, err := svc.FinishAuthentication(ctx, assertAgainst(t, rp, authenticator, credential, options))
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)

	claims, err := issuer.VerifyToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, enrolled.EncodedID(), claims["cred"])
}

func TestIntegration_RemoveCredential(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, _, _ := testService(t, cfg)
	rp := testRelyingParty(cfg)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	enrolled := enroll(t, svc, rp, &authenticator, credential, "user-1", "laptop")

	require.NoError(t, svc.RemoveCredential(ctx, enrolled.ID))

	// With no credentials left, an identified ceremony cannot start
	_, err := svc.BeginAuthentication(ctx, "user-1")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}
