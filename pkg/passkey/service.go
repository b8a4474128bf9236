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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-passkey/pkg/metrics"
)

// Service provides passkey registration and authentication ceremonies.
// Accounts are owned by the caller; the service only tracks credentials and
// pending challenges.
type Service struct {
	webauthn   *webauthn.WebAuthn
	config     *Config
	creds      CredentialStore
	ledger     ChallengeLedger
	tokens     TokenIssuer // optional
	logger     *slog.Logger
	now        func() time.Time
	configured bool
}

// ServiceParams contains dependencies for creating a passkey service.
type ServiceParams struct {
	// Config is the relying party configuration (required).
	Config *Config

	// CredentialStore is the credential persistence layer (required).
	CredentialStore CredentialStore

	// ChallengeLedger tracks outstanding challenges (required).
	ChallengeLedger ChallengeLedger

	// TokenIssuer is an optional post-authentication token hook.
	// If nil, AuthResult.Token is empty after authentication.
	TokenIssuer TokenIssuer

	// Logger receives security relevant events. Defaults to slog.Default().
	Logger *slog.Logger
}

// AuthResult is the outcome of a successful authentication ceremony.
type AuthResult struct {
	// AccountID is the proven account identity.
	AccountID string `json:"account_id"`

	// Credential is the credential that signed the assertion, with its
	// counter and last-used timestamp already updated.
	Credential *Credential `json:"credential"`

	// Token is the issued token, if a TokenIssuer is configured.
	Token string `json:"token,omitempty"`
}

// NewService creates a new passkey service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.CredentialStore == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if params.ChallengeLedger == nil {
		return nil, fmt.Errorf("challenge ledger is required")
	}

	// Set defaults and validate
	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Create the go-webauthn instance
	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		webauthn:   wa,
		config:     params.Config,
		creds:      params.CredentialStore,
		ledger:     params.ChallengeLedger,
		tokens:     params.TokenIssuer,
		logger:     logger,
		now:        time.Now,
		configured: true,
	}, nil
}

// BeginRegistration starts a registration ceremony for an account.
// Returns the credential creation options to be sent to the client. The
// embedded challenge is recorded in the ledger and must come back in the
// verification response before ChallengeTTL elapses.
func (s *Service) BeginRegistration(ctx context.Context, accountID, label string, attachment Attachment) (*protocol.CredentialCreation, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	if accountID == "" {
		return nil, NewError("begin registration", fmt.Errorf("account ID is required"))
	}

	// Existing credentials become the exclude list so an authenticator
	// already enrolled for this account refuses to re-enroll.
	existing, err := s.creds.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, WrapError("list credentials", err)
	}
	excludeList := make([]protocol.CredentialDescriptor, len(existing))
	for i, cred := range existing {
		excludeList[i] = cred.Descriptor()
	}

	handle := &accountHandle{id: accountID, label: label, credentials: existing}

	options, session, err := s.webauthn.BeginRegistration(handle,
		webauthn.WithExclusions(excludeList),
		webauthn.WithAuthenticatorSelection(s.config.authenticatorSelection(attachment)),
	)
	if err != nil {
		return nil, WrapError("begin registration", err)
	}

	rebased, err := s.mintChallenge(session)
	if err != nil {
		return nil, WrapError("begin registration", err)
	}
	options.Response.Challenge = rebased

	entry := &PendingChallenge{
		Challenge: session.Challenge,
		Operation: OperationRegistration,
		AccountID: accountID,
		Session:   *session,
		ExpiresAt: s.now().Add(s.config.ChallengeTTL),
	}
	if err := s.ledger.Open(ctx, entry); err != nil {
		return nil, WrapError("open challenge", err)
	}

	return options, nil
}

// FinishRegistration completes a registration ceremony. The response must
// reference a challenge issued by BeginRegistration for the same account.
// On success the new credential is stored and returned.
func (s *Service) FinishRegistration(ctx context.Context, accountID, label string, responseJSON []byte) (*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	start := s.now()

	parsed, err := protocol.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		s.recordFailure(metrics.OpRegistration, ErrMalformedResponse, start)
		return nil, NewError("parse registration response", errors.Join(ErrMalformedResponse, err))
	}

	entry, err := s.consume(ctx, parsed.Response.CollectedClientData.Challenge, metrics.OpRegistration, start)
	if err != nil {
		return nil, err
	}

	if entry.Operation != OperationRegistration || entry.AccountID != accountID {
		s.recordFailure(metrics.OpRegistration, ErrCeremonyMismatch, start)
		return nil, NewError("finish registration", ErrCeremonyMismatch)
	}

	if !s.originAllowed(parsed.Response.CollectedClientData.Origin) {
		s.recordFailure(metrics.OpRegistration, ErrOriginMismatch, start)
		return nil, NewError("finish registration", ErrOriginMismatch)
	}

	handle := &accountHandle{id: accountID, label: label}
	credential, err := s.webauthn.CreateCredential(handle, entry.Session, parsed)
	if err != nil {
		s.recordFailure(metrics.OpRegistration, ErrSignatureInvalid, start)
		return nil, NewError("create credential", errors.Join(ErrSignatureInvalid, err))
	}

	cred := newCredential(accountID, label, credential, s.now())
	if err := s.creds.Insert(ctx, cred); err != nil {
		s.recordFailure(metrics.OpRegistration, err, start)
		return nil, WrapError("insert credential", err)
	}

	metrics.RecordCeremony(metrics.OpRegistration, metrics.StatusSuccess, s.now().Sub(start).Seconds())
	s.logger.Info("credential registered",
		"account_id", accountID,
		"credential_id", cred.EncodedID(),
		"label", label)

	return cred, nil
}

// BeginAuthentication starts an authentication ceremony. When accountID is
// non-empty the options carry an allow list of that account's credentials
// and the challenge is bound to the account. When accountID is empty the
// ceremony is discoverable and any enrolled passkey may answer.
func (s *Service) BeginAuthentication(ctx context.Context, accountID string) (*protocol.CredentialAssertion, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	var options *protocol.CredentialAssertion
	var session *webauthn.SessionData
	var err error

	if accountID == "" {
		// Discoverable credentials flow
		options, session, err = s.webauthn.BeginDiscoverableLogin()
	} else {
		// Account-identified flow
		creds, credErr := s.creds.ListByAccount(ctx, accountID)
		if credErr != nil {
			return nil, WrapError("list credentials", credErr)
		}
		if len(creds) == 0 {
			return nil, NewError("begin authentication", ErrCredentialNotFound)
		}

		handle := &accountHandle{id: accountID, credentials: creds}
		options, session, err = s.webauthn.BeginLogin(handle)
	}

	if err != nil {
		return nil, WrapError("begin authentication", err)
	}

	rebased, err := s.mintChallenge(session)
	if err != nil {
		return nil, WrapError("begin authentication", err)
	}
	options.Response.Challenge = rebased

	entry := &PendingChallenge{
		Challenge: session.Challenge,
		Operation: OperationAuthentication,
		AccountID: accountID,
		Session:   *session,
		ExpiresAt: s.now().Add(s.config.ChallengeTTL),
	}
	if err := s.ledger.Open(ctx, entry); err != nil {
		return nil, WrapError("open challenge", err)
	}

	return options, nil
}

// FinishAuthentication completes an authentication ceremony and proves which
// account signed the assertion. The credential's signature counter is
// bumped; a counter at or below the stored value aborts the ceremony.
func (s *Service) FinishAuthentication(ctx context.Context, responseJSON []byte) (*AuthResult, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	start := s.now()

	parsed, err := protocol.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		s.recordFailure(metrics.OpAuthentication, ErrMalformedResponse, start)
		return nil, NewError("parse authentication response", errors.Join(ErrMalformedResponse, err))
	}

	entry, err := s.consume(ctx, parsed.Response.CollectedClientData.Challenge, metrics.OpAuthentication, start)
	if err != nil {
		return nil, err
	}

	if entry.Operation != OperationAuthentication {
		s.recordFailure(metrics.OpAuthentication, ErrCeremonyMismatch, start)
		return nil, NewError("finish authentication", ErrCeremonyMismatch)
	}

	if !s.originAllowed(parsed.Response.CollectedClientData.Origin) {
		s.recordFailure(metrics.OpAuthentication, ErrOriginMismatch, start)
		return nil, NewError("finish authentication", ErrOriginMismatch)
	}

	cred, err := s.creds.GetByID(ctx, parsed.RawID)
	if err != nil {
		s.recordFailure(metrics.OpAuthentication, err, start)
		return nil, WrapError("get credential", err)
	}

	// A challenge bound to an account may only be answered by that
	// account's credentials.
	if entry.AccountID != "" && entry.AccountID != cred.AccountID {
		s.recordFailure(metrics.OpAuthentication, ErrCeremonyMismatch, start)
		return nil, NewError("finish authentication", ErrCeremonyMismatch)
	}

	verified, err := s.validateAssertion(ctx, entry, cred, parsed)
	if err != nil {
		s.recordFailure(metrics.OpAuthentication, ErrSignatureInvalid, start)
		s.logger.Warn("assertion verification failed",
			"account_id", cred.AccountID,
			"credential_id", cred.EncodedID(),
			"error", err)
		return nil, NewError("validate assertion", errors.Join(ErrSignatureInvalid, err))
	}

	if verified.Authenticator.CloneWarning {
		metrics.RecordSecurityEvent(metrics.EventCloneWarning)
		s.recordFailure(metrics.OpAuthentication, ErrCounterRegression, start)
		s.logger.Warn("authenticator clone warning",
			"account_id", cred.AccountID,
			"credential_id", cred.EncodedID(),
			"stored_count", cred.SignCount,
			"reported_count", verified.Authenticator.SignCount)
		return nil, NewError("finish authentication", ErrCounterRegression)
	}

	if err := s.bumpCounter(ctx, cred, verified.Authenticator.SignCount); err != nil {
		s.recordFailure(metrics.OpAuthentication, err, start)
		return nil, WrapError("bump counter", err)
	}
	cred.SignCount = verified.Authenticator.SignCount
	cred.LastUsedAt = s.now().UTC()

	result := &AuthResult{
		AccountID:  cred.AccountID,
		Credential: cred,
	}
	if s.tokens != nil {
		token, tokenErr := s.tokens.IssueToken(ctx, cred.AccountID, cred)
		if tokenErr != nil {
			s.recordFailure(metrics.OpAuthentication, tokenErr, start)
			return nil, WrapError("issue token", tokenErr)
		}
		result.Token = token
	}

	metrics.RecordCeremony(metrics.OpAuthentication, metrics.StatusSuccess, s.now().Sub(start).Seconds())
	s.logger.Info("authentication succeeded",
		"account_id", cred.AccountID,
		"credential_id", cred.EncodedID())

	return result, nil
}

// Credentials retrieves all credentials enrolled for an account.
func (s *Service) Credentials(ctx context.Context, accountID string) ([]*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.creds.ListByAccount(ctx, accountID)
}

// RemoveCredential removes a credential by its ID.
func (s *Service) RemoveCredential(ctx context.Context, credentialID []byte) error {
	if !s.configured {
		return ErrNotConfigured
	}
	return s.creds.Delete(ctx, credentialID)
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// mintChallenge replaces the library-generated challenge with one minted by
// GenerateChallenge, keeping the wire options and the stored session in
// agreement. The ledger keys on the encoded form.
func (s *Service) mintChallenge(session *webauthn.SessionData) (protocol.URLEncodedBase64, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return nil, err
	}
	raw, err := DecodeChallenge(challenge)
	if err != nil {
		return nil, err
	}
	session.Challenge = challenge
	return protocol.URLEncodedBase64(raw), nil
}

// consume resolves a response's challenge against the ledger. Unknown,
// already-consumed, and expired challenges are indistinguishable to the
// caller; all are replay attempts from the ledger's point of view.
func (s *Service) consume(ctx context.Context, challenge string, operation string, start time.Time) (*PendingChallenge, error) {
	entry, err := s.ledger.Consume(ctx, challenge)
	if err != nil {
		if IsUnknownChallenge(err) {
			metrics.RecordSecurityEvent(metrics.EventReplayAttempt)
			s.logger.Warn("unknown or replayed challenge", "operation", operation)
		}
		s.recordFailure(operation, err, start)
		return nil, WrapError("consume challenge", err)
	}
	return entry, nil
}

// validateAssertion runs the library verification for either flow. The
// discoverable path resolves the account from the credential the client
// chose; the identified path uses the account bound at begin time.
func (s *Service) validateAssertion(ctx context.Context, entry *PendingChallenge, cred *Credential, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	if entry.AccountID == "" {
		return s.webauthn.ValidateDiscoverableLogin(
			func(rawID, userHandle []byte) (webauthn.User, error) {
				owned, err := s.creds.GetByID(ctx, rawID)
				if err != nil {
					return nil, err
				}
				creds, err := s.creds.ListByAccount(ctx, owned.AccountID)
				if err != nil {
					return nil, err
				}
				return &accountHandle{id: owned.AccountID, credentials: creds}, nil
			},
			entry.Session,
			parsed,
		)
	}

	creds, err := s.creds.ListByAccount(ctx, entry.AccountID)
	if err != nil {
		return nil, err
	}
	handle := &accountHandle{id: entry.AccountID, credentials: creds}
	return s.webauthn.ValidateLogin(handle, entry.Session, parsed)
}

// bumpCounter advances the stored signature counter. Authenticators that do
// not implement a counter report zero forever; the stores accept that case
// as a timestamp-only update, so every successful assertion reaches the
// store and the last-used timestamp is persisted either way.
func (s *Service) bumpCounter(ctx context.Context, cred *Credential, reported uint32) error {
	if err := s.creds.BumpCounter(ctx, cred.ID, reported); err != nil {
		if errors.Is(err, ErrCounterRegression) {
			metrics.RecordSecurityEvent(metrics.EventCounterRegression)
			s.logger.Warn("signature counter regression",
				"account_id", cred.AccountID,
				"credential_id", cred.EncodedID(),
				"stored_count", cred.SignCount,
				"reported_count", reported)
		}
		return err
	}
	return nil
}

// recordFailure maps an error to its metric reason and records the failed
// ceremony.
func (s *Service) recordFailure(operation string, err error, start time.Time) {
	reason := metrics.ReasonInternal
	switch {
	case errors.Is(err, ErrUnknownChallenge):
		reason = metrics.ReasonUnknownChallenge
	case errors.Is(err, ErrCeremonyMismatch):
		reason = metrics.ReasonCeremonyMismatch
	case errors.Is(err, ErrOriginMismatch):
		reason = metrics.ReasonOriginMismatch
	case errors.Is(err, ErrMalformedResponse):
		reason = metrics.ReasonMalformed
	case errors.Is(err, ErrDuplicateCredential):
		reason = metrics.ReasonDuplicate
	case errors.Is(err, ErrCredentialNotFound):
		reason = metrics.ReasonNotFound
	case errors.Is(err, ErrCounterRegression):
		reason = metrics.ReasonCounter
	case errors.Is(err, ErrSignatureInvalid):
		reason = metrics.ReasonBadSignature
	}
	if errors.Is(err, ErrSignatureInvalid) {
		metrics.RecordSecurityEvent(metrics.EventSignatureFailure)
	}
	metrics.RecordVerifyFailure(operation, reason)
	metrics.RecordCeremony(operation, metrics.StatusError, s.now().Sub(start).Seconds())
}

// originAllowed reports whether a client data origin matches a configured
// relying party origin.
func (s *Service) originAllowed(origin string) bool {
	for _, allowed := range s.config.RPOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
