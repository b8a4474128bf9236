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

// Package passkey implements the ceremony and credential-store engine for
// passwordless (WebAuthn/passkey) authentication.
//
// The engine issues single-use challenges, builds the option payloads that
// drive the client-side key ceremony, verifies the ceremony responses, and
// maintains a per-account registry of enrolled credentials. It deliberately
// stops there: the browser/authenticator ceremony, account management, and
// post-authentication session issuance all live outside this package and
// talk to it through narrow seams.
//
// Architecture:
//
//   - Service is the entry point. BeginRegistration/BeginAuthentication
//     build ceremony options around a freshly minted challenge;
//     FinishRegistration/FinishAuthentication verify the response that
//     eventually comes back.
//   - ChallengeLedger tracks outstanding challenges. Consume is atomic and
//     single-use; a challenge can never be checked twice. This is the
//     replay-prevention boundary.
//   - CredentialStore is the durable registry. Credential IDs are unique
//     across the whole store and signature counters only move forward.
//
// The two stores are interfaces so callers can bring their own persistence;
// in-memory implementations ship in this package and a SQLite-backed pair
// lives in the sqlite subpackage.
//
// Basic usage:
//
//	svc, err := passkey.NewService(passkey.ServiceParams{
//	    Config: &passkey.Config{
//	        RPID:          "example.com",
//	        RPDisplayName: "Example Corp",
//	        RPOrigins:     []string{"https://example.com"},
//	    },
//	    CredentialStore: passkey.NewMemoryCredentialStore(),
//	    ChallengeLedger: passkey.NewMemoryChallengeLedger(60 * time.Second),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	options, err := svc.BeginRegistration(ctx, accountID, "Alice", passkey.AttachmentAny)
//	// ... ship options to the client, run the ceremony, post the response back ...
//	cred, err := svc.FinishRegistration(ctx, responseJSON, accountID, "Alice's key")
package passkey
