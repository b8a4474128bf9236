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

// Package sqlite provides a durable CredentialStore and ChallengeLedger
// backed by SQLite. Credentials survive restarts; pending challenges do
// too, which lets a ceremony started before a restart still verify.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    id           TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    payload      TEXT NOT NULL,
    sign_count   INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL,
    last_used_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_credentials_account ON credentials(account_id);

CREATE TABLE IF NOT EXISTS pending_challenges (
    challenge  TEXT PRIMARY KEY,
    payload    TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_expires ON pending_challenges(expires_at);
`

// Store implements passkey.CredentialStore and passkey.ChallengeLedger on
// a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates a SQLite store at the given path. Use ":memory:"
// for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a new credential. Returns passkey.ErrDuplicateCredential
// if the credential ID is already present.
func (s *Store) Insert(ctx context.Context, cred *passkey.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	var lastUsed sql.NullInt64
	if !cred.LastUsedAt.IsZero() {
		lastUsed = sql.NullInt64{Int64: cred.LastUsedAt.UnixMilli(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, account_id, payload, sign_count, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		hex.EncodeToString(cred.ID), cred.AccountID, string(payload),
		cred.SignCount, cred.CreatedAt.UnixMilli(), lastUsed)
	if err != nil {
		if isUniqueViolation(err) {
			return passkey.ErrDuplicateCredential
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetByID retrieves a credential by its ID.
func (s *Store) GetByID(ctx context.Context, credentialID []byte) (*passkey.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT payload, sign_count, last_used_at FROM credentials WHERE id = ?`,
		hex.EncodeToString(credentialID))
	return scanCredential(row)
}

// ListByAccount retrieves all credentials enrolled for an account, oldest
// first.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]*passkey.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, sign_count, last_used_at FROM credentials
		 WHERE account_id = ? ORDER BY created_at ASC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	creds := []*passkey.Credential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// BumpCounter records a new signature counter value. The guarded UPDATE
// enforces strict monotonicity; a stale write affects zero rows and is
// reported as a regression. A zero-to-zero bump is a counter-less
// authenticator reporting in; it refreshes the last-used timestamp without
// touching the counter.
func (s *Store) BumpCounter(ctx context.Context, credentialID []byte, newCount uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := hex.EncodeToString(credentialID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ?, last_used_at = ?
		 WHERE id = ? AND (sign_count < ? OR (sign_count = 0 AND ? = 0))`,
		newCount, s.now().UnixMilli(), key, newCount, newCount)
	if err != nil {
		return fmt.Errorf("bump counter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump counter: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM credentials WHERE id = ?`, key).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return passkey.ErrCredentialNotFound
			}
			return fmt.Errorf("bump counter: %w", err)
		}
		return passkey.ErrCounterRegression
	}
	return nil
}

// Delete removes a credential by its ID.
func (s *Store) Delete(ctx context.Context, credentialID []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE id = ?`, hex.EncodeToString(credentialID))
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if affected == 0 {
		return passkey.ErrCredentialNotFound
	}
	return nil
}

// Open records a freshly issued challenge.
func (s *Store) Open(ctx context.Context, entry *passkey.PendingChallenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !passkey.ValidChallenge(entry.Challenge) {
		return passkey.WrapError("open challenge", passkey.ErrMalformedResponse)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal challenge entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_challenges (challenge, payload, expires_at) VALUES (?, ?, ?)`,
		entry.Challenge, string(payload), entry.ExpiresAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return passkey.ErrChallengeExists
		}
		return fmt.Errorf("open challenge: %w", err)
	}
	return nil
}

// Consume atomically looks up and deletes the entry for a challenge. The
// guarded DELETE guarantees a single winner under concurrent consumers;
// expiry is evaluated here rather than left to the reaper.
func (s *Store) Consume(ctx context.Context, challenge string) (*passkey.PendingChallenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`DELETE FROM pending_challenges WHERE challenge = ? RETURNING payload, expires_at`,
		challenge)

	var payload string
	var expiresAt int64
	if err := row.Scan(&payload, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, passkey.ErrUnknownChallenge
		}
		return nil, fmt.Errorf("consume challenge: %w", err)
	}

	var entry passkey.PendingChallenge
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal challenge entry: %w", err)
	}
	if entry.Expired(s.now()) {
		return nil, passkey.ErrUnknownChallenge
	}
	return &entry, nil
}

// CleanupExpired removes pending challenges past their expiry. Returns the
// number removed. Consume does not depend on this having run.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_challenges WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cleanup challenges: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup challenges: %w", err)
	}
	return int(affected), nil
}

// StartReaper launches a background goroutine that periodically removes
// expired challenges. The returned cancel function stops it.
func (s *Store) StartReaper(ctx context.Context, interval time.Duration) context.CancelFunc {
	reaperCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-reaperCtx.Done():
				return
			case <-ticker.C:
				_, _ = s.CleanupExpired(reaperCtx)
			}
		}
	}()
	return cancel
}

// CountCredentials returns the total number of stored credentials.
func (s *Store) CountCredentials(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return count, nil
}

// CountPending returns the number of pending challenges, including any
// past expiry that the reaper has not removed yet.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_challenges`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending challenges: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanCredential decodes a credential row. The JSON payload is the source
// of truth; the sign_count and last_used_at columns exist so BumpCounter
// can update without rewriting the payload.
func scanCredential(row rowScanner) (*passkey.Credential, error) {
	var payload string
	var signCount uint32
	var lastUsed sql.NullInt64
	if err := row.Scan(&payload, &signCount, &lastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, passkey.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	var cred passkey.Credential
	if err := json.Unmarshal([]byte(payload), &cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	cred.SignCount = signCount
	if lastUsed.Valid {
		cred.LastUsedAt = time.UnixMilli(lastUsed.Int64).UTC()
	}
	return &cred, nil
}

// isUniqueViolation reports whether an error is a SQLite unique constraint
// failure. Matched by message because modernc.org/sqlite does not export a
// typed error for it.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
