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

package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	"github.com/jeremyhahn/go-passkey/pkg/passkey/sqlite"
)

// credentialsCmd groups credential store operations
var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage stored credentials",
	Long: `Commands for inspecting and managing enrolled passkey credentials.

Example:
  passkey-admin credentials list --account user-42
  passkey-admin credentials remove pQECAyY...`,
}

// credentialsListCmd lists credentials for an account
var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials enrolled for an account",
	Run: func(cmd *cobra.Command, args []string) {
		accountID, _ := cmd.Flags().GetString("account")
		if accountID == "" {
			handleError(fmt.Errorf("--account is required"))
			return
		}

		store := openStore()
		defer func() { _ = store.Close() }()

		creds, err := store.ListByAccount(context.Background(), accountID)
		if err != nil {
			handleError(err)
			return
		}

		if viper.GetString("output") == "json" {
			_ = json.NewEncoder(os.Stdout).Encode(creds)
			return
		}

		if len(creds) == 0 {
			fmt.Printf("No credentials enrolled for account %s\n", accountID)
			return
		}
		for _, cred := range creds {
			lastUsed := "never"
			if !cred.LastUsedAt.IsZero() {
				lastUsed = cred.LastUsedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s\n", cred.EncodedID())
			fmt.Printf("  label:       %s\n", cred.Label)
			fmt.Printf("  sign count:  %d\n", cred.SignCount)
			fmt.Printf("  created:     %s\n", cred.CreatedAt.Format(time.RFC3339))
			fmt.Printf("  last used:   %s\n", lastUsed)
		}
	},
}

// credentialsRemoveCmd removes a credential by its base64url ID
var credentialsRemoveCmd = &cobra.Command{
	Use:   "remove <credential-id>",
	Short: "Remove a credential by its base64url-encoded ID",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		credID, err := base64.RawURLEncoding.DecodeString(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid credential ID encoding: %w", err))
			return
		}

		store := openStore()
		defer func() { _ = store.Close() }()

		if err := store.Delete(context.Background(), credID); err != nil {
			if passkey.IsCredentialNotFound(err) {
				handleError(fmt.Errorf("credential not found"))
				return
			}
			handleError(err)
			return
		}
		fmt.Println("Credential removed")
	},
}

// challengesCmd groups challenge ledger operations
var challengesCmd = &cobra.Command{
	Use:   "challenges",
	Short: "Manage the pending challenge ledger",
}

// challengesReapCmd removes expired pending challenges
var challengesReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Remove expired pending challenges",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer func() { _ = store.Close() }()

		removed, err := store.CleanupExpired(context.Background())
		if err != nil {
			handleError(err)
			return
		}
		fmt.Printf("Removed %d expired challenges\n", removed)
	},
}

func init() {
	credentialsListCmd.Flags().String("account", "", "account ID to list credentials for")
	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsRemoveCmd)
	challengesCmd.AddCommand(challengesReapCmd)
}

// openStore opens the SQLite store named by the --db flag.
func openStore() *sqlite.Store {
	path := viper.GetString("db")
	printVerbose("Using credential store at: %s", path)
	store, err := sqlite.Open(path)
	if err != nil {
		handleError(err)
	}
	return store
}
