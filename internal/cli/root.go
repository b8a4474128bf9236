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

// Package cli implements the passkey-admin command line interface for
// inspecting and managing the credential store.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "passkey-admin",
	Short: "go-passkey admin CLI - Credential store management tool",
	Long: `passkey-admin provides a command-line interface for inspecting and
managing the passkey credential store: listing enrolled credentials,
removing lost or compromised authenticators, and reaping expired
challenges.

The CLI operates directly on the SQLite store used by passkey-server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "passkey.db",
		"path to the SQLite credential store")
	rootCmd.PersistentFlags().StringP("output", "o", "text",
		"output format (text, json)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false,
		"verbose output")

	// Environment variables override flag defaults (PASSKEY_DB, etc.)
	viper.SetEnvPrefix("PASSKEY")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(challengesCmd)
}

// handleError prints an error and exits with code 1
func handleError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
