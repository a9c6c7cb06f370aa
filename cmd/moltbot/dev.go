//go:build dev

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	devCommands = append(devCommands, newKeygenCmd())
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "[dev] Generate a fresh MOLTBOT_MASTER_KEY",
		Long: `Generate 32 random bytes and print them hex-encoded for use as
MOLTBOT_MASTER_KEY.

NOTE: This command is only available in dev builds (go build -tags dev).
In production TEE environments, the master key is provisioned by the
deployment platform and never generated on the guest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var key [32]byte
			if _, err := rand.Read(key[:]); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key[:]))
			return nil
		},
	}
}
