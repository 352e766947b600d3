package main

import (
	"Go_Drop/config"
	"Go_Drop/utils"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var cmdToken = &cobra.Command{
	Use:   "token <owner-id>",
	Short: "Mint an owner token for the drop API",
	Long: `Mint an owner token for the drop API.

The token is signed with JWT_SECRET (read from the environment or .env) unless
--secret is given. Pass it as "Authorization: Bearer <token>".
`,
	Example: `$ token alice
$ token alice --ttl=720h
`,
	RunE:         mintToken,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
}

func init() {
	cmdToken.Flags().Duration("ttl", 24*time.Hour, "How long the token stays valid")
	cmdToken.Flags().String("secret", "", "Signing secret; defaults to JWT_SECRET")
}

func mintToken(cmd *cobra.Command, args []string) error {
	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	secret, err := cmd.Flags().GetString("secret")
	if err != nil {
		return err
	}
	if secret == "" {
		secret = config.Load().JWTSecret
	}

	token, err := utils.GenerateToken(secret, args[0], ttl)
	if err != nil {
		return fmt.Errorf("could not mint token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func main() {
	if err := cmdToken.Execute(); err != nil {
		os.Exit(1)
	}
}
