package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/queue-router/internal/auth"
	"github.com/spec-kit/queue-router/internal/config"
)

func init() {
	tokenCmd.Flags().String("subject", "", "caller identity, e.g. typebot or a supervisor operator id")
	tokenCmd.Flags().String("scope", string(auth.ScopeAutomation), "automation, supervisor or admin")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed caller token for the internal API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.Auth.Enabled() {
			return errors.New("AUTH_JWT_SECRET is not set")
		}
		subject, _ := cmd.Flags().GetString("subject")
		rawScope, _ := cmd.Flags().GetString("scope")
		scope, err := auth.ParseScope(rawScope)
		if err != nil {
			return err
		}

		tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
		token, expiresAt, err := tokens.GenerateToken(subject, scope)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
		return nil
	},
}
