package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/auth"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/config"
)

func newTokenCmd() *cobra.Command {
	var email, secret, issuer string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for local testing of the API and WebSocket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				secret = cfg.Security.JWTSecret
				if issuer == "" {
					issuer = cfg.Security.JWTIssuer
				}
			}
			if secret == "" {
				return fmt.Errorf("no JWT secret configured; pass --secret")
			}
			token, err := auth.NewJWTService(secret, auth.WithIssuer(issuer)).GenerateToken(args[0], email)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			printf(cmd.OutOrStdout(), "%s\n", token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&issuer, "issuer", "", "Issuer claim (defaults to security.jwt_issuer)")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to security.jwt_secret)")
	return cmd
}
