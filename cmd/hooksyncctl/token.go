package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"hooksync/internal/platform/auth"
)

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			token, err := auth.NewTokenService(c.cfg.JWT).GenerateToken(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Who the token is issued to")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "Role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime; defaults to jwt.access_token_ttl")
	return cmd
}
