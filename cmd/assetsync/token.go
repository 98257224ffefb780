package main

import (
	"time"

	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/services"
	jwtpkg "github.com/fairwaygolf/assetsync/pkg/jwt"
	"github.com/spf13/cobra"
)

func newTokenCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Mint an admin worker token for automation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			auth := services.NewAuthService(nil, cfg)
			token, expiresAt, err := auth.IssueToken(args[0], jwtpkg.WorkerToken, ttl)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(map[string]any{"token": token, "token_type": "Bearer", "expires_at": expiresAt})
			}
			return writePlain("%s\n", token)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
