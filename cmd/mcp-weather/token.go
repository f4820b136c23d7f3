package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/txn2/mcp-weather/pkg/auth"
)

func newTokenCmd() *cobra.Command {
	var email, apiKey string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Exchange tenant credentials for a bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, dir, closeFn, err := openDirectory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			svc, err := auth.NewService(dir, auth.ServiceConfig{
				Secret:   []byte(cfg.Auth.JWTSecret),
				Issuer:   cfg.Auth.Issuer,
				TokenTTL: cfg.Auth.TokenTTL,
			})
			if err != nil {
				return err
			}
			resp, err := svc.Authenticate(cmd.Context(), email, apiKey)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Tenant email address")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Tenant API key")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("api-key")
	return cmd
}
