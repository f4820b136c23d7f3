package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/txn2/mcp-weather/pkg/tenant"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}
	cmd.AddCommand(newTenantAddCmd())
	return cmd
}

func newTenantAddCmd() *cobra.Command {
	var email, apiKey string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a tenant and print its API key",
		Long: `Register a tenant. When --api-key is omitted a random key is generated.
The key is printed once; only its bcrypt hash is stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, dir, closeFn, err := openDirectory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			if apiKey == "" {
				if apiKey, err = tenant.GenerateKey(); err != nil {
					return err
				}
			}
			t, err := tenant.New(email, apiKey)
			if err != nil {
				return err
			}
			if err := dir.Create(cmd.Context(), t); err != nil {
				return fmt.Errorf("creating tenant: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:      %s\n", t.ID)
			fmt.Fprintf(out, "email:   %s\n", t.Email)
			fmt.Fprintf(out, "api key: %s\n", apiKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Tenant email address")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key to assign (default: generated)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
