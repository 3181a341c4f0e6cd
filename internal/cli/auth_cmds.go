package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "login <api-key>",
		Short: "Save an API key for use by `tunnelforge up`",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			cfg.APIKey = args[0]
			if gatewayURL != "" {
				cfg.GatewayURL = gatewayURL
			}

			if err := SaveConfig(cfg); err != nil {
				return err
			}

			fmt.Println("Credentials saved.")
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", "", "Gateway base URL to save alongside the key")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear saved credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := SaveConfig(&Config{}); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}
