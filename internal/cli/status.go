package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show saved credentials and gateway reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			if cfg.APIKey == "" {
				fmt.Println("Not logged in. Run `tunnelforge login <api-key>`.")
				return nil
			}

			gatewayURL := cfg.GatewayURL
			if gatewayURL == "" {
				gatewayURL = defaultGatewayURL
			}
			fmt.Printf("Gateway: %s\n", gatewayURL)

			health, err := fetchHealth(gatewayURL)
			if err != nil {
				fmt.Printf("Status:  unreachable (%v)\n", err)
				return nil
			}
			fmt.Printf("Status:  ok (%d active tunnels)\n", health.Tunnels)
			return nil
		},
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Tunnels int    `json:"tunnels"`
}

func fetchHealth(gatewayURL string) (*healthResponse, error) {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get(strings.TrimSuffix(gatewayURL, "/") + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}
