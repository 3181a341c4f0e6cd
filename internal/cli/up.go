package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunnelforge/tunnelforge/internal/client"
)

func newUpCmd() *cobra.Command {
	var (
		token       string
		gatewayURL  string
		name        string
		inspect     bool
		inspectPort int
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "up <port>",
		Short: "Start a tunnel to a local port",
		Example: "  tunnelforge up 3000\n" +
			"  tunnelforge up 3000 --name my-app --inspect-port 4041",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid local port %q: %w", args[0], err)
			}

			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			apiKey := token
			if apiKey == "" {
				apiKey = cfg.APIKey
			}
			if apiKey == "" {
				return fmt.Errorf("no API key: run `tunnelforge login` or pass --token")
			}

			if gatewayURL == "" {
				gatewayURL = cfg.GatewayURL
			}
			if gatewayURL == "" {
				gatewayURL = defaultGatewayURL
			}

			if name == "" {
				name = fmt.Sprintf("tunnel-%d", port)
			}

			return runUp(cmd.Context(), runUpOptions{
				localAddr:   fmt.Sprintf("http://localhost:%d", port),
				gatewayURL:  gatewayURL,
				name:        name,
				port:        port,
				apiKey:      apiKey,
				inspect:     inspect,
				inspectPort: inspectPort,
				quiet:       quiet,
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "API token (overrides saved credentials)")
	cmd.Flags().StringVar(&gatewayURL, "gateway", "", "Gateway base URL (default "+defaultGatewayURL+")")
	cmd.Flags().StringVar(&name, "name", "", "Tunnel name (default derived from the port)")
	cmd.Flags().BoolVar(&inspect, "inspect", true, "Enable the local request inspector")
	cmd.Flags().IntVar(&inspectPort, "inspect-port", 4040, "Local inspector port")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Minimal output")

	return cmd
}

type runUpOptions struct {
	localAddr   string
	gatewayURL  string
	name        string
	port        int
	apiKey      string
	inspect     bool
	inspectPort int
	quiet       bool
}

func runUp(ctx context.Context, opts runUpOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(opts.localAddr, opts.gatewayURL, opts.name, opts.port)

	printf(opts.quiet, "Creating tunnel...\n")
	publicURL, err := c.CreateTunnel(ctx, opts.apiKey)
	if err != nil {
		return fmt.Errorf("create tunnel: %w", err)
	}

	if opts.inspect {
		addr := fmt.Sprintf("127.0.0.1:%d", opts.inspectPort)
		go func() {
			if err := http.ListenAndServe(addr, c.Inspector); err != nil && !opts.quiet {
				fmt.Printf("inspector server stopped: %v\n", err)
			}
		}()
		printf(opts.quiet, "Inspector running at http://%s\n", addr)
	}

	c.SetOnReady(func() {
		printf(opts.quiet, "Tunnel ready: %s -> %s\n", publicURL, opts.localAddr)
		printf(opts.quiet, "Press Ctrl+C to stop\n")
	})

	if err := c.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("tunnel error: %w", err)
	}
	return nil
}
