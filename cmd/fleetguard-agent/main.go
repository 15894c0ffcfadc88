// Package main is the entrypoint for the Fleetguard agent CLI.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MacJediWizard/fleetguard/internal/agent"
	"github.com/MacJediWizard/fleetguard/internal/config"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fleetguard-agent",
		Short: "Fleetguard device agent",
		Long: `Fleetguard Agent reports device liveness and health metrics to a
Fleetguard server.

Run 'fleetguard-agent register' to connect to a server.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRegisterCmd(),
		newConfigCmd(),
		newStatusCmd(),
		newActivateCmd(),
		newStartCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Fleetguard Agent %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func loadDefaultConfig() (*config.AgentConfig, string, error) {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadAgentConfig(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newRegisterCmd() *cobra.Command {
	var serverURL string
	var identifier string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this device with a Fleetguard server",
		Long: `Register this device with a Fleetguard server.

You will be prompted for an API key. The device identifier defaults to
the hostname and must match the identifier the server knows the device by.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(serverURL, identifier)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Fleetguard server URL (required)")
	cmd.Flags().StringVar(&identifier, "identifier", "", "Unique device identifier (defaults to hostname)")
	_ = cmd.MarkFlagRequired("server")

	return cmd
}

func runRegister(serverURL, identifier string) error {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server URL must use http or https scheme")
	}

	fmt.Print("Enter API key: ")
	reader := bufio.NewReader(os.Stdin)
	apiKey, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read API key: %w", err)
	}
	apiKey = strings.TrimSpace(apiKey)

	cfg, path, err := loadDefaultConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	hostname, _ := os.Hostname()
	if identifier == "" {
		identifier = hostname
	}
	if identifier == "" {
		return fmt.Errorf("could not determine device identifier, pass --identifier")
	}

	cfg.ServerURL = strings.TrimSuffix(serverURL, "/")
	cfg.APIKey = apiKey
	cfg.UniqueIdentifier = identifier
	cfg.Hostname = hostname
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = config.DefaultHeartbeatInterval
	}

	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Configuration saved to %s\n", path)
	fmt.Printf("Server: %s\n", cfg.ServerURL)
	fmt.Printf("Device: %s\n", cfg.UniqueIdentifier)
	fmt.Println("Registration complete. Run 'fleetguard-agent status' to verify connection.")

	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the current agent configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadDefaultConfig()
			if err != nil {
				return err
			}
			if !cfg.IsConfigured() {
				fmt.Println("Agent is not configured. Run 'fleetguard-agent register' first.")
				return nil
			}

			fmt.Printf("Config file: %s\n", path)
			fmt.Printf("Server:      %s\n", cfg.ServerURL)
			fmt.Printf("Device:      %s\n", cfg.UniqueIdentifier)
			fmt.Printf("Interval:    %s\n", cfg.HeartbeatInterval)
			if cfg.APIKey != "" {
				fmt.Println("API key:     (set)")
			} else {
				fmt.Println("API key:     (not set)")
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check connectivity to the Fleetguard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadDefaultConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("agent is not configured: %w", err)
			}

			client := agent.NewClient(cfg.ServerURL, cfg.APIKey)
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if err := client.CheckHealth(ctx); err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}
			fmt.Printf("Server %s is reachable.\n", cfg.ServerURL)
			return nil
		},
	}
}

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <license-key>",
		Short: "Activate a license key for this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadDefaultConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("agent is not configured: %w", err)
			}

			client := agent.NewClient(cfg.ServerURL, cfg.APIKey)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			license, err := client.ActivateLicense(ctx, args[0], cfg.UniqueIdentifier)
			if err != nil {
				return err
			}

			fmt.Printf("License %s activated (%s).\n", license.Key, license.Type)
			if license.ExpiresAt != nil {
				fmt.Printf("Expires: %s\n", license.ExpiresAt.Format(time.RFC1123))
			}
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the heartbeat loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadDefaultConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("agent is not configured: %w", err)
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

			client := agent.NewClient(cfg.ServerURL, cfg.APIKey)
			reporter := agent.NewReporter(client, agent.NewCollector(), cfg.UniqueIdentifier, Version, cfg.HeartbeatInterval, logger)

			reporter.Start()
			defer reporter.Stop()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigChan
			logger.Info().Str("signal", sig.String()).Msg("shutting down agent")

			return nil
		},
	}
}
