// Package main is the rotodns CLI: it runs rotation passes against a
// configuration file, either once (for cron) or in a loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rotodns/rotodns/internal/cloudflare"
	"github.com/rotodns/rotodns/internal/config"
	"github.com/rotodns/rotodns/internal/engine"
	"github.com/rotodns/rotodns/internal/history"
	"github.com/rotodns/rotodns/internal/logging"
	"github.com/rotodns/rotodns/internal/metrics"
	"github.com/rotodns/rotodns/internal/state"
)

var version = "1.0.0"

var (
	configPath   string
	loop         bool
	intervalFlag int
	checkAPI     bool
)

var rootCmd = &cobra.Command{
	Use:   "rotodns",
	Short: "DNS record IP rotation engine for Cloudflare zones",
	Long: `rotodns rotates the IPs behind DNS records on a schedule or when
usage triggers fire. It is designed to be invoked periodically (cron) or to
run its own loop. Run exactly one instance per state directory: the engine
does not coordinate between concurrent instances.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a rotation pass (or a loop of passes with --loop)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := logging.NewLogger(cfg.Settings.LogLevel)

		store, err := state.NewStore(cfg.Settings.StateDir, logger)
		if err != nil {
			return err
		}

		var hist *history.Store
		if cfg.Settings.HistoryDB != "" {
			hist, err = history.New(cfg.Settings.HistoryDB)
			if err != nil {
				return err
			}
			defer hist.Close() //nolint:errcheck
		}

		if err := metrics.Init(prometheus.DefaultRegisterer); err != nil {
			return err
		}

		eng := engine.New(cfg, store, hist, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !loop {
			return eng.RunPass(ctx)
		}

		interval := time.Duration(cfg.Settings.PassIntervalMinutes) * time.Minute
		if intervalFlag > 0 {
			interval = time.Duration(intervalFlag) * time.Minute
		}

		go func() {
			if err := eng.ServeStatus(ctx, cfg.Settings.StatusListenAddr); err != nil && err != context.Canceled {
				logger.Error("status listener failed", "error", err)
			}
		}()

		err = eng.Run(ctx, interval)
		if err == context.Canceled {
			logger.Info("shutting down")
			return nil
		}
		return err
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate a configuration file",
	Long: `Load and validate a configuration file. With --check-api, also verify
each account's token against the provider and confirm every configured
zone ID exists.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		units := 0
		for _, acct := range cfg.Accounts {
			for _, zone := range acct.Zones {
				units += len(zone.Records) + len(zone.RotationGroups)
			}
		}
		fmt.Printf("config OK: %d account(s), %d rotation unit(s), %d trigger(s)\n",
			len(cfg.Accounts), units, len(cfg.Triggers))

		if checkAPI {
			return verifyAccounts(cmd.Context(), cfg)
		}
		return nil
	},
}

// verifyAccounts checks every account credential and zone ID against the
// provider.
func verifyAccounts(ctx context.Context, cfg *config.Config) error {
	for i := range cfg.Accounts {
		acct := &cfg.Accounts[i]

		var opts []cloudflare.Option
		if cfg.Settings.APIBaseURL != "" {
			opts = append(opts, cloudflare.WithBaseURL(cfg.Settings.APIBaseURL))
		}
		client := cloudflare.NewClient(acct.APIToken, opts...)

		if err := client.VerifyToken(ctx); err != nil {
			return fmt.Errorf("account %q: token verification failed: %w", acct.Name, err)
		}

		zones, err := client.ListZones(ctx)
		if err != nil {
			return fmt.Errorf("account %q: failed to list zones: %w", acct.Name, err)
		}
		known := make(map[string]string, len(zones))
		for _, z := range zones {
			known[z.ID] = z.Name
		}
		for _, zone := range acct.Zones {
			if _, ok := known[zone.ZoneID]; !ok {
				return fmt.Errorf("account %q: zone %q (%s) not found at provider", acct.Name, zone.Domain, zone.ZoneID)
			}
		}
		fmt.Printf("account %q OK: token active, %d zone(s) verified\n", acct.Name, len(acct.Zones))
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rotodns version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("rotodns " + version)
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to the configuration file (.json, .yaml or .yml)")

	runCmd.Flags().BoolVar(&loop, "loop", false, "keep running, sleeping between passes")
	runCmd.Flags().IntVar(&intervalFlag, "interval", 0, "minutes between passes in loop mode (overrides settings.pass_interval_minutes)")
	validateCmd.Flags().BoolVar(&checkAPI, "check-api", false, "verify account tokens and zone IDs against the provider")

	rootCmd.AddCommand(runCmd, validateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
