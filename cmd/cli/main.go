package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vpnda/sandwich-aggregate/db"
	"github.com/vpnda/sandwich-aggregate/pkg/config"
	"github.com/vpnda/sandwich-aggregate/pkg/http/bank"
	"github.com/vpnda/sandwich-aggregate/pkg/services"
	"github.com/vpnda/sandwich-aggregate/pkg/utils"
)

var (
	configPath  string
	envFile     string
	storagePath string
	verbose     bool
	rootCmd     *cobra.Command
)

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "sandwich",
		Short: "Aggregate accounts, balances and transactions across partner banks",
		Long: `A CLI tool and HTTP service that collects a client's accounts, balances and
transactions from several OpenBanking-style bank APIs and merges them into one view.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Environment file applied on top of the configuration")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage", "", "SQLite file for linked accounts and consents (overrides storagePath)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the current configuration",
		Long:  `Show the configuration after the file and environment overrides are applied. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			showConfig(cfg)
			return nil
		},
	}

	rootCmd.AddCommand(configCmd, newServeCmd())
	rootCmd.AddCommand(newAggregateCmds()...)
	rootCmd.AddCommand(newLinkCmds()...)
	rootCmd.AddCommand(newCashbackCmd())

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// loadConfig reads the configuration file, falling back to the defaults, and
// applies the environment on top
func loadConfig() (*config.Config, error) {
	if err := config.InitGlobalConfig(configPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, err
	}
	if storagePath != "" {
		cfg.StoragePath = storagePath
	}
	return cfg, nil
}

type app struct {
	cfg       *config.Config
	store     db.DBInterface
	agg       *services.Aggregator
	analytics *services.Analytics
	links     *services.LinkingService
	cashback  *services.CashbackLedger
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := db.Open(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	gateways := bank.NewGateways(cfg)
	if len(gateways) == 0 {
		log.Warn().Msg("No bank has credentials configured, only linked accounts will be shown")
	}

	tokens := services.NewTokenProvider(services.NewTokenCache(), gateways, cfg.TokenTimeout())
	consents := services.NewConsentNegotiator(store, services.NegotiatorOptions{
		RequestingBank:     cfg.RequestingBankID,
		RequestingBankName: cfg.RequestingBankName,
		Reason:             cfg.ConsentReason,
		Timeout:            cfg.TokenTimeout(),
	})
	links := services.NewLinkingService(store, cfg.BankCodes())
	agg := services.NewAggregator(gateways, tokens, consents, links, services.OptionsFromConfig(cfg))

	return &app{
		cfg:       cfg,
		store:     store,
		agg:       agg,
		analytics: services.NewAnalytics(agg),
		links:     links,
		cashback:  services.NewCashbackLedger(),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing storage")
	}
}

// withApp runs fn against a freshly wired app and closes it afterwards
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

// showConfig displays the current configuration
func showConfig(cfg *config.Config) {
	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("Requesting bank:   %s (%s)\n", cfg.RequestingBankID, cfg.RequestingBankName)
	fmt.Printf("HTTP timeout:      %s\n", cfg.HTTPTimeout())
	fmt.Printf("Token timeout:     %s\n", cfg.TokenTimeout())
	fmt.Printf("Fetch timeout:     %s\n", cfg.FetchTimeout())
	fmt.Printf("Server address:    %s\n", cfg.Server.Addr)
	if cfg.StoragePath != "" {
		fmt.Printf("Storage:           %s\n", cfg.StoragePath)
	} else {
		fmt.Println("Storage:           in-memory")
	}

	fmt.Println()
	fmt.Printf("%-8s %-40s %-15s %-15s\n", "Bank", "Base URL", "Client ID", "Client Secret")
	fmt.Println(strings.Repeat("-", 80))
	for _, code := range cfg.BankCodes() {
		opts := cfg.Banks[code]
		fmt.Printf("%-8s %-40s %-15s %-15s\n", code, opts.BaseURL, orNotSet(opts.ClientID, false), orNotSet(opts.ClientSecret, true))
	}
}

func orNotSet(v string, secret bool) string {
	switch {
	case v == "":
		return "not set"
	case secret:
		return utils.Mask(v)
	default:
		return v
	}
}
