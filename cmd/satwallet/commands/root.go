package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"satwallet/internal/app"
	"satwallet/internal/domain"
)

var (
	home       string
	passphrase string
	network    string
	logLevel   string

	appCtx *app.Wire
	logger *zap.Logger
)

func Execute() error {
	root := &cobra.Command{
		Use:           "satwallet",
		Short:         "Ordinals wallet with a consent-gated bridge for web pages",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".satwallet")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			cfg, err := app.LoadConfig(home)
			if err != nil {
				return err
			}
			if network != "" {
				cfg.Network = domain.Network(network)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			if logger, err = app.NewLogger(cfg.LogLevel, cfg.LogPath()); err != nil {
				return err
			}
			appCtx, err = app.NewWire(cfg, logger)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logger != nil {
				defer logger.Sync() //nolint:errcheck
			}
			if appCtx != nil {
				return appCtx.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.satwallet)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "wallet passphrase (or set "+passphraseEnv+")")
	root.PersistentFlags().StringVar(&network, "network", "", "mainnet or testnet (overrides config)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn, error or production (overrides config)")

	root.AddCommand(initCmd(), importCmd(), addressCmd(), passwdCmd(), deleteCmd(), serveCmd(), tradeCmd())
	return root.Execute()
}
