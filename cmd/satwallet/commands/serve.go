package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"satwallet/internal/handlers"
)

// serve: run the bridge and approve requests on this terminal.
func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge for web pages, approving requests on the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := appCtx.Config
			if listen == "" {
				listen = cfg.ListenAddress
			}

			var pass string
			if appCtx.Vault.HasKeys() {
				var err error
				if pass, err = readPassphrase("Passphrase: "); err != nil {
					return err
				}
				if err := appCtx.Vault.Unlock(pass); err != nil {
					return err
				}
			} else {
				// Keys may still arrive through migration from an allowed origin.
				pass = nonInteractivePassphrase()
				logger.Warn("no wallet yet; signing requests will fail until one is created or migrated")
			}

			prompter := newTerminalPrompter(cmd.ErrOrStderr())
			go prompter.run(ctx, cmd.InOrStdin())

			g, err := appCtx.NewGate(prompter)
			if err != nil {
				return err
			}
			var migrate handlers.PassphraseFunc
			if pass != "" {
				migrate = func(context.Context) (string, error) { return pass, nil }
			}
			mig := appCtx.NewMigrator(migrate, g)

			fmt.Fprintf(cmd.ErrOrStderr(), "Bridge listening on ws://%s/bridge\n", listen)
			err = appCtx.Serve(ctx, listen, appCtx.Router(g, mig))
			g.Wait()
			if err != nil {
				logger.Error("bridge server failed", zap.Error(err))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
