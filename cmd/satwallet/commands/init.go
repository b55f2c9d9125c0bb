package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var words int
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a wallet and print its recovery phrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			bits := words / 3 * 32
			pass, err := readNewPassphrase("New passphrase: ")
			if err != nil {
				return err
			}
			m, err := appCtx.Vault.Create(pass, bits)
			if err != nil {
				return err
			}
			addrs, err := appCtx.Vault.Addresses()
			if err != nil {
				return err
			}
			fmt.Printf("Wallet created.\n\nRecovery phrase (write it down, it is shown once):\n\n  %s\n\n", m)
			fmt.Printf("Payment address: %s\nOrdinal address: %s\n", addrs.Payment, addrs.Ordinal)
			return nil
		},
	}
	cmd.Flags().IntVar(&words, "words", 12, "recovery phrase length (12, 15, 18, 21 or 24)")
	return cmd
}
