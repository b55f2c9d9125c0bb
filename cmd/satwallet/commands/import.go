package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// import: restore from a recovery phrase or from a pair of WIF keys.
func importCmd() *cobra.Command {
	var (
		mnemonic string
		payWIF   string
		ordWIF   string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore a wallet from a recovery phrase or WIF keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			useKeys := payWIF != "" || ordWIF != ""
			switch {
			case mnemonic != "" && useKeys:
				return errors.New("use either --mnemonic or --pay-wif/--ord-wif")
			case mnemonic == "" && !useKeys:
				return errors.New("--mnemonic or --pay-wif and --ord-wif required")
			case useKeys && (payWIF == "" || ordWIF == ""):
				return errors.New("both --pay-wif and --ord-wif are required")
			}

			pass, err := readNewPassphrase("New passphrase: ")
			if err != nil {
				return err
			}
			if mnemonic != "" {
				err = appCtx.Vault.ImportMnemonic(pass, mnemonic)
			} else {
				err = appCtx.Vault.ImportKeys(pass, payWIF, ordWIF)
			}
			if err != nil {
				return err
			}
			addrs, err := appCtx.Vault.Addresses()
			if err != nil {
				return err
			}
			fmt.Printf("Wallet imported.\nPayment address: %s\nOrdinal address: %s\n", addrs.Payment, addrs.Ordinal)
			return nil
		},
	}
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "BIP-39 recovery phrase")
	cmd.Flags().StringVar(&payWIF, "pay-wif", "", "payment key in WIF")
	cmd.Flags().StringVar(&ordWIF, "ord-wif", "", "ordinal key in WIF")
	return cmd
}
