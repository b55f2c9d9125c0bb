package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the payment and ordinal addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := appCtx.Vault.Addresses()
			if err != nil {
				return err
			}
			pubs, err := appCtx.Vault.PubKeys()
			if err != nil {
				return err
			}
			fmt.Printf("Network:         %s\n", appCtx.Vault.Network())
			fmt.Printf("Payment address: %s\nPayment pubkey:  %s\n", addrs.Payment, pubs.Payment)
			fmt.Printf("Ordinal address: %s\nOrdinal pubkey:  %s\n", addrs.Ordinal, pubs.Ordinal)
			return nil
		},
	}
}

func passwdCmd() *cobra.Command {
	var next string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the wallet passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := readPassphrase("Current passphrase: ")
			if err != nil {
				return err
			}
			if next == "" {
				first, err := promptSecret("New passphrase: ")
				if err != nil {
					return err
				}
				second, err := promptSecret("Repeat passphrase: ")
				if err != nil {
					return err
				}
				if first != second {
					return errors.New("passphrases do not match")
				}
				next = first
			}
			if err := appCtx.Vault.ChangePassphrase(current, next); err != nil {
				return err
			}
			fmt.Println("Passphrase changed.")
			return nil
		},
	}
	cmd.Flags().StringVar(&next, "new", "", "new passphrase (prompted when omitted)")
	return cmd
}

func deleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Wipe the wallet from this machine",
		Long:  "Overwrites and removes the encrypted wallet. Without the recovery phrase the keys are gone for good.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete without --yes")
			}
			if err := appCtx.Vault.Delete(); err != nil {
				return err
			}
			fmt.Println("Wallet deleted.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
