package commands

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

const passphraseEnv = "SATWALLET_PASSPHRASE"

var errNoPassphrase = errors.New("passphrase required (-p or " + passphraseEnv + ")")

// readPassphrase returns the passphrase from the flag, the environment, or an
// interactive prompt, in that order.
func readPassphrase(prompt string) (string, error) {
	if passphrase != "" {
		return passphrase, nil
	}
	if v := os.Getenv(passphraseEnv); v != "" {
		return v, nil
	}
	return promptSecret(prompt)
}

// readNewPassphrase is readPassphrase with confirmation when prompting.
func readNewPassphrase(prompt string) (string, error) {
	if passphrase != "" || os.Getenv(passphraseEnv) != "" {
		return readPassphrase(prompt)
	}
	first, err := promptSecret(prompt)
	if err != nil {
		return "", err
	}
	second, err := promptSecret("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passphrases do not match")
	}
	return first, nil
}

// nonInteractivePassphrase returns the flag or environment passphrase without prompting.
func nonInteractivePassphrase() string {
	if passphrase != "" {
		return passphrase
	}
	return os.Getenv(passphraseEnv)
}

func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoPassphrase
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
