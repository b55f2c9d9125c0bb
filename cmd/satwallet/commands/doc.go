// Package commands defines the satwallet CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init      Create a wallet and print its recovery phrase
//   - import    Restore a wallet from a recovery phrase or WIF keys
//   - address   Print the payment and ordinal addresses
//   - passwd    Change the wallet passphrase
//   - delete    Wipe the wallet from this machine
//   - serve     Run the bridge for web pages, approving requests on the terminal
//   - trade     Negotiate a two-party swap
//
// # Implementation
//
// The root command loads <home>/config.toml, applies flag overrides and builds
// the dependency graph (vault, handlers, chain client, trade service) before
// any subcommand runs. The vault is locked again when the command exits.
package commands
