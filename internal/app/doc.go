// Package app wires application dependencies for the CLI.
//
// It loads Config from the wallet home, builds the vault, handler registry,
// chain collaborators and trade service, and exposes them via the Wire struct.
// Wire also assembles the HTTP surface that carries the bridge.
package app
