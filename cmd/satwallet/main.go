package main

import (
	"os"

	"satwallet/cmd/satwallet/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
