// Command ledgerctl runs ledger maintenance from the shell: reconciliation
// and balance inspection against the configured database.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment and config.toml still apply
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}

	if err := newRootCmd(newCLI()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
