// Command acpx is a headless command-line client for a stdio-based Agent
// Client Protocol adapter. Most of its logic lives in internal/owner,
// internal/queueclient, and internal/spawn; this binary only wires cobra
// subcommands to them.
package main

import (
	"fmt"
	"os"

	"github.com/acpx/acpx/cmd/acpx/commands"
	"github.com/acpx/acpx/internal/constants"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(constants.ExitGenericError)
	}
}
