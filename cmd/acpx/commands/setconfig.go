package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acpx/acpx/internal/cliformat"
	"github.com/acpx/acpx/internal/constants"
	"github.com/acpx/acpx/internal/queueproto"
)

var setConfigTimeoutMs int

var setConfigCmd = &cobra.Command{
	Use:   "set-config <config-id> <value>",
	Short: "Change a session-scoped configuration option",
	Args:  cobra.ExactArgs(2),
	RunE:  runSetConfig,
}

func init() {
	setConfigCmd.Flags().IntVar(&setConfigTimeoutMs, "timeout-ms", 0, "abort the adapter call after this many milliseconds (0: no timeout)")
}

func runSetConfig(cmd *cobra.Command, args []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	mode, err := cliformat.ParseMode(Flags.Output)
	if err != nil {
		return err
	}
	printer := cliformat.NewPrinter(cmd.OutOrStdout(), mode)

	handled, result, err := sess.client.SetConfigOption(cmd.Context(), Flags.Key(), newRequestID(), args[0], args[1], setConfigTimeoutMs)
	if err != nil {
		return fmt.Errorf("acpx: set-config: %w", err)
	}
	if !handled {
		printer.OnError(queueproto.ErrorResponse(newRequestID(), "no_live_owner", "", queueproto.OriginQueue, "no session is currently running", false))
		os.Exit(constants.ExitGenericError)
	}

	printer.OnTerminal(result)
	os.Exit(cliformat.ExitCodeForResponse(result))
	return nil
}
