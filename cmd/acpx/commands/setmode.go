package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acpx/acpx/internal/cliformat"
	"github.com/acpx/acpx/internal/constants"
	"github.com/acpx/acpx/internal/queueproto"
)

var setModeTimeoutMs int

var setModeCmd = &cobra.Command{
	Use:   "set-mode <mode-id>",
	Short: "Change this session's active mode",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetMode,
}

func init() {
	setModeCmd.Flags().IntVar(&setModeTimeoutMs, "timeout-ms", 0, "abort the adapter call after this many milliseconds (0: no timeout)")
}

func runSetMode(cmd *cobra.Command, args []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	mode, err := cliformat.ParseMode(Flags.Output)
	if err != nil {
		return err
	}
	printer := cliformat.NewPrinter(cmd.OutOrStdout(), mode)

	handled, result, err := sess.client.SetMode(cmd.Context(), Flags.Key(), newRequestID(), args[0], setModeTimeoutMs)
	if err != nil {
		return fmt.Errorf("acpx: set-mode: %w", err)
	}
	if !handled {
		printer.OnError(queueproto.ErrorResponse(newRequestID(), "no_live_owner", "", queueproto.OriginQueue, "no session is currently running", false))
		os.Exit(constants.ExitGenericError)
	}

	printer.OnTerminal(result)
	os.Exit(cliformat.ExitCodeForResponse(result))
	return nil
}
