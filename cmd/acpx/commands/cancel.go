package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acpx/acpx/internal/cliformat"
	"github.com/acpx/acpx/internal/constants"
	"github.com/acpx/acpx/internal/queueproto"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel this session's in-flight prompt, if any",
	Args:  cobra.NoArgs,
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	mode, err := cliformat.ParseMode(Flags.Output)
	if err != nil {
		return err
	}
	printer := cliformat.NewPrinter(cmd.OutOrStdout(), mode)

	handled, result, err := sess.client.CancelPrompt(cmd.Context(), Flags.Key(), newRequestID())
	if err != nil {
		return fmt.Errorf("acpx: cancel: %w", err)
	}
	if !handled {
		printer.OnTerminal(queueproto.Response{Type: queueproto.ResponseCancelResult, Cancelled: boolPtr(false)})
		os.Exit(constants.ExitSuccess)
	}

	printer.OnTerminal(result)
	os.Exit(cliformat.ExitCodeForResponse(result))
	return nil
}

func boolPtr(b bool) *bool { return &b }
