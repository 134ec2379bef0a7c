package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acpx/acpx/internal/cliformat"
	"github.com/acpx/acpx/internal/constants"
	"github.com/acpx/acpx/internal/queueclient"
	"github.com/acpx/acpx/internal/queueproto"
	"github.com/acpx/acpx/internal/spawn"
)

var (
	promptTimeoutMs         int
	promptTTLMs             int
	promptPermissionMode    string
	promptWaitForCompletion bool
)

var promptCmd = &cobra.Command{
	Use:   "prompt <message>",
	Short: "Submit a prompt to this session's queue owner",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrompt,
}

func init() {
	promptCmd.Flags().IntVar(&promptTimeoutMs, "timeout-ms", 0, "abort the adapter call after this many milliseconds (0: no timeout)")
	promptCmd.Flags().IntVar(&promptTTLMs, "ttl-ms", -1, "idle TTL to hand a freshly spawned owner (negative: default, 0: no TTL)")
	promptCmd.Flags().StringVar(&promptPermissionMode, "permission-mode", "", "permission policy applied to tool-call requests during this turn")
	promptCmd.Flags().BoolVar(&promptWaitForCompletion, "wait", true, "block until the turn completes instead of returning once it's queued")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	key := Flags.Key()
	if err := sess.records.EnsureSeeded(key); err != nil {
		return fmt.Errorf("acpx: seed session record: %w", err)
	}

	mode, err := cliformat.ParseMode(Flags.Output)
	if err != nil {
		return err
	}
	printer := cliformat.NewPrinter(cmd.OutOrStdout(), mode)

	req := queueproto.Request{
		Type:              queueproto.RequestSubmitPrompt,
		RequestID:         newRequestID(),
		Message:           args[0],
		PermissionMode:    promptPermissionMode,
		TimeoutMs:         promptTimeoutMs,
		WaitForCompletion: promptWaitForCompletion,
	}

	var terminal queueproto.Response
	attach := func(ctx context.Context) (bool, error) {
		handled, result, err := sess.client.SubmitPrompt(ctx, key, req, func(update queueproto.Response) {
			printer.OnUpdate(update)
		})
		if handled {
			terminal = result
		}
		return handled, err
	}

	ownerArgs := spawn.OwnerArgs{
		SessionID:      key.Hash(),
		TTLMs:          promptTTLMs,
		PermissionMode: promptPermissionMode,
		Verbose:        Flags.Verbose,
		SocketPath:     key.SocketPath(sess.home),
	}
	turnLog := sess.log.WithTurnID(req.RequestID).Zap()
	if err := spawn.SpawnOrAttach(cmd.Context(), ownerArgs, attach, nil, turnLog); err != nil {
		if err == spawn.ErrNotAccepting || err == queueclient.ErrNoLiveOwner {
			printer.OnError(queueproto.ErrorResponse(req.RequestID, "not_accepting", queueproto.DetailNotAcceptingRequests, queueproto.OriginQueue, err.Error(), true))
			os.Exit(constants.ExitTimeout)
		}
		return err
	}

	printer.OnTerminal(terminal)
	os.Exit(cliformat.ExitCodeForResponse(terminal))
	return nil
}
