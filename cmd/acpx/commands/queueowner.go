package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/acpx/acpx/internal/constants"
	"github.com/acpx/acpx/internal/logger"
	"github.com/acpx/acpx/internal/owner"
	"github.com/acpx/acpx/internal/sessionkey"
	"github.com/acpx/acpx/internal/sessionrecord"
)

var (
	qoSessionID                 string
	qoTTLMs                     int
	qoPermissionMode            string
	qoNonInteractivePermissions string
	qoAuthPolicy                string
	qoTimeoutMs                 int
	qoMetricsAddr               string
	qoSuppressSDKConsoleErrors  bool
)

// queueOwnerCmd is spec §6's hidden owner entrypoint. It never appears in
// --help (Hidden: true) and is only ever invoked by internal/spawn's
// detached re-exec, never directly by a user.
var queueOwnerCmd = &cobra.Command{
	Use:    "__queue-owner",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runQueueOwner,
}

func init() {
	f := queueOwnerCmd.Flags()
	f.StringVar(&qoSessionID, "session-id", "", "SessionKey hash naming the session record, lock file and socket")
	f.IntVar(&qoTTLMs, "ttl-ms", -1, "idle TTL in milliseconds (negative: default, 0: no TTL)")
	f.StringVar(&qoPermissionMode, "permission-mode", "acceptEdits", "default permission policy for tool-call requests")
	f.StringVar(&qoNonInteractivePermissions, "non-interactive-permissions", "", "permission policy applied when no foreground client is attached")
	f.StringVar(&qoAuthPolicy, "auth-policy", "", "auth policy identifier, forwarded to the external auth/permission module")
	f.IntVar(&qoTimeoutMs, "timeout-ms", 0, "default per-turn adapter timeout in milliseconds (0: none)")
	f.StringVar(&qoMetricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	f.BoolVar(&qoSuppressSDKConsoleErrors, "suppress-sdk-console-errors", false, "silence the adapter subprocess's stderr")
	_ = queueOwnerCmd.MarkFlagRequired("session-id")
}

func runQueueOwner(cmd *cobra.Command, args []string) error {
	home, err := homeDir()
	if err != nil {
		return fmt.Errorf("acpx: resolve home directory: %w", err)
	}

	level := "info"
	if Flags.Verbose {
		level = "debug"
	}
	format := "json"
	l, err := logger.NewLogger(logger.LoggingConfig{Level: level, Format: format, OutputPath: "stderr"})
	if err != nil {
		return fmt.Errorf("acpx: init logger: %w", err)
	}
	defer l.Sync()

	records := sessionrecord.NewStore(home + "/.acpx/sessions")
	rec, err := records.LoadByHash(qoSessionID)
	if err != nil {
		return fmt.Errorf("acpx: queue owner: load session record for %s: %w", qoSessionID, err)
	}

	key := sessionkey.Key{AgentCommand: rec.AgentCommand, Cwd: rec.Cwd, Name: rec.Name}
	agentCmd := strings.Fields(rec.AgentCommand)

	deps := owner.Dependencies{
		Logger:                    l.Zap(),
		HomeDir:                   home,
		Key:                       key,
		SessionID:                 rec.ACPSessionID,
		AgentCommand:              agentCmd,
		WorkDir:                   rec.Cwd,
		TTLMs:                     qoTTLMs,
		PermissionMode:            qoPermissionMode,
		NonInteractivePermissions: qoNonInteractivePermissions,
		AuthPolicy:                qoAuthPolicy,
		DefaultTimeoutMs:          qoTimeoutMs,
		SuppressSDKConsoleErrors:  qoSuppressSDKConsoleErrors,
		MetricsAddr:               qoMetricsAddr,
	}

	if err := owner.Run(cmd.Context(), deps); err != nil {
		l.Error("queue owner exited with error", zap.Error(err))
		os.Exit(constants.ExitGenericError)
	}
	return nil
}
