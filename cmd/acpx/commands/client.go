package commands

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/acpx/acpx/internal/config"
	"github.com/acpx/acpx/internal/lease"
	"github.com/acpx/acpx/internal/logger"
	"github.com/acpx/acpx/internal/queueclient"
	"github.com/acpx/acpx/internal/sessionrecord"
)

// session bundles everything a prompt/cancel/set-mode/set-config subcommand
// needs to reach its owner: a configured client, the session's key, and the
// record store used to seed the owner's agentCommand/cwd before it's ever
// spawned (spec §6 "hidden entrypoint" only carries --session-id).
type session struct {
	client  *queueclient.Client
	records *sessionrecord.Store
	leases  *lease.Store
	cfg     *config.Config
	log     *logger.Logger
	home    string
}

func newSession() (*session, error) {
	home, err := homeDir()
	if err != nil {
		return nil, fmt.Errorf("acpx: resolve home directory: %w", err)
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, fmt.Errorf("acpx: load config: %w", err)
	}

	level := cfg.Logging.Level
	if Flags.Verbose {
		level = "debug"
	}
	l, err := logger.NewLogger(logger.LoggingConfig{Level: level, Format: cfg.Logging.Format, OutputPath: "stderr"})
	if err != nil {
		return nil, fmt.Errorf("acpx: init logger: %w", err)
	}
	sessionLog := l.WithSessionID(Flags.Key().Hash())

	leaseStore := lease.NewStore(home, sessionLog.Zap())
	return &session{
		client:  queueclient.New(home, leaseStore, sessionLog.Zap()),
		records: sessionrecord.NewStore(home + "/.acpx/sessions"),
		leases:  leaseStore,
		cfg:     cfg,
		log:     sessionLog,
		home:    home,
	}, nil
}

func newRequestID() string {
	return uuid.NewString()
}
