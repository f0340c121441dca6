// Package setup bootstraps application dependencies in the order they
// need each other: configuration, logging, then the durable stores.
package setup

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/agorabot/agora/internal/activity"
	"github.com/agorabot/agora/internal/governance"
	"github.com/agorabot/agora/internal/setup/config"
	"github.com/agorabot/agora/internal/store"
)

// App bundles the core dependencies shared by the bot and the tooling
// commands.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Members   *store.Store[activity.MemberRecord]
	Proposals *store.Store[governance.Proposal]
}

// InitializeApp loads configuration, builds the logger and loads both
// ledgers. A corrupt store halts startup here: that is the one
// operator-facing stop in the system, and it must happen before any
// event can mutate state.
func InitializeApp() (*App, error) {
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(&cfg.Debug)
	if err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded", zap.String("configDir", configDir))

	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	members := store.New(cfg.Storage.MembersPath(), (*activity.MemberRecord).Validate, logger)
	if err := members.Load(); err != nil {
		return nil, describeCorrupt(err)
	}

	proposals := store.New[governance.Proposal](cfg.Storage.ProposalsPath(), nil, logger)
	if err := proposals.Load(); err != nil {
		return nil, describeCorrupt(err)
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Members:   members,
		Proposals: proposals,
	}, nil
}

// CleanupApp flushes buffered log output.
func (a *App) CleanupApp() {
	_ = a.Logger.Sync()
}

// describeCorrupt adds the recovery instruction to a corrupt-store
// failure so the operator knows the halt is deliberate.
func describeCorrupt(err error) error {
	if errors.Is(err, store.ErrCorrupt) {
		return fmt.Errorf("%w\nrefusing to start with damaged data; "+
			"inspect the backup, then run `agora store accept-corrupt` to start fresh", err)
	}

	return err
}
