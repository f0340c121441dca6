package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/agorabot/agora/internal/activity"
	botAdapter "github.com/agorabot/agora/internal/bot"
	"github.com/agorabot/agora/internal/core"
	"github.com/agorabot/agora/internal/governance"
	"github.com/agorabot/agora/internal/setup"
	"github.com/agorabot/agora/internal/setup/config"
	"github.com/agorabot/agora/internal/store"
	"github.com/agorabot/agora/internal/worker/lifecycle"
)

func main() {
	app := &cli.Command{
		Name:  "agora",
		Usage: "Community engagement and governance bot",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the bot and the daily lifecycle scheduler",
				Action: runBot,
			},
			{
				Name:  "store",
				Usage: "Durable store maintenance",
				Commands: []*cli.Command{
					{
						Name:   "inspect",
						Usage:  "Show record counts for both stores",
						Action: inspectStores,
					},
					{
						Name:   "accept-corrupt",
						Usage:  "Discard corrupt store files after operator review",
						Action: acceptCorrupt,
					},
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func runBot(ctx context.Context, _ *cli.Command) error {
	app, err := setup.InitializeApp()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.CleanupApp()

	discordBot, err := botAdapter.New(&app.Config.Discord, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	engine := activity.NewEngine(&app.Config.Engagement)
	reconciler := governance.NewReconciler(
		app.Proposals, discordBot.Adapter(), &app.Config.Governance, app.Logger)
	service := core.NewService(
		app.Config, app.Members, app.Proposals, engine, reconciler, discordBot.Adapter(), app.Logger)
	discordBot.Bind(service)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := discordBot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}
	defer discordBot.Close(context.Background())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return lifecycle.New(service, app.Logger).Start(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func inspectStores(_ context.Context, _ *cli.Command) error {
	app, err := setup.InitializeApp()
	if err != nil {
		return err
	}
	defer app.CleanupApp()

	fmt.Printf("members:   %d records (%s)\n", app.Members.Len(), app.Config.Storage.MembersPath())
	fmt.Printf("proposals: %d records (%s)\n", app.Proposals.Len(), app.Config.Storage.ProposalsPath())

	return nil
}

func acceptCorrupt(_ context.Context, _ *cli.Command) error {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return err
	}

	var accepted bool

	if discarded, err := store.AcceptCorrupt[activity.MemberRecord](cfg.Storage.MembersPath()); err == nil {
		fmt.Printf("discarded member store, moved to %s\n", discarded)

		accepted = true
	}

	if discarded, err := store.AcceptCorrupt[governance.Proposal](cfg.Storage.ProposalsPath()); err == nil {
		fmt.Printf("discarded proposal store, moved to %s\n", discarded)

		accepted = true
	}

	if !accepted {
		return errors.New("no corrupt store files found; nothing discarded")
	}

	return nil
}
