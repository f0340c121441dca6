// Package bot is the Discord transport adapter: it normalizes gateway
// events into the core's event types and implements the actuator and
// platform surfaces over the REST API. The core never talks to Discord
// directly.
package bot

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"go.uber.org/zap"

	"github.com/agorabot/agora/internal/core"
	"github.com/agorabot/agora/internal/setup/config"
)

// Vote reactions the bot seeds on every proposal. The seed reactions
// give voters something to click and are excluded from tallies.
const (
	favorEmoji   = "👍"
	againstEmoji = "👎"
)

// Bot owns the gateway connection and the adapter implementing the
// core's collaborator interfaces.
type Bot struct {
	client  bot.Client
	adapter *Adapter
	cfg     *config.Discord
	logger  *zap.Logger
}

// New configures the Discord client with the gateway intents the core's
// event surface needs. Messages are cached so deletions, single or
// bulk, can be attributed to their author. Listeners are attached later
// via Bind, once the core service exists.
func New(cfg *config.Discord, logger *zap.Logger) (*Bot, error) {
	client, err := disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildMessages,
				gateway.IntentGuildMessageReactions,
				gateway.IntentMessageContent,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagMessages),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord client: %w", err)
	}

	b := &Bot{
		client:  client,
		adapter: NewAdapter(client, cfg, logger),
		cfg:     cfg,
		logger:  logger.Named("bot"),
	}

	return b, nil
}

// Adapter returns the collaborator implementation backed by this
// client's REST API.
func (b *Bot) Adapter() *Adapter {
	return b.adapter
}

// Bind registers the gateway event listeners that drive the core
// service.
func (b *Bot) Bind(service *core.Service) {
	h := &handler{service: service, adapter: b.adapter, cfg: b.cfg, logger: b.logger}

	b.client.AddEventListeners(&events.ListenerAdapter{
		OnReady:                      h.onReady,
		OnResumed:                    h.onResumed,
		OnGuildMessageCreate:         h.onMessageCreate,
		OnGuildMessageUpdate:         h.onMessageUpdate,
		OnGuildMessageDelete:         h.onMessageDelete,
		OnGuildMessageReactionAdd:    h.onReactionAdd,
		OnGuildMessageReactionRemove: h.onReactionRemove,
		OnGuildMemberUpdate:          h.onMemberUpdate,
		OnGuildMemberLeave:           h.onMemberLeave,
	})
}

// Start opens the gateway connection.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot")

	return b.client.OpenGateway(ctx)
}

// Close gracefully shuts down the gateway connection.
func (b *Bot) Close(ctx context.Context) {
	b.logger.Info("Closing bot")
	b.client.Close(ctx)
}
