package bot

import (
	"context"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/agorabot/agora/internal/core"
	"github.com/agorabot/agora/internal/setup/config"
)

// handler translates gateway events into normalized core events. Each
// callback filters to the configured guild before touching the core.
type handler struct {
	service *core.Service
	adapter *Adapter
	cfg     *config.Discord
	logger  *zap.Logger
}

func (h *handler) onReady(event *events.Ready) {
	h.adapter.setSelfID(event.User.ID)
	h.logger.Info("Gateway ready, reconciling proposals",
		zap.Uint64("selfID", uint64(event.User.ID)))

	h.service.HandleReconnect(context.Background())
}

func (h *handler) onResumed(*events.Resumed) {
	h.logger.Info("Gateway resumed, reconciling proposals")
	h.service.HandleReconnect(context.Background())
}

func (h *handler) onMessageCreate(event *events.GuildMessageCreate) {
	if event.GuildID != h.cfg.GuildID {
		return
	}

	msg := event.Message
	h.service.HandleMessage(context.Background(), core.MessageEvent{
		MessageID:      msg.ID,
		ChannelID:      event.ChannelID,
		AuthorID:       msg.Author.ID,
		AuthorNickname: messageNickname(msg),
		AuthorRoles:    messageRoles(msg),
		Content:        msg.Content,
		Timestamp:      msg.ID.Time(),
		FromBot:        msg.Author.Bot,
	})
}

func (h *handler) onMessageUpdate(event *events.GuildMessageUpdate) {
	if event.GuildID != h.cfg.GuildID || event.Message.Author.Bot {
		return
	}

	h.service.HandleMessageEdit(context.Background(), event.MessageID, event.Message.Content)
}

func (h *handler) onMessageDelete(event *events.GuildMessageDelete) {
	if event.GuildID != h.cfg.GuildID {
		return
	}

	// Bulk deletions arrive here too, one event per deleted message.
	// The author is only known while the message sits in the cache; an
	// unattributable deletion still has to drop a matching proposal.
	h.service.HandleMessageDelete(context.Background(), core.MessageDeleteEvent{
		MessageID: event.MessageID,
		ChannelID: event.ChannelID,
		AuthorID:  event.Message.Author.ID,
		Count:     1,
	})
}

func (h *handler) onReactionAdd(event *events.GuildMessageReactionAdd) {
	if event.GuildID != h.cfg.GuildID {
		return
	}

	favor, ok := voteSignalOf(event.Emoji)
	if !ok {
		return
	}

	h.service.HandleReaction(context.Background(), core.ReactionEvent{
		MessageID:   event.MessageID,
		ChannelID:   event.ChannelID,
		MemberID:    event.UserID,
		MemberRoles: event.Member.RoleIDs,
		Favor:       favor,
		Added:       true,
		FromBot:     event.Member.User.Bot,
	})
}

func (h *handler) onReactionRemove(event *events.GuildMessageReactionRemove) {
	if event.GuildID != h.cfg.GuildID {
		return
	}

	favor, ok := voteSignalOf(event.Emoji)
	if !ok {
		return
	}

	h.service.HandleReaction(context.Background(), core.ReactionEvent{
		MessageID: event.MessageID,
		ChannelID: event.ChannelID,
		MemberID:  event.UserID,
		Favor:     favor,
		Added:     false,
		FromBot:   event.UserID == h.adapter.selfID(),
	})
}

func (h *handler) onMemberUpdate(event *events.GuildMemberUpdate) {
	if event.GuildID != h.cfg.GuildID || event.Member.User.Bot {
		return
	}

	h.service.HandleMemberUpdate(context.Background(), core.MemberUpdateEvent{
		MemberID: event.Member.User.ID,
		Nickname: event.Member.EffectiveName(),
		Roles:    event.Member.RoleIDs,
	})
}

func (h *handler) onMemberLeave(event *events.GuildMemberLeave) {
	if event.GuildID != h.cfg.GuildID {
		return
	}

	h.service.HandleMemberRemove(context.Background(), event.User.ID)
}

// voteSignalOf maps a reaction emoji to a vote side. Non-vote emojis
// are ignored.
func voteSignalOf(emoji discord.PartialEmoji) (favor, ok bool) {
	if emoji.Name == nil {
		return false, false
	}

	switch *emoji.Name {
	case favorEmoji:
		return true, true
	case againstEmoji:
		return false, true
	default:
		return false, false
	}
}

func messageNickname(msg discord.Message) string {
	if msg.Member != nil && msg.Member.Nick != nil && *msg.Member.Nick != "" {
		return *msg.Member.Nick
	}

	return msg.Author.Username
}

func messageRoles(msg discord.Message) []snowflake.ID {
	if msg.Member == nil {
		return nil
	}

	return msg.Member.RoleIDs
}
