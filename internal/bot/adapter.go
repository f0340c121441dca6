package bot

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/agorabot/agora/internal/governance"
	"github.com/agorabot/agora/internal/setup/config"
)

const fetchPageSize = 100

// Adapter implements the core actuator and the governance platform over
// the Discord REST API. Calls are fire-and-report: the caller decides
// what a failure means.
type Adapter struct {
	client bot.Client
	cfg    *config.Discord
	logger *zap.Logger
	self   atomic.Uint64
}

// NewAdapter creates the REST-backed collaborator implementation.
func NewAdapter(client bot.Client, cfg *config.Discord, logger *zap.Logger) *Adapter {
	return &Adapter{
		client: client,
		cfg:    cfg,
		logger: logger.Named("adapter"),
	}
}

func (a *Adapter) setSelfID(id snowflake.ID) {
	a.self.Store(uint64(id))
}

func (a *Adapter) selfID() snowflake.ID {
	return snowflake.ID(a.self.Load())
}

// GrantRole adds a role to a guild member.
func (a *Adapter) GrantRole(ctx context.Context, memberID, roleID snowflake.ID) error {
	return a.client.Rest().AddMemberRole(a.cfg.GuildID, memberID, roleID, restOpts(ctx)...)
}

// RevokeRole removes a role from a guild member.
func (a *Adapter) RevokeRole(ctx context.Context, memberID, roleID snowflake.ID) error {
	return a.client.Rest().RemoveMemberRole(a.cfg.GuildID, memberID, roleID, restOpts(ctx)...)
}

// Notify posts a plain message to the notification channel.
func (a *Adapter) Notify(ctx context.Context, content string) error {
	_, err := a.client.Rest().CreateMessage(a.cfg.NotifyChannelID,
		discord.NewMessageCreateBuilder().SetContent(content).Build(),
		restOpts(ctx)...)

	return err
}

// NotifyOutcome announces a finalized proposal in the notification
// channel.
func (a *Adapter) NotifyOutcome(ctx context.Context, proposal *governance.Proposal, outcome governance.Outcome) error {
	var verdict string

	switch outcome {
	case governance.OutcomePassed:
		verdict = fmt.Sprintf("passed with %d votes in favor", proposal.Yes)
	case governance.OutcomeRejected:
		verdict = fmt.Sprintf("was rejected with %d votes against", proposal.No)
	case governance.OutcomeExpired:
		verdict = fmt.Sprintf("expired at %d-%d without reaching the %d vote threshold",
			proposal.Yes, proposal.No, proposal.Threshold)
	}

	return a.Notify(ctx, fmt.Sprintf("Proposal %s: %s", verdict, proposal.Content))
}

// SeedVotes adds the bot's own favor and against reactions to a
// proposal message so members have both vote buttons available.
func (a *Adapter) SeedVotes(ctx context.Context, messageID snowflake.ID) error {
	for _, emoji := range []string{favorEmoji, againstEmoji} {
		if err := a.client.Rest().AddReaction(a.cfg.ProposalChannelID, messageID, emoji, restOpts(ctx)...); err != nil {
			return fmt.Errorf("failed to add %s reaction: %w", emoji, err)
		}
	}

	return nil
}

// RemoveVote retracts a member's vote reaction from a proposal message.
func (a *Adapter) RemoveVote(
	ctx context.Context, messageID, memberID snowflake.ID, signal governance.VoteSignal,
) error {
	return a.client.Rest().RemoveUserReaction(
		a.cfg.ProposalChannelID, messageID, signalEmoji(signal), memberID, restOpts(ctx)...)
}

// ProposalMessages pages through the proposal channel history from the
// given instant forward and returns member-authored messages oldest
// first.
func (a *Adapter) ProposalMessages(ctx context.Context, since time.Time) ([]governance.ChannelMessage, error) {
	var messages []governance.ChannelMessage

	// Page forward from a synthetic snowflake just before the anchor.
	after := snowflake.New(since.Add(-time.Second))

	for {
		page, err := a.client.Rest().GetMessages(
			a.cfg.ProposalChannelID, 0, 0, after, fetchPageSize, restOpts(ctx)...)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch proposal channel page: %w", err)
		}

		if len(page) == 0 {
			break
		}

		for _, msg := range page {
			if msg.ID > after {
				after = msg.ID
			}

			messages = append(messages, governance.ChannelMessage{
				ID:        msg.ID,
				Author:    msg.Author.ID,
				Content:   msg.Content,
				Timestamp: msg.ID.Time(),
				FromBot:   msg.Author.Bot,
			})
		}

		if len(page) < fetchPageSize {
			break
		}
	}

	slices.SortFunc(messages, func(a, b governance.ChannelMessage) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return messages, nil
}

// ReactionVoters lists the members currently holding the given vote
// reaction, with their voting eligibility resolved.
func (a *Adapter) ReactionVoters(
	ctx context.Context, messageID snowflake.ID, signal governance.VoteSignal,
) ([]governance.Voter, error) {
	var voters []governance.Voter

	var after snowflake.ID

	for {
		page, err := a.client.Rest().GetReactions(
			a.cfg.ProposalChannelID, messageID, signalEmoji(signal),
			discord.MessageReactionTypeNormal, int(after), fetchPageSize, restOpts(ctx)...)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch reactions: %w", err)
		}

		if len(page) == 0 {
			break
		}

		for _, user := range page {
			if user.ID > after {
				after = user.ID
			}

			voters = append(voters, governance.Voter{
				ID:       user.ID,
				Bot:      user.Bot,
				Eligible: !user.Bot && a.isEligibleVoter(ctx, user.ID),
			})
		}

		if len(page) < fetchPageSize {
			break
		}
	}

	return voters, nil
}

// EligibleVoterCount counts guild members holding the base role.
func (a *Adapter) EligibleVoterCount(ctx context.Context) (int, error) {
	var count int

	err := a.eachMember(ctx, func(member discord.Member) {
		if slices.Contains(member.RoleIDs, a.cfg.BaseRoleID) {
			count++
		}
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// GuildMemberIDs lists every member currently in the guild, for pruning
// ledger records of members who left while the bot was offline.
func (a *Adapter) GuildMemberIDs(ctx context.Context) (map[snowflake.ID]struct{}, error) {
	ids := make(map[snowflake.ID]struct{})

	err := a.eachMember(ctx, func(member discord.Member) {
		ids[member.User.ID] = struct{}{}
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// eachMember pages through the full guild roster.
func (a *Adapter) eachMember(ctx context.Context, fn func(member discord.Member)) error {
	var after snowflake.ID

	for {
		page, err := a.client.Rest().GetMembers(a.cfg.GuildID, fetchPageSize*10, after, restOpts(ctx)...)
		if err != nil {
			return fmt.Errorf("failed to fetch guild members: %w", err)
		}

		if len(page) == 0 {
			return nil
		}

		for _, member := range page {
			if member.User.ID > after {
				after = member.User.ID
			}

			fn(member)
		}

		if len(page) < fetchPageSize*10 {
			return nil
		}
	}
}

// HasPrivilegeAbove reports whether the member holds a privilege role
// ranked strictly above the given one in the configured order.
func (a *Adapter) HasPrivilegeAbove(ctx context.Context, memberID, roleID snowflake.ID) (bool, error) {
	member, err := a.client.Rest().GetMember(a.cfg.GuildID, memberID, restOpts(ctx)...)
	if err != nil {
		return false, fmt.Errorf("failed to fetch member: %w", err)
	}

	rank := slices.Index(a.cfg.PrivilegeRoles, roleID)
	if rank == -1 {
		a.logger.Warn("Role missing from privilege order", zap.Uint64("roleID", uint64(roleID)))

		return false, nil
	}

	for _, held := range member.RoleIDs {
		if heldRank := slices.Index(a.cfg.PrivilegeRoles, held); heldRank > rank {
			return true, nil
		}
	}

	return false, nil
}

// isEligibleVoter resolves a reacting member's voting eligibility. A
// member who left the guild is no longer eligible.
func (a *Adapter) isEligibleVoter(ctx context.Context, memberID snowflake.ID) bool {
	member, err := a.client.Rest().GetMember(a.cfg.GuildID, memberID, restOpts(ctx)...)
	if err != nil {
		return false
	}

	return slices.Contains(member.RoleIDs, a.cfg.BaseRoleID)
}

func restOpts(ctx context.Context) []rest.RequestOpt {
	return []rest.RequestOpt{rest.WithCtx(ctx)}
}

func signalEmoji(signal governance.VoteSignal) string {
	if signal == governance.SignalFavor {
		return favorEmoji
	}

	return againstEmoji
}
