package core

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/agorabot/agora/internal/activity"
	"github.com/agorabot/agora/internal/governance"
	"github.com/agorabot/agora/internal/setup/config"
	"github.com/agorabot/agora/internal/store"
)

// Actuator is the collaborator surface the service needs to act on the
// platform. Failures are logged, never retried inline: the next daily
// sweep re-derives every intent from the persisted counters.
type Actuator interface {
	GrantRole(ctx context.Context, memberID, roleID snowflake.ID) error
	RevokeRole(ctx context.Context, memberID, roleID snowflake.ID) error
	// Notify posts an audit line to the notification channel.
	Notify(ctx context.Context, content string) error
	// HasPrivilegeAbove reports whether the member holds a privilege
	// role ranking strictly above the given one.
	HasPrivilegeAbove(ctx context.Context, memberID, roleID snowflake.ID) (bool, error)
	// EligibleVoterCount counts the members currently allowed to vote.
	EligibleVoterCount(ctx context.Context) (int, error)
	// GuildMemberIDs lists every member currently in the guild.
	GuildMemberIDs(ctx context.Context) (map[snowflake.ID]struct{}, error)
	// SeedVotes adds the bot's own vote reactions to a proposal.
	SeedVotes(ctx context.Context, messageID snowflake.ID) error
	// RemoveVote retracts a member's vote reaction.
	RemoveVote(ctx context.Context, messageID, memberID snowflake.ID, signal governance.VoteSignal) error
}

// Service owns all mutations of the member and proposal ledgers. Event
// handlers and the periodic sweeps are serialized behind one mutex, so
// a record's invariants hold at every observation point; the real
// hazard is downtime drift, handled by the catch-up operations.
type Service struct {
	mu sync.Mutex

	cfg        *config.Config
	members    *store.Store[activity.MemberRecord]
	proposals  *store.Store[governance.Proposal]
	engine     *activity.Engine
	reconciler *governance.Reconciler
	actuator   Actuator
	logger     *zap.Logger

	// Now is the clock for proposal admission. Tests override it.
	Now func() time.Time
}

// NewService wires the core together. The ledgers are the only
// authoritative in-memory state; everything else is stateless over
// them.
func NewService(
	cfg *config.Config,
	members *store.Store[activity.MemberRecord],
	proposals *store.Store[governance.Proposal],
	engine *activity.Engine,
	reconciler *governance.Reconciler,
	actuator Actuator,
	logger *zap.Logger,
) *Service {
	return &Service{
		cfg:        cfg,
		members:    members,
		proposals:  proposals,
		engine:     engine,
		reconciler: reconciler,
		actuator:   actuator,
		logger:     logger.Named("core"),
		Now:        time.Now,
	}
}

// HandleMessage processes a message creation: proposal admission in the
// proposal channel, engagement accounting everywhere else.
func (s *Service) HandleMessage(ctx context.Context, ev MessageEvent) {
	if ev.FromBot {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ChannelID == s.cfg.Discord.ProposalChannelID {
		s.admitProposal(ctx, ev)
		return
	}

	if slices.Contains(s.cfg.Discord.ExcludedChannels, ev.ChannelID) {
		return
	}

	if !slices.Contains(ev.AuthorRoles, s.cfg.Discord.BaseRoleID) {
		return
	}

	record, ok := s.members.Get(ev.AuthorID)
	if !ok {
		record = activity.NewMemberRecord(ev.AuthorNickname)
		s.members.Add(ev.AuthorID, record)

		s.logger.Info("Tracking new member",
			zap.Uint64("memberID", uint64(ev.AuthorID)),
			zap.String("nickname", ev.AuthorNickname))
	}

	s.engine.RecordMessage(record)
	s.engine.IncreaseDankCounter(record)

	if !record.Dank && s.engine.EligibleForDank(record) {
		s.engine.SetDank(record)

		if err := s.actuator.GrantRole(ctx, ev.AuthorID, s.cfg.Discord.DankRoleID); err != nil {
			s.logger.Error("Failed to grant dank role",
				zap.Uint64("memberID", uint64(ev.AuthorID)),
				zap.Error(err))
		} else {
			s.logger.Info("Dank role granted", zap.Uint64("memberID", uint64(ev.AuthorID)))
		}
	}

	s.saveMembers()
}

// admitProposal records a qualifying proposal channel message as a new
// open proposal and seeds the bot's vote reactions on it.
func (s *Service) admitProposal(ctx context.Context, ev MessageEvent) {
	if !slices.Contains(ev.AuthorRoles, s.cfg.Discord.BaseRoleID) {
		return
	}

	voterCount, err := s.actuator.EligibleVoterCount(ctx)
	if err != nil {
		s.logger.Error("Failed to count eligible voters, proposal not admitted",
			zap.Uint64("messageID", uint64(ev.MessageID)),
			zap.Error(err))

		return
	}

	proposal := governance.NewProposal(ev.Content, ev.AuthorID, voterCount, ev.Timestamp)
	s.proposals.Add(ev.MessageID, proposal)

	if err := s.actuator.SeedVotes(ctx, ev.MessageID); err != nil {
		s.logger.Error("Failed to seed proposal votes",
			zap.Uint64("messageID", uint64(ev.MessageID)),
			zap.Error(err))
	}

	s.logger.Info("Proposal admitted",
		zap.Uint64("messageID", uint64(ev.MessageID)),
		zap.Uint64("author", uint64(ev.AuthorID)),
		zap.Int("threshold", proposal.Threshold))

	s.saveProposals()
}

// HandleMessageDelete undoes counted messages and drops proposals whose
// source message was deleted.
func (s *Service) HandleMessageDelete(_ context.Context, ev MessageDeleteEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proposals.Get(ev.MessageID); ok {
		s.proposals.Remove(ev.MessageID)
		s.logger.Info("Proposal removed with its message", zap.Uint64("messageID", uint64(ev.MessageID)))
		s.saveProposals()

		return
	}

	// Messages in the proposal channel and in excluded channels were
	// never counted, so there is nothing to retract.
	if ev.ChannelID == s.cfg.Discord.ProposalChannelID ||
		slices.Contains(s.cfg.Discord.ExcludedChannels, ev.ChannelID) {
		return
	}

	record, ok := s.members.Get(ev.AuthorID)
	if !ok {
		return
	}

	count := max(1, ev.Count)
	s.engine.UnrecordMessage(record, count)
	s.saveMembers()
}

// HandleMessageEdit mirrors an edited proposal message's content into
// the ledger. Edits to ordinary messages don't change any counter.
func (s *Service) HandleMessageEdit(_ context.Context, messageID snowflake.ID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals.Get(messageID)
	if !ok || proposal.Content == content {
		return
	}

	proposal.Content = content
	s.saveProposals()
}

// HandleReaction applies one vote change. Ineligible voters have their
// reaction retracted instead of counted.
func (s *Service) HandleReaction(ctx context.Context, ev ReactionEvent) {
	if ev.FromBot {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals.Get(ev.MessageID)
	if !ok {
		return
	}

	signal := governance.SignalAgainst
	if ev.Favor {
		signal = governance.SignalFavor
	}

	if ev.Added && !slices.Contains(ev.MemberRoles, s.cfg.Discord.BaseRoleID) {
		if err := s.actuator.RemoveVote(ctx, ev.MessageID, ev.MemberID, signal); err != nil {
			s.logger.Error("Failed to retract ineligible vote",
				zap.Uint64("messageID", uint64(ev.MessageID)),
				zap.Uint64("memberID", uint64(ev.MemberID)),
				zap.Error(err))
		}

		return
	}

	delta := -1
	if ev.Added {
		delta = 1
	}

	proposal.AdjustVote(signal, delta)
	s.saveProposals()
}

// HandleMemberUpdate mirrors profile changes into the ledger and starts
// tracking members freshly promoted to the base role.
func (s *Service) HandleMemberUpdate(_ context.Context, ev MemberUpdateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.members.Get(ev.MemberID)
	if !ok {
		if !slices.Contains(ev.Roles, s.cfg.Discord.BaseRoleID) {
			return
		}

		s.members.Add(ev.MemberID, activity.NewMemberRecord(ev.Nickname))
		s.logger.Info("Tracking promoted member", zap.Uint64("memberID", uint64(ev.MemberID)))
		s.saveMembers()

		return
	}

	if ev.Nickname != "" && ev.Nickname != record.Nickname {
		record.Nickname = ev.Nickname
		s.saveMembers()
	}
}

// HandleMemberRemove drops the record of a member who left.
func (s *Service) HandleMemberRemove(_ context.Context, memberID snowflake.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members.Get(memberID); !ok {
		return
	}

	s.members.Remove(memberID)
	s.logger.Info("Member record removed", zap.Uint64("memberID", uint64(memberID)))
	s.saveMembers()
}

// HandleReconnect runs the exhaustive catch-up after the gateway
// resumes: records of members who left while offline are dropped,
// reaction changes that happened meanwhile are reconciled away and any
// proposals that concluded are finalized.
func (s *Service) HandleReconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reconcileMembers(ctx)

	if err := s.reconciler.CheckIntegrity(ctx); err != nil {
		s.logger.Error("Proposal integrity check failed", zap.Error(err))
	}

	s.reconciler.HandleProposals(ctx)
	s.saveProposals()
}

// reconcileMembers drops ledger records whose member is no longer in
// the guild, catching departures the gateway never delivered. An empty
// roster answer is refused; a truncated fetch must not erase the whole
// ledger.
func (s *Service) reconcileMembers(ctx context.Context) {
	if s.members.Len() == 0 {
		return
	}

	present, err := s.actuator.GuildMemberIDs(ctx)
	if err != nil {
		s.logger.Error("Failed to list guild members, keeping all records", zap.Error(err))
		return
	}

	if len(present) == 0 {
		s.logger.Warn("Guild roster came back empty, keeping all records")
		return
	}

	var removed int

	for _, id := range s.members.Keys() {
		if _, ok := present[id]; ok {
			continue
		}

		s.members.Remove(id)
		removed++

		s.logger.Info("Dropped record of departed member", zap.Uint64("memberID", uint64(id)))
	}

	if removed > 0 {
		s.saveMembers()
	}
}

func (s *Service) saveMembers() {
	if err := s.members.Save(); err != nil {
		s.logger.Error("Failed to persist member ledger", zap.Error(err))
	}
}

func (s *Service) saveProposals() {
	if err := s.proposals.Save(); err != nil {
		s.logger.Error("Failed to persist proposal ledger", zap.Error(err))
	}
}
