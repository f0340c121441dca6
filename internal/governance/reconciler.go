package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/agorabot/agora/internal/setup/config"
	"github.com/agorabot/agora/internal/store"
)

// Fetch retry tuning for the exhaustive sweep. A reconciliation pass
// runs rarely and must survive transient platform hiccups.
var (
	fetchMaxElapsedTime  = 30 * time.Second
	fetchInitialInterval = 500 * time.Millisecond
	fetchMaxInterval     = 5 * time.Second
	fetchMaxRetries      = uint64(5)
)

// ChannelMessage is a normalized message from the proposal channel.
type ChannelMessage struct {
	ID        snowflake.ID
	Author    snowflake.ID
	Content   string
	Timestamp time.Time
	FromBot   bool
}

// Voter is one member currently holding a reaction on a proposal.
type Voter struct {
	ID       snowflake.ID
	Bot      bool
	Eligible bool
}

// Platform is the collaborator surface the reconciler needs: reading
// the authoritative channel and reaction state, retracting invalid
// votes and announcing outcomes.
type Platform interface {
	// ProposalMessages lists the proposal channel messages at or after
	// the given instant, oldest first.
	ProposalMessages(ctx context.Context, since time.Time) ([]ChannelMessage, error)
	// ReactionVoters lists the members currently reacting with the
	// given vote signal on a message.
	ReactionVoters(ctx context.Context, messageID snowflake.ID, signal VoteSignal) ([]Voter, error)
	// RemoveVote retracts a member's reaction from a message.
	RemoveVote(ctx context.Context, messageID snowflake.ID, memberID snowflake.ID, signal VoteSignal) error
	// EligibleVoterCount counts the members currently allowed to vote.
	EligibleVoterCount(ctx context.Context) (int, error)
	// NotifyOutcome announces a finalized proposal.
	NotifyOutcome(ctx context.Context, proposal *Proposal, outcome Outcome) error
	// SeedVotes adds the bot's own favor/against reactions to a newly
	// admitted proposal message.
	SeedVotes(ctx context.Context, messageID snowflake.ID) error
}

// Reconciler keeps the proposal ledger in agreement with the live
// reaction state and drives proposals to their terminal outcomes. It
// runs incrementally on vote events and exhaustively on the daily sweep
// and after every reconnect.
type Reconciler struct {
	proposals *store.Store[Proposal]
	platform  Platform
	cfg       *config.Governance
	logger    *zap.Logger

	// Now is the clock used for expiry math. Tests override it.
	Now func() time.Time
}

// NewReconciler creates a reconciler over the given ledger.
func NewReconciler(
	proposals *store.Store[Proposal], platform Platform, cfg *config.Governance, logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		proposals: proposals,
		platform:  platform,
		cfg:       cfg,
		logger:    logger.Named("reconciler"),
		Now:       time.Now,
	}
}

// HandleProposals finalizes every proposal that reached a terminal
// state: passed, rejected or expired, checked in that order. Terminal
// proposals are announced and removed from the ledger. The caller
// persists the ledger afterwards.
func (r *Reconciler) HandleProposals(ctx context.Context) {
	now := r.Now()

	for _, id := range r.proposals.Keys() {
		proposal, _ := r.proposals.Get(id)

		outcome, done := proposal.Evaluate(now, r.cfg.PollDurationDays)
		if !done {
			continue
		}

		r.logger.Info("Proposal finalized",
			zap.Uint64("messageID", uint64(id)),
			zap.String("outcome", string(outcome)),
			zap.Int("yes", proposal.Yes),
			zap.Int("no", proposal.No),
			zap.Int("threshold", proposal.Threshold))

		if err := r.platform.NotifyOutcome(ctx, proposal, outcome); err != nil {
			// The proposal is still removed: outcomes derive from the
			// persisted tally, not from the announcement.
			r.logger.Error("Failed to announce proposal outcome",
				zap.Uint64("messageID", uint64(id)),
				zap.Error(err))
		}

		r.proposals.Remove(id)
	}
}

// CheckIntegrity reconciles the ledger against the authoritative
// reaction state of the proposal channel. It drops proposals whose
// message is gone, re-admits proposal messages missing from the ledger,
// retracts votes cast by ineligible members and forces every stored
// tally to match the live reaction counts. All drift is corrected in
// place and logged, never surfaced as fatal.
func (r *Reconciler) CheckIntegrity(ctx context.Context) error {
	oldest, ok := r.oldestTimestamp()
	if !ok {
		return nil
	}

	messages, err := withFetchRetry(ctx, func() ([]ChannelMessage, error) {
		return r.platform.ProposalMessages(ctx, oldest)
	})
	if err != nil {
		return fmt.Errorf("failed to fetch proposal channel state: %w", err)
	}

	live := make(map[snowflake.ID]ChannelMessage, len(messages))
	for _, msg := range messages {
		if !msg.FromBot {
			live[msg.ID] = msg
		}
	}

	// Ledger entries whose message vanished are dead votes.
	for _, id := range r.proposals.Keys() {
		if _, ok := live[id]; !ok {
			r.logger.Warn("Dropping proposal with deleted message", zap.Uint64("messageID", uint64(id)))
			r.proposals.Remove(id)
		}
	}

	for id, msg := range live {
		if _, ok := r.proposals.Get(id); !ok {
			r.readmit(ctx, msg)
		}

		if proposal, ok := r.proposals.Get(id); ok {
			r.reconcileTallies(ctx, id, proposal)
		}
	}

	return nil
}

// oldestTimestamp returns the creation time of the oldest known
// proposal. With an empty ledger there is nothing to anchor a channel
// fetch to, so the sweep is skipped.
func (r *Reconciler) oldestTimestamp() (time.Time, bool) {
	var oldest time.Time

	r.proposals.Each(func(_ snowflake.ID, proposal *Proposal) {
		if oldest.IsZero() || proposal.Timestamp.Before(oldest) {
			oldest = proposal.Timestamp
		}
	})

	return oldest, !oldest.IsZero()
}

// readmit restores a proposal message that exists in the channel but
// not in the ledger, typically because the store predates the message
// or a create event was missed while offline.
func (r *Reconciler) readmit(ctx context.Context, msg ChannelMessage) {
	voterCount, err := r.platform.EligibleVoterCount(ctx)
	if err != nil {
		r.logger.Error("Failed to count eligible voters for re-admitted proposal",
			zap.Uint64("messageID", uint64(msg.ID)),
			zap.Error(err))

		return
	}

	proposal := NewProposal(msg.Content, msg.Author, voterCount, msg.Timestamp)
	r.proposals.Add(msg.ID, proposal)

	if err := r.platform.SeedVotes(ctx, msg.ID); err != nil {
		r.logger.Error("Failed to seed votes on re-admitted proposal",
			zap.Uint64("messageID", uint64(msg.ID)),
			zap.Error(err))
	}

	r.logger.Warn("Re-admitted proposal missing from ledger",
		zap.Uint64("messageID", uint64(msg.ID)),
		zap.Uint64("author", uint64(msg.Author)))
}

// reconcileTallies forces one proposal's stored tally to the live
// reaction counts, retracting ineligible votes along the way. The
// bot's own seed reactions never count; if a seed reaction is missing
// the assumption behind the accounting is violated, so that is flagged
// instead of silently trusted.
func (r *Reconciler) reconcileTallies(ctx context.Context, id snowflake.ID, proposal *Proposal) {
	counts := make(map[VoteSignal]int, 2)

	for _, signal := range []VoteSignal{SignalFavor, SignalAgainst} {
		voters, err := withFetchRetry(ctx, func() ([]Voter, error) {
			return r.platform.ReactionVoters(ctx, id, signal)
		})
		if err != nil {
			r.logger.Error("Failed to fetch reaction state, keeping stored tally",
				zap.Uint64("messageID", uint64(id)),
				zap.String("signal", string(signal)),
				zap.Error(err))

			counts[signal] = tally(proposal, signal)

			continue
		}

		var botSeen bool

		for _, voter := range voters {
			switch {
			case voter.Bot:
				botSeen = true
			case !voter.Eligible:
				if err := r.platform.RemoveVote(ctx, id, voter.ID, signal); err != nil {
					r.logger.Error("Failed to retract ineligible vote",
						zap.Uint64("messageID", uint64(id)),
						zap.Uint64("memberID", uint64(voter.ID)),
						zap.Error(err))
				}
			default:
				counts[signal]++
			}
		}

		if !botSeen {
			r.logger.Warn("Bot seed reaction missing from proposal",
				zap.Uint64("messageID", uint64(id)),
				zap.String("signal", string(signal)))
		}

		if counts[signal] != tally(proposal, signal) {
			r.logger.Warn("Vote tally drift corrected",
				zap.Uint64("messageID", uint64(id)),
				zap.String("signal", string(signal)),
				zap.Int("stored", tally(proposal, signal)),
				zap.Int("live", counts[signal]))
		}
	}

	proposal.SetVotes(counts[SignalFavor], counts[SignalAgainst])
}

func tally(proposal *Proposal, signal VoteSignal) int {
	if signal == SignalFavor {
		return proposal.Yes
	}

	return proposal.No
}

// withFetchRetry wraps a platform fetch in exponential backoff.
func withFetchRetry[T any](ctx context.Context, fetch func() (T, error)) (T, error) {
	var result T

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(fetchMaxElapsedTime),
		backoff.WithInitialInterval(fetchInitialInterval),
		backoff.WithMaxInterval(fetchMaxInterval),
	), fetchMaxRetries)

	err := backoff.Retry(func() error {
		var err error

		result, err = fetch()

		return err
	}, backoff.WithContext(b, ctx))

	return result, err
}
