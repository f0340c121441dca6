// Package governance implements community proposals: majority voting
// with tallies kept in agreement with the live reaction state of the
// proposal channel.
package governance

import (
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/agorabot/agora/pkg/utils"
)

// VoteSignal identifies the side a vote lands on.
type VoteSignal string

const (
	SignalFavor   VoteSignal = "favor"
	SignalAgainst VoteSignal = "against"
)

// Outcome is the terminal state of a finalized proposal.
type Outcome string

const (
	OutcomePassed   Outcome = "passed"
	OutcomeRejected Outcome = "rejected"
	OutcomeExpired  Outcome = "expired"
)

// Proposal is one governance vote, keyed in the ledger by the id of the
// message that carries it.
type Proposal struct {
	// Creation time, anchored to midnight for expiry math.
	Timestamp time.Time `json:"timestamp"`
	// Eligible-voter count snapshotted at creation.
	TotalVoters int `json:"total_voters"`
	// Votes needed on either side to pass or reject.
	Threshold int          `json:"threshold"`
	Content   string       `json:"content"`
	Author    snowflake.ID `json:"author"`
	Passed    bool         `json:"passed"`
	Rejected  bool         `json:"rejected"`
	Yes       int          `json:"yes"`
	No        int          `json:"no"`
}

// NewProposal creates an open proposal. The threshold is an absolute
// majority of the voter snapshot.
func NewProposal(content string, author snowflake.ID, voterSnapshot int, now time.Time) *Proposal {
	return &Proposal{
		Timestamp:   now,
		TotalVoters: voterSnapshot,
		Threshold:   voterSnapshot/2 + 1,
		Content:     content,
		Author:      author,
	}
}

// AdjustVote moves one tally by delta, flooring at zero, and recomputes
// the pass/reject flags. A proposal can flip back to open as votes
// change hands; the state only becomes terminal when the daily sweep
// commits it.
func (p *Proposal) AdjustVote(signal VoteSignal, delta int) {
	switch signal {
	case SignalFavor:
		p.Yes = max(0, p.Yes+delta)
	case SignalAgainst:
		p.No = max(0, p.No+delta)
	}

	p.refresh()
}

// SetVotes forces both tallies to authoritative counts, discarding any
// incremental drift, and recomputes the flags.
func (p *Proposal) SetVotes(yes, no int) {
	p.Yes = max(0, yes)
	p.No = max(0, no)
	p.refresh()
}

func (p *Proposal) refresh() {
	p.Passed = p.Yes >= p.Threshold
	p.Rejected = p.No >= p.Threshold
}

// ExpiresAt returns the instant the proposal lapses: poll duration days
// after the midnight of its creation day.
func (p *Proposal) ExpiresAt(pollDurationDays int) time.Time {
	return utils.Midnight(p.Timestamp).AddDate(0, 0, pollDurationDays)
}

// Expired reports whether the proposal has outlived its poll window.
func (p *Proposal) Expired(now time.Time, pollDurationDays int) bool {
	return !now.Before(p.ExpiresAt(pollDurationDays))
}

// Evaluate decides the terminal outcome of the proposal, in the fixed
// passed, rejected, expired order. The second return is false while the
// proposal is still open.
func (p *Proposal) Evaluate(now time.Time, pollDurationDays int) (Outcome, bool) {
	switch {
	case p.Passed:
		return OutcomePassed, true
	case p.Rejected:
		return OutcomeRejected, true
	case p.Expired(now, pollDurationDays):
		return OutcomeExpired, true
	default:
		return "", false
	}
}
