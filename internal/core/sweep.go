package core

import (
	"context"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/agorabot/agora/internal/activity"
)

// DailySweep walks every member record through the role lifecycle and
// finalizes proposals. It is anchored to local midnight by the
// scheduler but safe to skip or re-run: every step re-derives its
// effect from the persisted counters, so arbitrary downtime gaps
// converge on the next run. Each ledger is persisted exactly once.
func (s *Service) DailySweep(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Daily sweep started", zap.Int("members", s.members.Len()))

	s.members.Each(func(id snowflake.ID, record *activity.MemberRecord) {
		s.sweepMember(ctx, id, record)
	})

	s.saveMembers()

	if err := s.reconciler.CheckIntegrity(ctx); err != nil {
		s.logger.Error("Proposal integrity check failed", zap.Error(err))
	}

	s.reconciler.HandleProposals(ctx)
	s.saveProposals()

	s.logger.Info("Daily sweep finished")
}

func (s *Service) sweepMember(ctx context.Context, id snowflake.ID, record *activity.MemberRecord) {
	s.engine.Clean(record)

	// Expiry of a role granted in this same pass is not evaluated: the
	// fresh expiration already covers it.
	promoted := s.evaluatePromotion(ctx, id, record)

	if cleared := s.engine.ResetViolations(record); cleared > 0 {
		s.logger.Info("Violations decayed",
			zap.Uint64("memberID", uint64(id)),
			zap.Int("cleared", cleared))

		s.notify(ctx, fmt.Sprintf("Cleared %d expired violation(s) for %s.", cleared, record.Nickname))
	}

	s.engine.ForgetLastWeek(record)

	if !promoted && s.engine.OratorExpired(record) {
		s.engine.RemoveOrator(record)
		s.revoke(ctx, id, s.cfg.Discord.OratorRoleID, "orator")
	}

	if s.engine.DankExpired(record) {
		s.engine.RemoveDank(record)
		s.revoke(ctx, id, s.cfg.Discord.DankRoleID, "dank")
	}
}

// evaluatePromotion grants or renews the orator role when the
// consolidated week clears the threshold, unless the member's standing
// already exceeds it.
func (s *Service) evaluatePromotion(ctx context.Context, id snowflake.ID, record *activity.MemberRecord) bool {
	if record.ConsolidatedMessages() < s.cfg.Engagement.OratorThreshold {
		return false
	}

	above, err := s.actuator.HasPrivilegeAbove(ctx, id, s.cfg.Discord.OratorRoleID)
	if err != nil {
		s.logger.Error("Failed to rank member privileges, skipping promotion",
			zap.Uint64("memberID", uint64(id)),
			zap.Error(err))

		return false
	}

	if above {
		return false
	}

	if err := s.actuator.GrantRole(ctx, id, s.cfg.Discord.OratorRoleID); err != nil {
		// Not retried here. Eligibility is re-derived from persisted
		// counters on the next sweep.
		s.logger.Error("Failed to grant orator role",
			zap.Uint64("memberID", uint64(id)),
			zap.Error(err))
	}

	s.engine.SetOrator(record)
	s.logger.Info("Orator role granted", zap.Uint64("memberID", uint64(id)))

	return true
}

func (s *Service) revoke(ctx context.Context, memberID, roleID snowflake.ID, name string) {
	if err := s.actuator.RevokeRole(ctx, memberID, roleID); err != nil {
		s.logger.Error("Failed to revoke role",
			zap.Uint64("memberID", uint64(memberID)),
			zap.String("role", name),
			zap.Error(err))

		return
	}

	s.logger.Info("Role expired and revoked",
		zap.Uint64("memberID", uint64(memberID)),
		zap.String("role", name))
}

func (s *Service) notify(ctx context.Context, content string) {
	if err := s.actuator.Notify(ctx, content); err != nil {
		s.logger.Error("Failed to send notification", zap.Error(err))
	}
}
