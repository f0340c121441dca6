package core

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/agorabot/agora/internal/activity"
	"github.com/agorabot/agora/pkg/utils"
)

// The command-layer collaborators mutate records through the methods
// below; parsing and permission checks live with them, not here.

// ModifyWarn adjusts a member's strike count by delta and reports the
// resulting count. The second return is false for untracked members.
func (s *Service) ModifyWarn(_ context.Context, memberID snowflake.ID, delta int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.members.Get(memberID)
	if !ok {
		return 0, false
	}

	s.engine.ModifyWarn(record, delta)
	s.saveMembers()

	s.logger.Info("Violations adjusted",
		zap.Uint64("memberID", uint64(memberID)),
		zap.Int("delta", delta),
		zap.Int("count", record.ViolationsCount))

	return record.ViolationsCount, true
}

// SetBio replaces a member's bio line.
func (s *Service) SetBio(_ context.Context, memberID snowflake.ID, bio string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.members.Get(memberID)
	if !ok {
		return false
	}

	record.Bio = bio
	s.saveMembers()

	return true
}

// SetNickname records a nickname change and stamps the change date so
// the command layer can enforce its cooldown.
func (s *Service) SetNickname(_ context.Context, memberID snowflake.ID, nickname string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.members.Get(memberID)
	if !ok {
		return false
	}

	today := utils.DateOf(s.Now())
	record.Nickname = nickname
	record.LastNickChange = &today
	s.saveMembers()

	return true
}

// MemberSnapshot returns a copy of a member's record for display.
func (s *Service) MemberSnapshot(memberID snowflake.ID) (activity.MemberRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.members.Get(memberID)
	if !ok {
		return activity.MemberRecord{}, false
	}

	return *record, true
}
