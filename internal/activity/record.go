// Package activity implements the per-member engagement ledger: rolling
// weekday counters, the two privilege-role eligibility tracks and the
// disciplinary strike decay.
package activity

import (
	"errors"
	"fmt"
	"time"

	"github.com/agorabot/agora/pkg/utils"
)

var errNegativeCounter = errors.New("negative counter")

// MemberRecord holds the engagement state of one tracked member.
//
// The seven Buckets slots hold consolidated message counts per calendar
// weekday (Monday first), excluding today; today's running count lives
// in TodayCounter until the next day rollover folds it in. The orator
// track accumulates over these calendar buckets while the dank track
// uses an independent sliding burst window; the two must not share
// state or reset semantics.
type MemberRecord struct {
	Nickname       string      `json:"nickname"`
	LastNickChange *utils.Date `json:"last_nick_change"`

	Buckets         [7]int      `json:"daily_buckets"`
	TodayCounter    int         `json:"today_counter"`
	LastMessageDate *utils.Date `json:"last_message_date"`

	Orator              bool        `json:"orator"`
	OratorExpiration    *utils.Date `json:"orator_expiration"`
	OratorTotalMessages int         `json:"orator_total_messages"`

	Dank               bool       `json:"dank"`
	DankMessagesBuffer int        `json:"dank_messages_buffer"`
	DankFirstMessage   *time.Time `json:"dank_first_message_timestamp"`
	DankExpiration     *time.Time `json:"dank_expiration"`
	DankTotalMessages  int        `json:"dank_total_messages"`

	ViolationsCount   int         `json:"violations_count"`
	LastViolationDate *utils.Date `json:"last_violation_date"`

	Bio string `json:"bio,omitempty"`
}

// NewMemberRecord creates a fresh record for a member seen for the
// first time.
func NewMemberRecord(nickname string) *MemberRecord {
	return &MemberRecord{Nickname: nickname}
}

// Validate checks the record invariants once at load time. A violation
// means the store file was edited or damaged, not a runtime bug.
func (m *MemberRecord) Validate() error {
	if m.TodayCounter < 0 {
		return fmt.Errorf("%w: today_counter %d", errNegativeCounter, m.TodayCounter)
	}

	for i, count := range m.Buckets {
		if count < 0 {
			return fmt.Errorf("%w: daily_buckets[%d] %d", errNegativeCounter, i, count)
		}
	}

	if m.DankMessagesBuffer < 0 {
		return fmt.Errorf("%w: dank_messages_buffer %d", errNegativeCounter, m.DankMessagesBuffer)
	}

	if m.ViolationsCount < 0 {
		return fmt.Errorf("%w: violations_count %d", errNegativeCounter, m.ViolationsCount)
	}

	if (m.ViolationsCount == 0) != (m.LastViolationDate == nil) {
		return errors.New("violations_count and last_violation_date disagree")
	}

	return nil
}

// ConsolidatedMessages sums all seven weekday buckets, excluding
// today's running counter. Only fully elapsed days count toward orator
// eligibility.
func (m *MemberRecord) ConsolidatedMessages() int {
	var total int
	for _, count := range m.Buckets {
		total += count
	}

	return total
}
