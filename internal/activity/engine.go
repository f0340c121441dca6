package activity

import (
	"time"

	"github.com/agorabot/agora/internal/setup/config"
	"github.com/agorabot/agora/pkg/utils"
)

// Engine applies the engagement algorithms to one member record at a
// time. It is stateless with respect to the ledger: callers look the
// record up, run the operation and decide when to persist.
type Engine struct {
	cfg *config.Engagement

	// Now is the clock used for all date arithmetic. Tests override it.
	Now func() time.Time
}

// NewEngine creates an engine with the given thresholds and durations.
func NewEngine(cfg *config.Engagement) *Engine {
	return &Engine{cfg: cfg, Now: time.Now}
}

func (e *Engine) today() utils.Date {
	return utils.DateOf(e.Now())
}

// RecordMessage counts one qualifying message. On the first message of
// a new day the previous day's running counter is folded into the
// bucket of the weekday it belongs to before today's count restarts.
func (e *Engine) RecordMessage(m *MemberRecord) {
	today := e.today()

	switch {
	case m.LastMessageDate == nil:
		m.TodayCounter = 1
		m.LastMessageDate = &today
	case m.LastMessageDate.Equal(today):
		m.TodayCounter++
	default:
		// Day rollover: consolidate the stale running counter first.
		if m.TodayCounter > 0 {
			m.Buckets[m.LastMessageDate.WeekdayIndex()] += m.TodayCounter
		}

		m.TodayCounter = 1
		m.LastMessageDate = &today
	}

	m.OratorTotalMessages++
}

// UnrecordMessage undoes amount counted messages after a deletion.
// Both counters floor at zero; a day rollover is never reversed.
func (e *Engine) UnrecordMessage(m *MemberRecord, amount int) {
	m.TodayCounter = max(0, m.TodayCounter-amount)
	m.OratorTotalMessages = max(0, m.OratorTotalMessages-amount)
}

// Clean is the idempotent catch-up for arbitrary elapsed downtime. It
// folds the running counter into the bucket of the day it was counted
// on, then purges every bucket that became stale across the gap. With
// no elapsed day it is a no-op, so calling it twice changes nothing.
func (e *Engine) Clean(m *MemberRecord) {
	if m.LastMessageDate == nil {
		return
	}

	today := e.today()
	if m.LastMessageDate.Equal(today) {
		return
	}

	last := *m.LastMessageDate
	m.Buckets[last.WeekdayIndex()] += m.TodayCounter
	m.TodayCounter = 0

	// Zero every weekday slot strictly between the last message's
	// weekday and today's, walking forward mod 7. Those slots now
	// describe days the member sat out.
	for i := (last.WeekdayIndex() + 1) % 7; i != today.WeekdayIndex(); i = (i + 1) % 7 {
		m.Buckets[i] = 0
	}
}

// ForgetLastWeek zeroes the bucket for today's weekday, the slot that
// held "seven days ago" before today's rollover. The scheduler calls it
// once per sweep, after Clean, to enforce the rolling window.
func (e *Engine) ForgetLastWeek(m *MemberRecord) {
	m.Buckets[e.today().WeekdayIndex()] = 0
}

// OratorMessages is the trailing-week count shown to members: all
// buckets except today's slot, plus today's running counter. Display
// only; eligibility uses ConsolidatedMessages.
func (e *Engine) OratorMessages(m *MemberRecord) int {
	total := m.TodayCounter

	todayIdx := e.today().WeekdayIndex()
	for i, count := range m.Buckets {
		if i != todayIdx {
			total += count
		}
	}

	return total
}

// SetOrator grants the orator role and restarts the accumulation clock
// by zeroing every bucket.
func (e *Engine) SetOrator(m *MemberRecord) {
	expiration := e.today().AddDays(e.cfg.OratorDurationDays)

	m.Orator = true
	m.OratorExpiration = &expiration
	m.Buckets = [7]int{}
}

// RemoveOrator revokes the orator role.
func (e *Engine) RemoveOrator(m *MemberRecord) {
	m.Orator = false
	m.OratorExpiration = nil
}

// OratorExpired reports whether the orator role has run out.
func (e *Engine) OratorExpired(m *MemberRecord) bool {
	return m.Orator && m.OratorExpiration != nil && !e.today().Before(*m.OratorExpiration)
}

// IncreaseDankCounter advances the burst window. When no window is open
// or the open one has lapsed, a fresh window starts at the current
// message; otherwise the message lands in the running buffer.
func (e *Engine) IncreaseDankCounter(m *MemberRecord) {
	now := e.Now()
	window := e.dankWindow()

	if m.DankFirstMessage == nil || now.Sub(*m.DankFirstMessage) > window {
		m.DankFirstMessage = &now
		m.DankMessagesBuffer = 1
	} else {
		m.DankMessagesBuffer++
	}

	m.DankTotalMessages++
}

// EligibleForDank reports whether the current burst clears the bar.
func (e *Engine) EligibleForDank(m *MemberRecord) bool {
	return m.DankMessagesBuffer >= e.cfg.DankThreshold
}

// SetDank grants the dank role and resets the burst window.
func (e *Engine) SetDank(m *MemberRecord) {
	expiration := e.Now().Add(e.dankWindow())

	m.Dank = true
	m.DankExpiration = &expiration
	m.DankMessagesBuffer = 0
	m.DankFirstMessage = nil
}

// RemoveDank revokes the dank role.
func (e *Engine) RemoveDank(m *MemberRecord) {
	m.Dank = false
	m.DankExpiration = nil
}

// DankExpired reports whether the dank role has run out.
func (e *Engine) DankExpired(m *MemberRecord) bool {
	return m.Dank && m.DankExpiration != nil && !e.Now().Before(*m.DankExpiration)
}

func (e *Engine) dankWindow() time.Duration {
	return time.Duration(e.cfg.DankDurationDays) * 24 * time.Hour
}

// ModifyWarn adjusts the strike count by delta, flooring at zero. The
// violation date moves only on a new strike and clears with the count.
func (e *Engine) ModifyWarn(m *MemberRecord, delta int) {
	m.ViolationsCount = max(0, m.ViolationsCount+delta)

	switch {
	case m.ViolationsCount == 0:
		m.LastViolationDate = nil
	case delta > 0:
		today := e.today()
		m.LastViolationDate = &today
	}
}

// ResetViolations wipes the strikes of a member whose last violation
// has aged past the reset horizon. It returns the number of violations
// cleared so the sweep can log the decay.
func (e *Engine) ResetViolations(m *MemberRecord) int {
	if m.LastViolationDate == nil {
		return 0
	}

	if m.LastViolationDate.DaysUntil(e.today()) < e.cfg.ViolationsResetDays {
		return 0
	}

	cleared := m.ViolationsCount
	m.ViolationsCount = 0
	m.LastViolationDate = nil

	return cleared
}
