// Package core ties the ledgers, the engagement engine and the vote
// reconciler together behind the normalized event surface the platform
// adapter drives. All record mutation funnels through one Service so a
// record is never observed half-updated.
package core

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// MessageEvent is a normalized message creation.
type MessageEvent struct {
	MessageID snowflake.ID
	ChannelID snowflake.ID
	AuthorID  snowflake.ID
	// Nickname the author currently displays.
	AuthorNickname string
	// Roles the author currently holds.
	AuthorRoles []snowflake.ID
	Content     string
	Timestamp   time.Time
	FromBot     bool
}

// MessageDeleteEvent is a normalized message (or bulk) deletion. Count
// is the number of deleted messages attributed to the author.
type MessageDeleteEvent struct {
	MessageID snowflake.ID
	ChannelID snowflake.ID
	AuthorID  snowflake.ID
	Count     int
}

// ReactionEvent is a normalized vote reaction change.
type ReactionEvent struct {
	MessageID snowflake.ID
	ChannelID snowflake.ID
	MemberID  snowflake.ID
	// Roles the reacting member currently holds. Empty on removals,
	// where eligibility no longer matters.
	MemberRoles []snowflake.ID
	Favor       bool
	Added       bool
	FromBot     bool
}

// MemberUpdateEvent is a normalized member profile change.
type MemberUpdateEvent struct {
	MemberID snowflake.ID
	Nickname string
	Roles    []snowflake.ID
}
