package core_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agorabot/agora/internal/activity"
	"github.com/agorabot/agora/internal/core"
	"github.com/agorabot/agora/internal/governance"
	"github.com/agorabot/agora/internal/setup/config"
	"github.com/agorabot/agora/internal/store"
)

const (
	guildID         snowflake.ID = 1
	proposalChannel snowflake.ID = 10
	generalChannel  snowflake.ID = 11
	excludedChannel snowflake.ID = 12
	baseRole        snowflake.ID = 20
	oratorRole      snowflake.ID = 21
	dankRole        snowflake.ID = 22
)

// 2024-04-01 is a Monday.
var monday = time.Date(2024, time.April, 1, 12, 0, 0, 0, time.Local)

type roleChange struct {
	memberID snowflake.ID
	roleID   snowflake.ID
}

// fakeActuator records intents instead of hitting the platform.
type fakeActuator struct {
	granted       []roleChange
	revoked       []roleChange
	notifications []string
	seeded        []snowflake.ID
	removedVotes  []snowflake.ID
	voterCount    int
	privileged    map[snowflake.ID]bool
	guildMembers  []snowflake.ID
}

func (f *fakeActuator) GrantRole(_ context.Context, memberID, roleID snowflake.ID) error {
	f.granted = append(f.granted, roleChange{memberID, roleID})
	return nil
}

func (f *fakeActuator) RevokeRole(_ context.Context, memberID, roleID snowflake.ID) error {
	f.revoked = append(f.revoked, roleChange{memberID, roleID})
	return nil
}

func (f *fakeActuator) Notify(_ context.Context, content string) error {
	f.notifications = append(f.notifications, content)
	return nil
}

func (f *fakeActuator) HasPrivilegeAbove(_ context.Context, memberID, _ snowflake.ID) (bool, error) {
	return f.privileged[memberID], nil
}

func (f *fakeActuator) EligibleVoterCount(context.Context) (int, error) {
	return f.voterCount, nil
}

func (f *fakeActuator) GuildMemberIDs(context.Context) (map[snowflake.ID]struct{}, error) {
	ids := make(map[snowflake.ID]struct{}, len(f.guildMembers))
	for _, id := range f.guildMembers {
		ids[id] = struct{}{}
	}

	return ids, nil
}

func (f *fakeActuator) SeedVotes(_ context.Context, messageID snowflake.ID) error {
	f.seeded = append(f.seeded, messageID)
	return nil
}

func (f *fakeActuator) RemoveVote(
	_ context.Context, _ snowflake.ID, memberID snowflake.ID, _ governance.VoteSignal,
) error {
	f.removedVotes = append(f.removedVotes, memberID)
	return nil
}

// stubPlatform scripts the authoritative channel state the reconciler
// sees during a sweep.
type stubPlatform struct {
	messages []governance.ChannelMessage
	voters   map[snowflake.ID]map[governance.VoteSignal][]governance.Voter
}

func (s *stubPlatform) ProposalMessages(context.Context, time.Time) ([]governance.ChannelMessage, error) {
	return s.messages, nil
}

func (s *stubPlatform) ReactionVoters(
	_ context.Context, messageID snowflake.ID, signal governance.VoteSignal,
) ([]governance.Voter, error) {
	return s.voters[messageID][signal], nil
}

func (s *stubPlatform) RemoveVote(context.Context, snowflake.ID, snowflake.ID, governance.VoteSignal) error {
	return nil
}

func (s *stubPlatform) EligibleVoterCount(context.Context) (int, error) { return 10, nil }

func (s *stubPlatform) NotifyOutcome(context.Context, *governance.Proposal, governance.Outcome) error {
	return nil
}

func (s *stubPlatform) SeedVotes(context.Context, snowflake.ID) error { return nil }

type fixture struct {
	service   *core.Service
	engine    *activity.Engine
	members   *store.Store[activity.MemberRecord]
	proposals *store.Store[governance.Proposal]
	actuator  *fakeActuator
	platform  *stubPlatform
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	cfg := &config.Config{
		Discord: config.Discord{
			GuildID:           guildID,
			ProposalChannelID: proposalChannel,
			ExcludedChannels:  []snowflake.ID{excludedChannel},
			BaseRoleID:        baseRole,
			OratorRoleID:      oratorRole,
			DankRoleID:        dankRole,
			PrivilegeRoles:    []snowflake.ID{baseRole, oratorRole, dankRole},
		},
		Engagement: config.Engagement{
			OratorThreshold:     10,
			OratorDurationDays:  30,
			DankThreshold:       3,
			DankDurationDays:    3,
			ViolationsResetDays: 30,
		},
		Governance: config.Governance{PollDurationDays: 3},
	}

	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	members := store.New(filepath.Join(dir, "members.json"), (*activity.MemberRecord).Validate, logger)
	proposals := store.New[governance.Proposal](filepath.Join(dir, "proposals.json"), nil, logger)

	engine := activity.NewEngine(&cfg.Engagement)
	engine.Now = func() time.Time { return now }

	platform := &stubPlatform{
		voters: make(map[snowflake.ID]map[governance.VoteSignal][]governance.Voter),
	}

	reconciler := governance.NewReconciler(proposals, platform, &cfg.Governance, logger)
	reconciler.Now = func() time.Time { return now }

	actuator := &fakeActuator{voterCount: 10, privileged: make(map[snowflake.ID]bool)}
	service := core.NewService(cfg, members, proposals, engine, reconciler, actuator, logger)
	service.Now = func() time.Time { return now }

	return &fixture{
		service:   service,
		engine:    engine,
		members:   members,
		proposals: proposals,
		actuator:  actuator,
		platform:  platform,
	}
}

func memberMessage(author snowflake.ID, channel snowflake.ID) core.MessageEvent {
	return core.MessageEvent{
		MessageID:      500,
		ChannelID:      channel,
		AuthorID:       author,
		AuthorNickname: "afler",
		AuthorRoles:    []snowflake.ID{baseRole},
		Timestamp:      monday,
	}
}

func TestHandleMessageTracksMember(t *testing.T) {
	t.Parallel()

	f := newFixture(t, monday)

	f.service.HandleMessage(context.Background(), memberMessage(2, generalChannel))

	record, ok := f.members.Get(2)
	require.True(t, ok)
	assert.Equal(t, 1, record.TodayCounter)
	assert.Equal(t, 1, record.OratorTotalMessages)
}

func TestHandleMessageIgnoresUntrackedAuthors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, monday)

	ev := memberMessage(2, generalChannel)
	ev.AuthorRoles = nil
	f.service.HandleMessage(context.Background(), ev)

	ev = memberMessage(3, generalChannel)
	ev.FromBot = true
	f.service.HandleMessage(context.Background(), ev)

	assert.Equal(t, 0, f.members.Len())
}

func TestHandleMessageGrantsDankOnBurst(t *testing.T) {
	t.Parallel()

	f := newFixture(t, monday)

	for range 3 {
		f.service.HandleMessage(context.Background(), memberMessage(2, generalChannel))
	}

	record, ok := f.members.Get(2)
	require.True(t, ok)
	assert.True(t, record.Dank)
	assert.Equal(t, []roleChange{{2, dankRole}}, f.actuator.granted)
}

func TestHandleMessageAdmitsProposal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, monday)

	f.service.HandleMessage(context.Background(), memberMessage(2, proposalChannel))

	proposal, ok := f.proposals.Get(500)
	require.True(t, ok)
	assert.Equal(t, 6, proposal.Threshold)
	assert.Equal(t, snowflake.ID(2), proposal.Author)
	assert.Equal(t, []snowflake.ID{500}, f.actuator.seeded)
	assert.Equal(t, 0, f.members.Len(), "proposal messages don't count as engagement")
}

func TestHandleReaction(t *testing.T) {
	t.Parallel()

	t.Run("eligible vote adjusts the tally", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.service.HandleMessage(context.Background(), memberMessage(2, proposalChannel))

		f.service.HandleReaction(context.Background(), core.ReactionEvent{
			MessageID:   500,
			MemberID:    3,
			MemberRoles: []snowflake.ID{baseRole},
			Favor:       true,
			Added:       true,
		})

		proposal, _ := f.proposals.Get(500)
		assert.Equal(t, 1, proposal.Yes)

		f.service.HandleReaction(context.Background(), core.ReactionEvent{
			MessageID: 500,
			MemberID:  3,
			Favor:     true,
			Added:     false,
		})

		proposal, _ = f.proposals.Get(500)
		assert.Equal(t, 0, proposal.Yes)
	})

	t.Run("ineligible vote is retracted, not counted", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.service.HandleMessage(context.Background(), memberMessage(2, proposalChannel))

		f.service.HandleReaction(context.Background(), core.ReactionEvent{
			MessageID: 500,
			MemberID:  9,
			Favor:     true,
			Added:     true,
		})

		proposal, _ := f.proposals.Get(500)
		assert.Equal(t, 0, proposal.Yes)
		assert.Equal(t, []snowflake.ID{9}, f.actuator.removedVotes)
	})

	t.Run("unknown message ignored", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.service.HandleReaction(context.Background(), core.ReactionEvent{
			MessageID: 777,
			MemberID:  3,
			Favor:     true,
			Added:     true,
		})

		assert.Empty(t, f.actuator.removedVotes)
	})
}

func TestHandleMessageDelete(t *testing.T) {
	t.Parallel()

	t.Run("uncounts a member message", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.service.HandleMessage(context.Background(), memberMessage(2, generalChannel))

		f.service.HandleMessageDelete(context.Background(), core.MessageDeleteEvent{
			MessageID: 500,
			ChannelID: generalChannel,
			AuthorID:  2,
			Count:     1,
		})

		record, _ := f.members.Get(2)
		assert.Equal(t, 0, record.TodayCounter)
	})

	t.Run("retracts several messages at once", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		for range 2 {
			f.service.HandleMessage(context.Background(), memberMessage(2, generalChannel))
		}

		f.service.HandleMessageDelete(context.Background(), core.MessageDeleteEvent{
			MessageID: 500,
			ChannelID: generalChannel,
			AuthorID:  2,
			Count:     2,
		})

		record, _ := f.members.Get(2)
		assert.Equal(t, 0, record.TodayCounter)
		assert.Equal(t, 0, record.OratorTotalMessages)
	})

	t.Run("drops a proposal with its message", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.service.HandleMessage(context.Background(), memberMessage(2, proposalChannel))

		f.service.HandleMessageDelete(context.Background(), core.MessageDeleteEvent{
			MessageID: 500,
			ChannelID: proposalChannel,
		})

		_, ok := f.proposals.Get(500)
		assert.False(t, ok)
	})

	t.Run("ignores deletions in channels that never count", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.service.HandleMessage(context.Background(), memberMessage(2, generalChannel))

		f.service.HandleMessageDelete(context.Background(), core.MessageDeleteEvent{
			MessageID: 501,
			ChannelID: excludedChannel,
			AuthorID:  2,
			Count:     1,
		})

		f.service.HandleMessageDelete(context.Background(), core.MessageDeleteEvent{
			MessageID: 502,
			ChannelID: proposalChannel,
			AuthorID:  2,
			Count:     1,
		})

		record, _ := f.members.Get(2)
		assert.Equal(t, 1, record.TodayCounter, "only counted messages are retracted")
		assert.Equal(t, 1, record.OratorTotalMessages)
	})
}

func TestHandleReconnect(t *testing.T) {
	t.Parallel()

	t.Run("drops records of departed members", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.members.Add(2, activity.NewMemberRecord("afler"))
		f.members.Add(3, activity.NewMemberRecord("brel"))
		f.actuator.guildMembers = []snowflake.ID{2}

		f.service.HandleReconnect(context.Background())

		_, ok := f.members.Get(2)
		assert.True(t, ok)
		_, ok = f.members.Get(3)
		assert.False(t, ok, "member 3 left while offline")
	})

	t.Run("keeps all records when the roster comes back empty", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.members.Add(2, activity.NewMemberRecord("afler"))

		f.service.HandleReconnect(context.Background())

		assert.Equal(t, 1, f.members.Len())
	})
}

func TestHandleMemberRemove(t *testing.T) {
	t.Parallel()

	f := newFixture(t, monday)
	f.service.HandleMessage(context.Background(), memberMessage(2, generalChannel))

	f.service.HandleMemberRemove(context.Background(), 2)

	assert.Equal(t, 0, f.members.Len())
}

func TestDailySweep(t *testing.T) {
	t.Parallel()

	t.Run("promotes an eligible member", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		record := activity.NewMemberRecord("afler")
		record.Buckets = [7]int{3, 3, 4}
		f.members.Add(2, record)

		f.service.DailySweep(context.Background())

		assert.Equal(t, []roleChange{{2, oratorRole}}, f.actuator.granted)
		assert.True(t, record.Orator)
		assert.Equal(t, 0, record.ConsolidatedMessages(), "accumulation clock restarted")
	})

	t.Run("skips promotion above the role", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		record := activity.NewMemberRecord("afler")
		record.Buckets = [7]int{3, 3, 4}
		f.members.Add(2, record)
		f.actuator.privileged[2] = true

		f.service.DailySweep(context.Background())

		assert.Empty(t, f.actuator.granted)
		assert.False(t, record.Orator)
	})

	t.Run("revokes expired roles", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.engine.Now = func() time.Time { return monday.AddDate(0, 0, -40) }

		record := activity.NewMemberRecord("afler")
		f.engine.SetOrator(record)
		f.engine.SetDank(record)
		f.members.Add(2, record)

		f.engine.Now = func() time.Time { return monday }
		f.service.DailySweep(context.Background())

		assert.ElementsMatch(t, []roleChange{{2, oratorRole}, {2, dankRole}}, f.actuator.revoked)
		assert.False(t, record.Orator)
		assert.False(t, record.Dank)
	})

	t.Run("promotion in the same pass blocks expiry", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.engine.Now = func() time.Time { return monday.AddDate(0, 0, -40) }

		record := activity.NewMemberRecord("afler")
		f.engine.SetOrator(record)

		f.engine.Now = func() time.Time { return monday }
		record.Buckets = [7]int{3, 3, 4}
		f.members.Add(2, record)

		f.service.DailySweep(context.Background())

		assert.True(t, record.Orator, "renewed, not expired")
		assert.Empty(t, f.actuator.revoked)
	})

	t.Run("decays aged violations", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		f.engine.Now = func() time.Time { return monday.AddDate(0, 0, -31) }

		record := activity.NewMemberRecord("afler")
		f.engine.ModifyWarn(record, 2)
		f.members.Add(2, record)

		f.engine.Now = func() time.Time { return monday }
		f.service.DailySweep(context.Background())

		assert.Equal(t, 0, record.ViolationsCount)
		require.Len(t, f.actuator.notifications, 1)
		assert.Contains(t, f.actuator.notifications[0], "2 expired violation(s)")
	})

	t.Run("finalizes concluded proposals", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, monday)
		created := monday.AddDate(0, 0, -1)
		f.proposals.Add(600, governance.NewProposal("content", 3, 10, created))

		f.platform.messages = []governance.ChannelMessage{
			{ID: 600, Author: 3, Content: "content", Timestamp: created},
		}
		favor := make([]governance.Voter, 0, 6)
		for id := snowflake.ID(30); id < 36; id++ {
			favor = append(favor, governance.Voter{ID: id, Eligible: true})
		}
		f.platform.voters[600] = map[governance.VoteSignal][]governance.Voter{
			governance.SignalFavor: append(favor, governance.Voter{ID: 999, Bot: true}),
		}

		f.service.DailySweep(context.Background())

		_, ok := f.proposals.Get(600)
		assert.False(t, ok, "six live favor votes pass and finalize the proposal")
	})
}

func TestCommands(t *testing.T) {
	t.Parallel()

	f := newFixture(t, monday)
	f.service.HandleMessage(context.Background(), memberMessage(2, generalChannel))

	count, ok := f.service.ModifyWarn(context.Background(), 2, 1)
	require.True(t, ok)
	assert.Equal(t, 1, count)

	_, ok = f.service.ModifyWarn(context.Background(), 99, 1)
	assert.False(t, ok)

	require.True(t, f.service.SetBio(context.Background(), 2, "hello"))
	require.True(t, f.service.SetNickname(context.Background(), 2, "renamed"))

	snapshot, ok := f.service.MemberSnapshot(2)
	require.True(t, ok)
	assert.Equal(t, "hello", snapshot.Bio)
	assert.Equal(t, "renamed", snapshot.Nickname)
	require.NotNil(t, snapshot.LastNickChange)
}
