package membership

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusMembership(t *testing.T) {
	require := require.New(t)

	require.True(Creator{Member: true}.IsMember())
	require.False(Creator{}.IsMember())
	require.True(Administrator{}.IsMember())
	require.True(Member{}.IsMember())
	require.True(Restricted{Member: true}.IsMember())
	require.False(Restricted{}.IsMember())
	require.False(Banned{}.IsMember())
	require.False(Left{}.IsMember())
}

func TestRankOnlyForPrivileged(t *testing.T) {
	require := require.New(t)

	require.Equal("founder", Rank(Creator{Rank: "founder", Member: true}))
	require.Equal("mod", Rank(Administrator{Rank: "mod"}))
	require.Equal("", Rank(Member{}))
	require.Equal("", Rank(Left{}))
}

func TestNormalizeLapsedRestriction(t *testing.T) {
	require := require.New(t)

	now := int64(1000)
	require.Equal(Member{}, Normalize(Restricted{Member: true, BannedUntil: 999}, now))
	require.Equal(Left{}, Normalize(Restricted{Member: false, BannedUntil: 999}, now))
	require.Equal(Left{}, Normalize(Banned{BannedUntil: 1000}, now))

	// zero means forever
	forever := Banned{BannedUntil: 0}
	require.Equal(Status(forever), Normalize(forever, now))
	still := Restricted{Member: true, BannedUntil: 2000}
	require.Equal(Status(still), Normalize(still, now))
}

func TestEffectiveAdminRights(t *testing.T) {
	require := require.New(t)

	require.True(CanManageInviteLinks(Creator{Member: true}))
	require.True(CanManageInviteLinks(Administrator{Rights: AdminRights{CanInviteUsers: true}}))
	require.False(CanManageInviteLinks(Administrator{Rights: AdminRights{CanRestrictMembers: true}}))
	require.False(CanManageInviteLinks(Member{}))
	require.True(CanPromoteMembers(Creator{}))
	require.False(CanRestrictMembers(Member{}))
}

func TestMemberRefValidity(t *testing.T) {
	require := require.New(t)

	require.True(UserRef(5).Valid())
	require.True(ConversationRef(9).Valid())
	require.False(MemberRef{}.Valid())
	require.False(MemberRef{User: 1, Conversation: 2}.Valid())
}

func TestParticipantValid(t *testing.T) {
	require := require.New(t)

	p := Participant{Member: UserRef(5), Inviter: 1, JoinedAt: 100, Status: Member{}}
	require.True(p.Valid())

	p.Status = nil
	require.False(p.Valid())

	p.Status = Member{}
	p.Member = MemberRef{}
	require.False(p.Valid())
}
