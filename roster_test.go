package roster

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/meadow-im/go-roster/clock"
	"github.com/meadow-im/go-roster/config"
	"github.com/meadow-im/go-roster/internal/test"
	"github.com/meadow-im/go-roster/membership"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	os.Exit(test.DBCleanup(m.Run))
}

type fakeTransport struct {
	lock    sync.Mutex
	sent    []Operation
	handler func(op Operation) (Reply, error)
}

func (ft *fakeTransport) Send(ctx context.Context, op Operation) (Reply, error) {
	ft.lock.Lock()
	ft.sent = append(ft.sent, op)
	handler := ft.handler
	ft.lock.Unlock()
	if handler == nil {
		return nil, nil
	}
	return handler(op)
}

func (ft *fakeTransport) ops() []Operation {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	return append([]Operation{}, ft.sent...)
}

func (ft *fakeTransport) mutations() []Operation {
	var muts []Operation
	for _, op := range ft.ops() {
		switch op.(type) {
		case GetParticipantOp, GetParticipantsOp, GetAdministratorsOp, GetOnlineCountOp, GetJoinRequestsOp:
		default:
			muts = append(muts, op)
		}
	}
	return muts
}

type fakeResolver struct {
	me            membership.UserID
	conversations map[membership.ConversationID]ConversationInfo
	users         map[membership.UserID]UserInfo
}

func (fr *fakeResolver) Conversation(id membership.ConversationID) (ConversationInfo, error) {
	info, ok := fr.conversations[id]
	if !ok {
		return ConversationInfo{}, errors.New("unknown conversation")
	}
	return info, nil
}

func (fr *fakeResolver) User(id membership.UserID) (UserInfo, error) {
	if u, ok := fr.users[id]; ok {
		return u, nil
	}
	return UserInfo{ID: id}, nil
}

func (fr *fakeResolver) Me() membership.UserID {
	return fr.me
}

func newTestRoster(t *testing.T, transport *fakeTransport, resolver *fakeResolver) *Roster {
	t.Helper()
	return newTestRosterDelay(t, transport, resolver, 10)
}

func newTestRosterDelay(t *testing.T, transport *fakeTransport, resolver *fakeResolver, readdDelayMs int64) *Roster {
	t.Helper()
	c := config.NewConfig(
		config.WithRootDir(t.TempDir()),
		config.WithLoggingPrefix("test"),
		config.WithKickReaddDelayMs(readdDelayMs),
	)
	r, err := New(c, clock.NewSystemClock(), transport, resolver)
	require.Nil(t, err)
	require.Nil(t, r.Open("test-password"))
	t.Cleanup(func() {
		if err := r.Shutdown(); err != nil {
			t.Fatal(err)
		}
	})
	return r
}

func participantHandler(statuses map[membership.UserID]membership.Status) func(op Operation) (Reply, error) {
	return func(op Operation) (Reply, error) {
		if get, ok := op.(GetParticipantOp); ok {
			status, found := statuses[get.Member.User]
			if !found {
				return nil, errNotParticipant
			}
			return ParticipantReply{Participant: membership.Participant{
				Member:   get.Member,
				Inviter:  1,
				JoinedAt: 100,
				Status:   status,
			}}, nil
		}
		return nil, nil
	}
}

func supergroup(id membership.ConversationID, myStatus membership.Status) ConversationInfo {
	return ConversationInfo{ID: id, Kind: KindSupergroup, ParticipantCount: 50, MyStatus: myStatus}
}

func TestSetStatusIdempotent(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{handler: participantHandler(map[membership.UserID]membership.Status{
		20: membership.Member{},
	})}
	resolver := &fakeResolver{me: 1, conversations: map[membership.ConversationID]ConversationInfo{
		7: supergroup(7, membership.Creator{Member: true}),
	}}
	r := newTestRoster(t, transport, resolver)

	require.Nil(r.SetMemberStatus(context.Background(), 7, membership.UserRef(20), membership.Member{}))
	require.Empty(transport.mutations())
}

func TestPromoteThenDemote(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{}
	transport.handler = func(op Operation) (Reply, error) {
		switch v := op.(type) {
		case GetParticipantOp:
			return participantHandler(map[membership.UserID]membership.Status{20: membership.Member{}})(op)
		case GetAdministratorsOp:
			if v.Hash != 0 {
				return AdministratorsReply{Unchanged: true}, nil
			}
			return AdministratorsReply{Administrators: []membership.AdministratorInfo{
				{User: 1, IsCreator: true},
			}}, nil
		default:
			return nil, nil
		}
	}
	resolver := &fakeResolver{me: 1, conversations: map[membership.ConversationID]ConversationInfo{
		7: supergroup(7, membership.Creator{Member: true}),
	}}
	r := newTestRoster(t, transport, resolver)

	list, err := r.GetAdministrators(context.Background(), 7)
	require.Nil(err)
	require.Len(list, 1)

	boss := membership.Administrator{Rights: membership.AdminRights{CanRestrictMembers: true}, Rank: "boss", CanBeEdited: true}
	require.Nil(r.SetMemberStatus(context.Background(), 7, membership.UserRef(20), boss))
	muts := transport.mutations()
	require.Len(muts, 1)
	promote, ok := muts[0].(PromoteOp)
	require.True(ok)
	require.Equal(membership.UserID(20), promote.User)

	admins, ok := r.admins.Get(7)
	require.True(ok)
	require.Equal([]membership.AdministratorInfo{
		{User: 1, IsCreator: true},
		{User: 20, Rank: "boss"},
	}, admins)

	// demotion is also promote-shaped, with cleared rights
	require.Nil(r.SetMemberStatus(context.Background(), 7, membership.UserRef(20), membership.Member{}))
	muts = transport.mutations()
	require.Len(muts, 2)
	promote, ok = muts[1].(PromoteOp)
	require.True(ok)
	require.Equal(membership.Status(membership.Member{}), promote.Status)

	admins, _ = r.admins.Get(7)
	require.Equal([]membership.AdministratorInfo{{User: 1, IsCreator: true}}, admins)
}

func TestRollbackOnRemoteFailure(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{}
	transport.handler = func(op Operation) (Reply, error) {
		switch op.(type) {
		case GetParticipantOp:
			return participantHandler(map[membership.UserID]membership.Status{20: membership.Member{}})(op)
		case RestrictOp:
			return nil, &RemoteError{Code: 500, Message: "internal"}
		default:
			return nil, nil
		}
	}
	resolver := &fakeResolver{me: 1, conversations: map[membership.ConversationID]ConversationInfo{
		7: supergroup(7, membership.Creator{Member: true}),
	}}
	r := newTestRoster(t, transport, resolver)

	before, err := r.GetParticipant(context.Background(), 7, membership.UserRef(20))
	require.Nil(err)
	require.Equal(membership.Status(membership.Member{}), before.Status)

	target := membership.Restricted{Rights: membership.RestrictedRights{CanSendBasicMessages: true}, Member: true}
	err = r.SetMemberStatus(context.Background(), 7, membership.UserRef(20), target)
	require.NotNil(err)

	after, err := r.GetParticipant(context.Background(), 7, membership.UserRef(20))
	require.Nil(err)
	require.Equal(before.Status, after.Status)
}

func TestLeaveWithoutBanIsTwoPhase(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{handler: participantHandler(map[membership.UserID]membership.Status{
		20: membership.Member{},
	})}
	resolver := &fakeResolver{me: 1, conversations: map[membership.ConversationID]ConversationInfo{
		7: supergroup(7, membership.Creator{Member: true}),
	}}
	r := newTestRoster(t, transport, resolver)

	start := time.Now()
	require.Nil(r.SetMemberStatus(context.Background(), 7, membership.UserRef(20), membership.Left{}))
	require.True(time.Since(start) >= 10*time.Millisecond)

	muts := transport.mutations()
	require.Len(muts, 2)
	first, ok := muts[0].(RestrictOp)
	require.True(ok)
	banned, ok := first.Status.(membership.Banned)
	require.True(ok)
	require.NotZero(banned.BannedUntil)
	second, ok := muts[1].(RestrictOp)
	require.True(ok)
	require.Equal(membership.Status(membership.Left{}), second.Status)

	// the caller observes the final status, never the transient ban
	after, err := r.GetParticipant(context.Background(), 7, membership.UserRef(20))
	require.Nil(err)
	require.Equal(membership.Status(membership.Left{}), after.Status)
}

func TestSetStatusAbortsOnContextCancel(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{handler: participantHandler(map[membership.UserID]membership.Status{
		20: membership.Member{},
	})}
	resolver := &fakeResolver{me: 1, conversations: map[membership.ConversationID]ConversationInfo{
		7: supergroup(7, membership.Creator{Member: true}),
	}}
	r := newTestRosterDelay(t, transport, resolver, 2000)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- r.SetMemberStatus(ctx, 7, membership.UserRef(20), membership.Left{})
	}()
	// let the first phase land, then abort during the wait before the second
	require.Eventually(func() bool {
		return len(transport.mutations()) == 1
	}, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(<-errs, context.Canceled)
	require.Len(transport.mutations(), 1)
}

func TestShutdownAbortsPendingDelay(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{handler: participantHandler(map[membership.UserID]membership.Status{
		20: membership.Member{},
	})}
	resolver := &fakeResolver{me: 1, conversations: map[membership.ConversationID]ConversationInfo{
		7: supergroup(7, membership.Creator{Member: true}),
	}}
	r := newTestRosterDelay(t, transport, resolver, 2000)

	errs := make(chan error, 1)
	go func() {
		errs <- r.SetMemberStatus(context.Background(), 7, membership.UserRef(20), membership.Left{})
	}()
	require.Eventually(func() bool {
		return len(transport.mutations()) == 1
	}, time.Second, time.Millisecond)
	require.Nil(r.Shutdown())
	require.ErrorIs(<-errs, ErrShuttingDown)
	require.Len(transport.mutations(), 1)
}

func TestFetchDoesNotClobberNewerStatus(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{}
	resolver := &fakeResolver{me: 1, conversations: map[membership.ConversationID]ConversationInfo{
		7: supergroup(7, membership.Creator{Member: true}),
	}}
	r := newTestRoster(t, transport, resolver)

	boss := membership.Administrator{Rights: membership.AdminRights{CanRestrictMembers: true}, Rank: "boss"}
	transport.handler = func(op Operation) (Reply, error) {
		get, ok := op.(GetParticipantOp)
		if !ok {
			return nil, nil
		}
		// a status change lands while the fetch is in flight
		r.participants.InsertOrRefresh(7, membership.Participant{
			Member:   get.Member,
			Inviter:  1,
			JoinedAt: 100,
			Status:   boss,
		}, true)
		return ParticipantReply{Participant: membership.Participant{
			Member:   get.Member,
			Inviter:  1,
			JoinedAt: 100,
			Status:   membership.Member{},
		}}, nil
	}

	first, err := r.GetParticipant(context.Background(), 7, membership.UserRef(20))
	require.Nil(err)
	require.Equal(membership.Status(membership.Member{}), first.Status)

	second, err := r.GetParticipant(context.Background(), 7, membership.UserRef(20))
	require.Nil(err)
	require.Equal(membership.Status(boss), second.Status)
	require.Len(transport.ops(), 1)
}

func TestJoinRequestPolicyRejection(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{}
	resolver := &fakeResolver{me: 1, conversations: map[membership.ConversationID]ConversationInfo{
		7: supergroup(7, membership.Member{}),
		8: {ID: 8, Kind: KindPrivate, Peer: 2, MyStatus: membership.Member{}},
	}}
	r := newTestRoster(t, transport, resolver)

	err := r.ApproveJoinRequest(context.Background(), 7, 20, true)
	var rej *membership.RejectionError
	require.ErrorAs(err, &rej)
	require.Empty(transport.ops())

	err = r.ApproveJoinRequest(context.Background(), 8, 20, true)
	require.ErrorAs(err, &rej)
	require.Empty(transport.ops())
}

func TestAddMemberPrivacyRestricted(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{}
	transport.handler = func(op Operation) (Reply, error) {
		if _, ok := op.(AddParticipantOp); ok {
			return nil, &RemoteError{Code: 403, Message: "USER_PRIVACY_RESTRICTED"}
		}
		return nil, nil
	}
	resolver := &fakeResolver{me: 1, conversations: map[membership.ConversationID]ConversationInfo{
		7: supergroup(7, membership.Creator{Member: true}),
	}}
	r := newTestRoster(t, transport, resolver)

	rejected, err := r.AddMember(context.Background(), 7, 20, 0)
	require.Nil(err)
	require.Equal([]membership.UserID{20}, rejected)

	select {
	case update := <-r.Updates():
		privacy, ok := update.(PrivacyRestrictedUpdate)
		require.True(ok)
		require.Equal([]membership.UserID{20}, privacy.Users)
	default:
		t.Fatal("expected a privacy update")
	}
}

func TestTransferOwnershipValidation(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{}
	transport.handler = func(op Operation) (Reply, error) {
		if _, ok := op.(TransferOwnershipOp); ok {
			return nil, &RemoteError{Code: 400, Message: "PASSWORD_TOO_FRESH_30"}
		}
		return nil, nil
	}
	resolver := &fakeResolver{
		me: 1,
		conversations: map[membership.ConversationID]ConversationInfo{
			7: supergroup(7, membership.Creator{Member: true}),
		},
		users: map[membership.UserID]UserInfo{
			20: {ID: 20},
			21: {ID: 21, IsBot: true},
		},
	}
	r := newTestRoster(t, transport, resolver)

	require.ErrorIs(r.TransferOwnership(context.Background(), 7, 20, ""), ErrPasswordNeeded)

	var rej *membership.RejectionError
	require.ErrorAs(r.TransferOwnership(context.Background(), 7, 21, "hunter2"), &rej)

	var cooldown *CooldownError
	err := r.TransferOwnership(context.Background(), 7, 20, "hunter2")
	require.ErrorAs(err, &cooldown)
	require.Equal(int64(30), cooldown.RetryAfterSec)
}

func TestGetParticipantPrivateSynthesized(t *testing.T) {
	require := require.New(t)

	transport := &fakeTransport{}
	resolver := &fakeResolver{me: 1, conversations: map[membership.ConversationID]ConversationInfo{
		8: {ID: 8, Kind: KindPrivate, Peer: 2, MyStatus: membership.Member{}},
	}}
	r := newTestRoster(t, transport, resolver)

	p, err := r.GetParticipant(context.Background(), 8, membership.UserRef(2))
	require.Nil(err)
	require.Equal(membership.Status(membership.Member{}), p.Status)
	require.Empty(transport.ops())

	_, err = r.GetParticipant(context.Background(), 8, membership.UserRef(3))
	require.True(IsNotParticipant(err))

	total, pair, err := r.SearchParticipants(context.Background(), 8, "", FilterRecent, 10)
	require.Nil(err)
	require.Equal(int32(2), total)
	require.Len(pair, 2)
}
