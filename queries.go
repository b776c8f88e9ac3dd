package roster

import (
	"context"

	"github.com/meadow-im/go-roster/admins"
	"github.com/meadow-im/go-roster/membership"
)

var errNotParticipant = &RemoteError{Code: 400, Message: "USER_NOT_PARTICIPANT"}

// GetParticipant resolves a single participant's record, preferring the
// local cache where the local account is allowed to keep one.
func (r *Roster) GetParticipant(ctx context.Context, conversation membership.ConversationID, member membership.MemberRef) (membership.Participant, error) {
	info, err := r.resolver.Conversation(conversation)
	if err != nil {
		return membership.Participant{}, err
	}
	return r.getParticipant(ctx, info, member)
}

func (r *Roster) getParticipant(ctx context.Context, info ConversationInfo, member membership.MemberRef) (membership.Participant, error) {
	if !member.Valid() {
		return membership.Participant{}, rejection("member reference is invalid")
	}

	if info.Kind == KindPrivate || info.Kind == KindSecret {
		if member.IsUser() && (member.User == r.resolver.Me() || member.User == info.Peer) {
			return privateMember(member.User), nil
		}
		return membership.Participant{}, errNotParticipant
	}

	cacheActive := membership.IsAdministrator(info.MyStatus)
	if cacheActive {
		if p, ok := r.participants.Lookup(info.ID, member); ok {
			return p, nil
		}
	}

	reply, err := r.transport.Send(ctx, GetParticipantOp{Conversation: info.ID, Member: member})
	if err != nil {
		return membership.Participant{}, err
	}
	pr, ok := reply.(ParticipantReply)
	if !ok {
		r.logDefect("unexpected reply %T to participant fetch", reply)
		return membership.Participant{}, ErrDataUnavailable
	}
	p := pr.Participant
	if !p.Valid() || p.Member != member {
		r.logDefect("remote returned inconsistent participant record for %s in conversation %d", member, info.ID)
		return membership.Participant{}, ErrDataUnavailable
	}
	p.Status = membership.Normalize(p.Status, int64(r.clock.CurrentTimeSec()))
	if cacheActive {
		// never replace an existing entry, a speculative status applied
		// while the fetch was in flight is newer than the fetched one
		r.participants.InsertOrRefresh(info.ID, p, false)
	}
	return p, nil
}

// privateMember synthesizes the fixed pseudo-membership of one-to-one and
// secret conversations.
func privateMember(user membership.UserID) membership.Participant {
	return membership.Participant{
		Member: membership.UserRef(user),
		Status: membership.Member{},
	}
}

// SearchParticipants lists participants matching a query and filter,
// returning the total match count alongside the first page.
func (r *Roster) SearchParticipants(ctx context.Context, conversation membership.ConversationID, query string, filter ParticipantFilter, limit int32) (int32, []membership.Participant, error) {
	if limit <= 0 {
		return 0, nil, rejection("limit must be positive")
	}
	info, err := r.resolver.Conversation(conversation)
	if err != nil {
		return 0, nil, err
	}

	if info.Kind == KindPrivate || info.Kind == KindSecret {
		pair := []membership.Participant{privateMember(r.resolver.Me()), privateMember(info.Peer)}
		if filter == FilterAdministrators || filter == FilterRestricted || filter == FilterBanned {
			return 0, nil, nil
		}
		if int32(len(pair)) > limit {
			pair = pair[:limit]
		}
		return 2, pair, nil
	}

	reply, err := r.transport.Send(ctx, GetParticipantsOp{
		Conversation: conversation,
		Filter:       filter,
		Query:        query,
		Limit:        limit,
	})
	if err != nil {
		return 0, nil, err
	}
	pr, ok := reply.(ParticipantsReply)
	if !ok {
		r.logDefect("unexpected reply %T to participant search", reply)
		return 0, nil, ErrDataUnavailable
	}

	now := int64(r.clock.CurrentTimeSec())
	cacheActive := membership.IsAdministrator(info.MyStatus)
	valid := make([]membership.Participant, 0, len(pr.Participants))
	total := pr.Total
	for _, p := range pr.Participants {
		if !p.Valid() {
			r.logDefect("dropping inconsistent participant record for conversation %d", conversation)
			if total > 0 {
				total--
			}
			continue
		}
		p.Status = membership.Normalize(p.Status, now)
		valid = append(valid, p)
		if cacheActive {
			r.participants.InsertOrRefresh(conversation, p, false)
		}
	}
	if total < int32(len(valid)) {
		r.logDefect("remote total %d below returned count %d for conversation %d", total, len(valid), conversation)
		total = int32(len(valid))
	}
	return total, valid, nil
}

// GetAdministrators returns the conversation's administrators. A warm list
// is returned immediately and revalidated against the remote side in the
// background; a cold one is loaded from persistence or fetched.
func (r *Roster) GetAdministrators(ctx context.Context, conversation membership.ConversationID) ([]membership.AdministratorInfo, error) {
	info, err := r.resolver.Conversation(conversation)
	if err != nil {
		return nil, err
	}
	if !info.GroupLike() {
		return nil, nil
	}

	if list, ok := r.admins.Get(conversation); ok {
		go r.revalidateAdministrators(conversation, list)
		return list, nil
	}

	var list []membership.AdministratorInfo
	var found bool
	if err := r.db.RunReadOnly("load administrators", func() error {
		var lerr error
		list, found, lerr = r.admins.Load(conversation)
		return lerr
	}); err != nil {
		r.log.Warnf("loading administrators for conversation %d: %s", conversation, err)
	}
	if found {
		go r.revalidateAdministrators(conversation, list)
		return list, nil
	}

	return r.fetchAdministrators(ctx, conversation, 0)
}

func (r *Roster) fetchAdministrators(ctx context.Context, conversation membership.ConversationID, hash uint64) ([]membership.AdministratorInfo, error) {
	reply, err := r.transport.Send(ctx, GetAdministratorsOp{Conversation: conversation, Hash: hash})
	if err != nil {
		return nil, err
	}
	ar, ok := reply.(AdministratorsReply)
	if !ok {
		r.logDefect("unexpected reply %T to administrators fetch", reply)
		return nil, ErrDataUnavailable
	}
	if ar.Unchanged {
		list, _ := r.admins.Get(conversation)
		return list, nil
	}

	var changed bool
	if err := r.db.Run("store administrators", func() error {
		var serr error
		changed, serr = r.admins.Set(conversation, ar.Administrators)
		return serr
	}); err != nil {
		return nil, err
	}
	list, _ := r.admins.Get(conversation)
	if changed {
		r.emit(AdministratorsUpdate{Conversation: conversation, Administrators: list})
	}
	return list, nil
}

func (r *Roster) revalidateAdministrators(conversation membership.ConversationID, list []membership.AdministratorInfo) {
	if _, err := r.fetchAdministrators(context.Background(), conversation, admins.Hash(list)); err != nil {
		r.log.Debugf("revalidating administrators for conversation %d: %s", conversation, err)
	}
}

// refreshOnlineCount re-derives the online member count for a conversation,
// either through a dedicated query or by scanning recent participants.
func (r *Roster) refreshOnlineCount(conversation membership.ConversationID) {
	info, err := r.resolver.Conversation(conversation)
	if err != nil {
		r.log.Debugf("refreshing online count for conversation %d: %s", conversation, err)
		return
	}
	if !info.GroupLike() {
		return
	}

	ctx := context.Background()
	if info.Kind == KindBroadcast || info.ParticipantCount == 0 || info.ParticipantCount >= 195 || info.HasHiddenParticipants {
		reply, err := r.transport.Send(ctx, GetOnlineCountOp{Conversation: conversation})
		if err != nil {
			r.log.Debugf("fetching online count for conversation %d: %s", conversation, err)
			return
		}
		oc, ok := reply.(OnlineCountReply)
		if !ok {
			r.logDefect("unexpected reply %T to online count fetch", reply)
			return
		}
		r.counter.Observe(conversation, oc.Count, info.ParticipantCount, true)
		return
	}

	_, participants, err := r.SearchParticipants(ctx, conversation, "", FilterRecent, 200)
	if err != nil {
		r.log.Debugf("listing recent participants for conversation %d: %s", conversation, err)
		return
	}
	var count uint32
	for _, p := range participants {
		if !p.Member.IsUser() {
			continue
		}
		u, err := r.resolver.User(p.Member.User)
		if err != nil || u.IsBot || u.IsDeleted || !u.IsOnline {
			continue
		}
		count++
	}
	r.counter.Observe(conversation, count, info.ParticipantCount, false)
}
