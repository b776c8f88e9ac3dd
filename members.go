package roster

import (
	"context"
	"fmt"

	"github.com/meadow-im/go-roster/membership"
)

func rejection(format string, args ...interface{}) error {
	return &membership.RejectionError{Reason: fmt.Sprintf(format, args...)}
}

// SetMemberStatus moves a participant to the desired status. The change is
// applied to the local caches before the remote side confirms it and rolled
// back to the last confirmed state if a remote call fails.
func (r *Roster) SetMemberStatus(ctx context.Context, conversation membership.ConversationID, member membership.MemberRef, status membership.Status) error {
	return r.setStatus(ctx, conversation, member, status, false)
}

// BanMember bans a participant until the given time, zero meaning forever.
// revokeMessages additionally deletes the participant's message history.
func (r *Roster) BanMember(ctx context.Context, conversation membership.ConversationID, member membership.MemberRef, untilSec int64, revokeMessages bool) error {
	return r.setStatus(ctx, conversation, member, membership.Banned{BannedUntil: untilSec}, revokeMessages)
}

func (r *Roster) setStatus(ctx context.Context, conversation membership.ConversationID, member membership.MemberRef, status membership.Status, revokeMessages bool) error {
	if !member.Valid() {
		return rejection("member reference is invalid")
	}
	info, err := r.resolver.Conversation(conversation)
	if err != nil {
		return err
	}
	if !info.GroupLike() {
		return rejection("member statuses cannot be changed in a %s conversation", info.Kind)
	}

	old, err := r.currentStatus(ctx, info, member)
	if err != nil {
		return err
	}
	self := member.IsUser() && member.User == r.resolver.Me()

	now := int64(r.clock.CurrentTimeSec())
	plan, err := membership.PlanTransition(old, status, self, now, r.config.KickBanHorizonSec, r.config.KickReaddDelayMs)
	if err != nil {
		return err
	}
	if plan.Empty() {
		return nil
	}
	if err := r.checkPlanRights(info, member, plan, self); err != nil {
		return err
	}

	final := membership.Normalize(status, now)
	r.applySpeculative(conversation, member, old, final)

	confirmed := old
	for i, step := range plan.Steps {
		if step.DelayMs > 0 {
			if err := r.waitTimer(ctx, stepKey(conversation, member, i, r.clock.CurrentTimeMicro()), step.DelayMs); err != nil {
				r.applySpeculative(conversation, member, final, confirmed)
				return err
			}
		}
		op := r.stepOperation(conversation, member, step, self, revokeMessages)
		if _, err := r.transport.Send(ctx, op); err != nil {
			// earlier confirmed steps stay in effect, only the speculative
			// remainder is unwound
			r.applySpeculative(conversation, member, final, confirmed)
			return err
		}
		confirmed = step.Status
	}
	return nil
}

func stepKey(conversation membership.ConversationID, member membership.MemberRef, idx int, nonce uint64) string {
	return fmt.Sprintf("step/%d/%s/%d/%d", conversation, member, idx, nonce)
}

func (r *Roster) stepOperation(conversation membership.ConversationID, member membership.MemberRef, step membership.Step, self, revokeMessages bool) Operation {
	switch step.Kind {
	case membership.StepAdd:
		if self {
			return JoinOp{Conversation: conversation}
		}
		return AddParticipantOp{Conversation: conversation, User: member.User}
	case membership.StepPromote:
		return PromoteOp{Conversation: conversation, User: member.User, Status: step.Status}
	default:
		if self && !step.Status.IsMember() {
			return LeaveOp{Conversation: conversation}
		}
		_, banned := step.Status.(membership.Banned)
		return RestrictOp{
			Conversation:   conversation,
			Member:         member,
			Status:         step.Status,
			RevokeMessages: revokeMessages && banned,
		}
	}
}

// checkPlanRights rejects a plan the local account has no rights to carry
// out, before any remote call is made. Operations on the own account are
// exempt; the remote side owns the final word either way.
func (r *Roster) checkPlanRights(info ConversationInfo, member membership.MemberRef, plan membership.Plan, self bool) error {
	if self {
		return nil
	}
	rights := membership.EffectiveAdminRights(info.MyStatus)
	for _, step := range plan.Steps {
		switch step.Kind {
		case membership.StepAdd:
			if !rights.CanInviteUsers && !info.MyStatus.IsMember() {
				return rejection("not enough rights to invite members")
			}
		case membership.StepPromote:
			if !member.IsUser() {
				return rejection("only users can be promoted")
			}
			if !rights.CanPromoteMembers {
				return rejection("not enough rights to promote members")
			}
		case membership.StepRestrict:
			if !rights.CanRestrictMembers {
				return rejection("not enough rights to restrict members")
			}
		}
	}
	return nil
}

// applySpeculative makes a status change visible to the caches ahead of
// remote confirmation. Calling it again with the statuses swapped reverses
// it.
func (r *Roster) applySpeculative(conversation membership.ConversationID, member membership.MemberRef, old, new membership.Status) {
	if err := r.db.Run("speculative status", func() error {
		if member.IsUser() {
			changed, err := r.admins.SpeculativeUpdate(conversation, member.User, old, new)
			if err != nil {
				return err
			}
			if changed {
				list, _ := r.admins.Get(conversation)
				r.db.AfterCommit(func() {
					r.emit(AdministratorsUpdate{Conversation: conversation, Administrators: list})
				})
			}
		}
		return nil
	}); err != nil {
		r.log.Warnf("speculative administrator update failed: %s", err)
	}

	if member.IsUser() && member.User == r.resolver.Me() &&
		membership.IsAdministrator(old) && !membership.IsAdministrator(new) {
		// own elevated rights are gone, cached participants may no longer
		// be refreshed and the persisted administrator list is no longer
		// trustworthy
		r.participants.InvalidateConversation(conversation)
		if err := r.db.Run("erase administrators", func() error {
			return r.admins.Erase(conversation)
		}); err != nil {
			r.log.Warnf("erasing administrators for conversation %d: %s", conversation, err)
		}
	} else {
		r.participants.UpdateStatus(conversation, member, new)
	}

	if r.config.ServiceAccount {
		r.emit(MemberUpdate{
			Conversation: conversation,
			Participant: membership.Participant{
				Member:   member,
				JoinedAt: int64(r.clock.CurrentTimeSec()),
				Status:   new,
			},
		})
	}
}

// AddMember invites a user, forwarding up to forwardHistoryLimit recent
// messages where the conversation kind supports it. The returned list names
// invitees the remote side refused.
func (r *Roster) AddMember(ctx context.Context, conversation membership.ConversationID, user membership.UserID, forwardHistoryLimit int32) ([]membership.UserID, error) {
	info, err := r.resolver.Conversation(conversation)
	if err != nil {
		return nil, err
	}
	if !info.GroupLike() {
		return nil, rejection("members cannot be added to a %s conversation", info.Kind)
	}
	if err := r.checkInviteRights(info, user); err != nil {
		return nil, err
	}

	r.speculativeAdd(conversation, info, user)
	reply, err := r.transport.Send(ctx, AddParticipantOp{
		Conversation:        conversation,
		User:                user,
		ForwardHistoryLimit: forwardHistoryLimit,
	})
	if err != nil {
		if IsPrivacyRestricted(err) {
			r.emit(PrivacyRestrictedUpdate{Conversation: conversation, Users: []membership.UserID{user}})
			return []membership.UserID{user}, nil
		}
		return nil, err
	}
	if added, ok := reply.(AddedParticipantsReply); ok {
		return added.Rejected, nil
	}
	return nil, nil
}

// AddMembers invites several users at once. Refused invitees are returned,
// not treated as an error.
func (r *Roster) AddMembers(ctx context.Context, conversation membership.ConversationID, users []membership.UserID) ([]membership.UserID, error) {
	info, err := r.resolver.Conversation(conversation)
	if err != nil {
		return nil, err
	}
	if !info.GroupLike() {
		return nil, rejection("members cannot be added to a %s conversation", info.Kind)
	}
	for _, user := range users {
		if err := r.checkInviteRights(info, user); err != nil {
			return nil, err
		}
	}

	for _, user := range users {
		r.speculativeAdd(conversation, info, user)
	}
	reply, err := r.transport.Send(ctx, AddParticipantsOp{Conversation: conversation, Users: users})
	if err != nil {
		if IsPrivacyRestricted(err) {
			r.emit(PrivacyRestrictedUpdate{Conversation: conversation, Users: users})
			return users, nil
		}
		return nil, err
	}
	if added, ok := reply.(AddedParticipantsReply); ok {
		if len(added.Rejected) > 0 {
			r.emit(PrivacyRestrictedUpdate{Conversation: conversation, Users: added.Rejected})
		}
		return added.Rejected, nil
	}
	return nil, nil
}

func (r *Roster) checkInviteRights(info ConversationInfo, user membership.UserID) error {
	u, err := r.resolver.User(user)
	if err != nil {
		return err
	}
	if u.IsDeleted {
		return rejection("deleted users cannot be invited")
	}
	if user == r.resolver.Me() {
		return nil
	}
	rights := membership.EffectiveAdminRights(info.MyStatus)
	if !rights.CanInviteUsers && !info.MyStatus.IsMember() {
		return rejection("not enough rights to invite members")
	}
	return nil
}

// speculativeAdd seeds the participant cache with a freshly invited member
// while the local account can maintain the cache.
func (r *Roster) speculativeAdd(conversation membership.ConversationID, info ConversationInfo, user membership.UserID) {
	if !membership.IsAdministrator(info.MyStatus) {
		return
	}
	r.participants.InsertOrRefresh(conversation, membership.Participant{
		Member:   membership.UserRef(user),
		Inviter:  r.resolver.Me(),
		JoinedAt: int64(r.clock.CurrentTimeSec()),
		Status:   membership.Member{},
	}, false)
}

// Leave removes the local account from a conversation without banning it.
func (r *Roster) Leave(ctx context.Context, conversation membership.ConversationID) error {
	info, err := r.resolver.Conversation(conversation)
	if err != nil {
		return err
	}
	if !info.GroupLike() {
		return rejection("cannot leave a %s conversation", info.Kind)
	}
	old := info.MyStatus
	if old == nil {
		old = membership.Member{}
	}
	if !old.IsMember() {
		return nil
	}
	new := membership.WithMembership(old, false)
	if _, creator := old.(membership.Creator); !creator {
		new = membership.Left{}
	}

	me := membership.UserRef(r.resolver.Me())
	r.applySpeculative(conversation, me, old, new)
	if _, err := r.transport.Send(ctx, LeaveOp{Conversation: conversation}); err != nil {
		r.applySpeculative(conversation, me, new, old)
		return err
	}
	return nil
}

// TransferOwnership makes another user the owner of a conversation. The
// account password is required; the remote side may additionally demand a
// waiting period after recent password or session changes, surfaced as a
// CooldownError.
func (r *Roster) TransferOwnership(ctx context.Context, conversation membership.ConversationID, user membership.UserID, password string) error {
	info, err := r.resolver.Conversation(conversation)
	if err != nil {
		return err
	}
	if info.Kind != KindSupergroup && info.Kind != KindBroadcast {
		return rejection("ownership of a %s conversation cannot be transferred", info.Kind)
	}
	if _, ok := info.MyStatus.(membership.Creator); !ok {
		return rejection("only the owner can transfer ownership")
	}
	u, err := r.resolver.User(user)
	if err != nil {
		return err
	}
	if u.IsBot {
		return rejection("ownership cannot be transferred to a bot")
	}
	if u.IsDeleted {
		return rejection("ownership cannot be transferred to a deleted user")
	}
	if password == "" {
		return ErrPasswordNeeded
	}

	if _, err := r.transport.Send(ctx, TransferOwnershipOp{
		Conversation: conversation,
		User:         user,
		Password:     password,
	}); err != nil {
		return translateTransferError(err)
	}

	me := membership.UserRef(r.resolver.Me())
	oldMine := info.MyStatus
	r.applySpeculative(conversation, me, oldMine, membership.Administrator{Rights: membership.FullAdminRights(false), Rank: membership.Rank(oldMine)})
	r.applySpeculative(conversation, membership.UserRef(user), membership.Administrator{}, membership.Creator{Member: true})
	return nil
}

// currentStatus resolves a participant's present status, preferring the
// cache and falling back to a remote fetch. Someone the remote side does not
// know as a participant has status Left.
func (r *Roster) currentStatus(ctx context.Context, info ConversationInfo, member membership.MemberRef) (membership.Status, error) {
	p, err := r.getParticipant(ctx, info, member)
	if err != nil {
		if IsNotParticipant(err) {
			return membership.Left{}, nil
		}
		return nil, err
	}
	return p.Status, nil
}
