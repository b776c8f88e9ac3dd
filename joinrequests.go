package roster

import (
	"context"

	"github.com/meadow-im/go-roster/membership"
)

// checkJoinRequestRights verifies a conversation can have join requests at
// all and that the local account may manage them. Both checks happen before
// any remote call.
func (r *Roster) checkJoinRequestRights(conversation membership.ConversationID) (ConversationInfo, error) {
	info, err := r.resolver.Conversation(conversation)
	if err != nil {
		return ConversationInfo{}, err
	}
	if info.Kind == KindPrivate || info.Kind == KindSecret {
		return ConversationInfo{}, rejection("a %s conversation cannot have join requests", info.Kind)
	}
	if !membership.CanManageInviteLinks(info.MyStatus) {
		return ConversationInfo{}, rejection("not enough rights to manage join requests")
	}
	return info, nil
}

// GetJoinRequests lists pending join requests, optionally narrowed to one
// invite link and a name query.
func (r *Roster) GetJoinRequests(ctx context.Context, conversation membership.ConversationID, inviteLink, query string, offset, limit int32) (int32, []JoinRequest, error) {
	if limit <= 0 {
		return 0, nil, rejection("limit must be positive")
	}
	if _, err := r.checkJoinRequestRights(conversation); err != nil {
		return 0, nil, err
	}

	reply, err := r.transport.Send(ctx, GetJoinRequestsOp{
		Conversation: conversation,
		InviteLink:   inviteLink,
		Query:        query,
		Offset:       offset,
		Limit:        limit,
	})
	if err != nil {
		return 0, nil, err
	}
	jr, ok := reply.(JoinRequestsReply)
	if !ok {
		r.logDefect("unexpected reply %T to join request listing", reply)
		return 0, nil, ErrDataUnavailable
	}
	return jr.Total, jr.Requests, nil
}

// ApproveJoinRequest approves or declines one pending join request.
func (r *Roster) ApproveJoinRequest(ctx context.Context, conversation membership.ConversationID, user membership.UserID, approve bool) error {
	info, err := r.checkJoinRequestRights(conversation)
	if err != nil {
		return err
	}
	if approve {
		r.speculativeAdd(conversation, info, user)
	}
	_, err = r.transport.Send(ctx, ApproveJoinRequestOp{Conversation: conversation, User: user, Approve: approve})
	return err
}

// ApproveAllJoinRequests approves or declines every pending join request,
// optionally narrowed to one invite link.
func (r *Roster) ApproveAllJoinRequests(ctx context.Context, conversation membership.ConversationID, inviteLink string, approve bool) error {
	if _, err := r.checkJoinRequestRights(conversation); err != nil {
		return err
	}
	_, err := r.transport.Send(ctx, ApproveAllJoinRequestsOp{Conversation: conversation, InviteLink: inviteLink, Approve: approve})
	return err
}
