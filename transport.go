package roster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/meadow-im/go-roster/membership"
)

// Operation is one logical remote call. The transport owns serialization and
// framing entirely; the coordinator only deals in these typed values.
type Operation interface {
	operation()
}

// Reply is the typed result of an operation. Mutating operations reply nil.
type Reply interface {
	reply()
}

type AddParticipantOp struct {
	Conversation        membership.ConversationID
	User                membership.UserID
	ForwardHistoryLimit int32
}

type AddParticipantsOp struct {
	Conversation membership.ConversationID
	Users        []membership.UserID
}

type PromoteOp struct {
	Conversation membership.ConversationID
	User         membership.UserID
	// Status carries the rights and rank to grant. A non-administrator
	// status means clearing all rights.
	Status membership.Status
}

type RestrictOp struct {
	Conversation   membership.ConversationID
	Member         membership.MemberRef
	Status         membership.Status
	RevokeMessages bool
}

type JoinOp struct {
	Conversation membership.ConversationID
}

type LeaveOp struct {
	Conversation membership.ConversationID
}

type TransferOwnershipOp struct {
	Conversation membership.ConversationID
	User         membership.UserID
	Password     string
}

type GetParticipantOp struct {
	Conversation membership.ConversationID
	Member       membership.MemberRef
}

// ParticipantFilter narrows a participant listing.
type ParticipantFilter int

const (
	FilterRecent ParticipantFilter = iota
	FilterAdministrators
	FilterMembers
	FilterRestricted
	FilterBanned
	FilterBots
)

type GetParticipantsOp struct {
	Conversation membership.ConversationID
	Filter       ParticipantFilter
	Query        string
	Limit        int32
}

type GetAdministratorsOp struct {
	Conversation membership.ConversationID
	// Hash is the revalidation hash of the locally-known list. The remote
	// side replies unchanged when it matches.
	Hash uint64
}

type GetOnlineCountOp struct {
	Conversation membership.ConversationID
}

type GetJoinRequestsOp struct {
	Conversation membership.ConversationID
	InviteLink   string
	Query        string
	Offset       int32
	Limit        int32
}

type ApproveJoinRequestOp struct {
	Conversation membership.ConversationID
	User         membership.UserID
	Approve      bool
}

type ApproveAllJoinRequestsOp struct {
	Conversation membership.ConversationID
	InviteLink   string
	Approve      bool
}

func (AddParticipantOp) operation()         {}
func (AddParticipantsOp) operation()        {}
func (PromoteOp) operation()                {}
func (RestrictOp) operation()               {}
func (JoinOp) operation()                   {}
func (LeaveOp) operation()                  {}
func (TransferOwnershipOp) operation()      {}
func (GetParticipantOp) operation()         {}
func (GetParticipantsOp) operation()        {}
func (GetAdministratorsOp) operation()      {}
func (GetOnlineCountOp) operation()         {}
func (GetJoinRequestsOp) operation()        {}
func (ApproveJoinRequestOp) operation()     {}
func (ApproveAllJoinRequestsOp) operation() {}

type ParticipantReply struct {
	Participant membership.Participant
}

// AddedParticipantsReply lists invitees the remote side refused, typically
// for privacy reasons. A nil reply means everyone was added.
type AddedParticipantsReply struct {
	Rejected []membership.UserID
}

type ParticipantsReply struct {
	Total        int32
	Participants []membership.Participant
}

type AdministratorsReply struct {
	Unchanged      bool
	Administrators []membership.AdministratorInfo
}

type OnlineCountReply struct {
	Count uint32
}

// JoinRequest is one pending request to join a conversation.
type JoinRequest struct {
	User membership.UserID
	Date int64
	Bio  string
}

type JoinRequestsReply struct {
	Total    int32
	Requests []JoinRequest
}

func (ParticipantReply) reply()       {}
func (AddedParticipantsReply) reply() {}
func (ParticipantsReply) reply()      {}
func (AdministratorsReply) reply()    {}
func (OnlineCountReply) reply()       {}
func (JoinRequestsReply) reply()      {}

// Transport issues remote operations. Implementations may complete calls in
// any order; the coordinator sequences where the remote side requires it.
type Transport interface {
	Send(ctx context.Context, op Operation) (Reply, error)
}

// RemoteError is an opaque error returned by the remote side. A small number
// of semantic cases are recognized by message text.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

func remoteMessage(err error) (string, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Message, true
	}
	return "", false
}

// IsNotParticipant recognizes the remote rejection returned when asking
// about someone who never joined.
func IsNotParticipant(err error) bool {
	msg, ok := remoteMessage(err)
	return ok && msg == "USER_NOT_PARTICIPANT"
}

// IsPrivacyRestricted recognizes the rejection returned when an invitee's
// privacy settings forbid the invite.
func IsPrivacyRestricted(err error) bool {
	msg, ok := remoteMessage(err)
	return ok && msg == "USER_PRIVACY_RESTRICTED"
}

// ErrPasswordNeeded is returned when an ownership transfer requires the
// account password and none, or a wrong one, was supplied.
var ErrPasswordNeeded = errors.New("password needed")

// ErrDataUnavailable is returned when the remote side produced a record the
// coordinator refuses to surface.
var ErrDataUnavailable = errors.New("data unavailable")

// CooldownError is returned when the remote side demands a waiting period
// before an ownership transfer can proceed.
type CooldownError struct {
	RetryAfterSec int64
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("retry after %d seconds", e.RetryAfterSec)
}

// translateTransferError maps the remote rejections an ownership transfer
// can produce into structured reasons. Unrecognized errors pass through.
func translateTransferError(err error) error {
	msg, ok := remoteMessage(err)
	if !ok {
		return err
	}
	switch {
	case msg == "PASSWORD_HASH_INVALID" || msg == "PASSWORD_MISSING":
		return ErrPasswordNeeded
	case strings.HasPrefix(msg, "PASSWORD_TOO_FRESH_"):
		if n, perr := strconv.ParseInt(strings.TrimPrefix(msg, "PASSWORD_TOO_FRESH_"), 10, 64); perr == nil {
			return &CooldownError{RetryAfterSec: n}
		}
	case strings.HasPrefix(msg, "SESSION_TOO_FRESH_"):
		if n, perr := strconv.ParseInt(strings.TrimPrefix(msg, "SESSION_TOO_FRESH_"), 10, 64); perr == nil {
			return &CooldownError{RetryAfterSec: n}
		}
	}
	return err
}
