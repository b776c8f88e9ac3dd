package membership

import "fmt"

type UserID int64

type ConversationID int64

// MemberRef identifies a participant. It is either a user or, in channels
// only, another conversation acting as an anonymous member. Exactly one of
// the two fields is set.
type MemberRef struct {
	User         UserID
	Conversation ConversationID
}

func UserRef(id UserID) MemberRef {
	return MemberRef{User: id}
}

func ConversationRef(id ConversationID) MemberRef {
	return MemberRef{Conversation: id}
}

func (m MemberRef) IsUser() bool {
	return m.User != 0
}

func (m MemberRef) Valid() bool {
	return (m.User != 0) != (m.Conversation != 0)
}

func (m MemberRef) String() string {
	if m.IsUser() {
		return fmt.Sprintf("user %d", m.User)
	}
	return fmt.Sprintf("conversation %d", m.Conversation)
}

// Participant is a member record as held by the caches, either fetched from
// the remote side or synthesized locally ahead of remote confirmation.
type Participant struct {
	Member   MemberRef
	Inviter  UserID
	JoinedAt int64
	Status   Status
}

// Valid reports whether the record is internally consistent. Records failing
// this check came back malformed from the remote side and must not be cached.
func (p Participant) Valid() bool {
	if !p.Member.Valid() {
		return false
	}
	if p.Status == nil {
		return false
	}
	if p.JoinedAt < 0 {
		return false
	}
	return true
}

// AdministratorInfo is the projection of a participant kept in the
// administrator list, sorted by user identity for stable comparison.
type AdministratorInfo struct {
	User      UserID `json:"user"`
	Rank      string `json:"rank"`
	IsCreator bool   `json:"is_creator"`
}
