package roster

import "github.com/meadow-im/go-roster/membership"

// Kind classifies a conversation. Membership semantics differ per kind:
// one-to-one and secret conversations have a fixed pseudo-membership of two,
// basic groups keep their full participant list locally, supergroups and
// broadcasts are resolved remotely.
type Kind int

const (
	KindPrivate Kind = iota
	KindSecret
	KindBasicGroup
	KindSupergroup
	KindBroadcast
)

func (k Kind) String() string {
	switch k {
	case KindPrivate:
		return "private"
	case KindSecret:
		return "secret"
	case KindBasicGroup:
		return "basic group"
	case KindSupergroup:
		return "supergroup"
	case KindBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// ConversationInfo is a read-only snapshot of a conversation as known to the
// identity collaborator.
type ConversationInfo struct {
	ID   membership.ConversationID
	Kind Kind
	// Peer is the other party for private and secret conversations.
	Peer                  membership.UserID
	ParticipantCount      int32
	HasHiddenParticipants bool
	// MyStatus is the local account's own membership status.
	MyStatus membership.Status
}

// GroupLike reports whether the conversation can hold arbitrary members.
func (ci ConversationInfo) GroupLike() bool {
	switch ci.Kind {
	case KindBasicGroup, KindSupergroup, KindBroadcast:
		return true
	default:
		return false
	}
}

// UserInfo is a read-only snapshot of a user.
type UserInfo struct {
	ID        membership.UserID
	IsBot     bool
	IsDeleted bool
	// IsOnline reflects the user's presence at the time of resolution.
	IsOnline bool
}

// Resolver supplies identity facts the coordinator needs but does not own:
// conversation existence and kind, the caller's own rights, and user flags.
// Implementations are never mutated through this interface.
type Resolver interface {
	Conversation(id membership.ConversationID) (ConversationInfo, error)
	User(id membership.UserID) (UserInfo, error)
	Me() membership.UserID
}
