package roster

import "github.com/meadow-im/go-roster/membership"

// AdministratorsUpdate reports that the administrator list of a conversation
// changed.
type AdministratorsUpdate struct {
	Conversation   membership.ConversationID
	Administrators []membership.AdministratorInfo
}

// OnlineCountUpdate reports a new online member count for an open
// conversation.
type OnlineCountUpdate struct {
	Conversation membership.ConversationID
	Count        uint32
}

// MemberUpdate reports a membership status change observed or applied
// locally. Only emitted for service accounts, which need the full stream.
type MemberUpdate struct {
	Conversation membership.ConversationID
	Participant  membership.Participant
}

// PrivacyRestrictedUpdate reports invitees whose privacy settings refused an
// invite.
type PrivacyRestrictedUpdate struct {
	Conversation membership.ConversationID
	Users        []membership.UserID
}
