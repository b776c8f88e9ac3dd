// Package membership defines the status a participant can hold within a
// conversation and the pure planning logic for moving a participant from one
// status to another. Statuses form a closed sum type so combinations like a
// custom rank on a plain member cannot be represented at all.
package membership

// Status is the membership state of a participant. Exactly one of the
// variants below is active at a time. A BannedUntil of zero means forever.
type Status interface {
	// IsMember reports whether the participant currently belongs to the
	// conversation.
	IsMember() bool
	sealedStatus()
}

// Creator is the owner of the conversation. Ownership can only move through
// an explicit transfer, never through a status edit.
type Creator struct {
	Rank        string
	IsAnonymous bool
	Member      bool
}

// Administrator holds a subset of the owner's rights. CanBeEdited reports
// whether the local account is allowed to change this administrator.
type Administrator struct {
	Rights      AdminRights
	Rank        string
	CanBeEdited bool
}

// Member is an ordinary participant with no extra rights or restrictions.
type Member struct{}

// Restricted is a participant with some actions revoked. It may or may not
// still be a member of the conversation.
type Restricted struct {
	Rights      RestrictedRights
	BannedUntil int64
	Member      bool
}

// Banned is a former participant who cannot rejoin until BannedUntil.
type Banned struct {
	BannedUntil int64
}

// Left is a former participant with no restrictions on rejoining.
type Left struct{}

func (c Creator) IsMember() bool       { return c.Member }
func (a Administrator) IsMember() bool { return true }
func (m Member) IsMember() bool        { return true }
func (r Restricted) IsMember() bool    { return r.Member }
func (b Banned) IsMember() bool        { return false }
func (l Left) IsMember() bool          { return false }

func (c Creator) sealedStatus()       {}
func (a Administrator) sealedStatus() {}
func (m Member) sealedStatus()        {}
func (r Restricted) sealedStatus()    {}
func (b Banned) sealedStatus()        {}
func (l Left) sealedStatus()          {}

// IsAdministrator reports whether the status carries administrator rights,
// regardless of current membership.
func IsAdministrator(s Status) bool {
	switch s.(type) {
	case Creator, Administrator:
		return true
	default:
		return false
	}
}

// IsAdministratorMember reports whether the participant is both an
// administrator and a current member. This is what the administrator list
// projection keys on.
func IsAdministratorMember(s Status) bool {
	switch v := s.(type) {
	case Creator:
		return v.Member
	case Administrator:
		return true
	default:
		return false
	}
}

// Rank returns the custom title shown for owners and administrators, or an
// empty string for every other status.
func Rank(s Status) string {
	switch v := s.(type) {
	case Creator:
		return v.Rank
	case Administrator:
		return v.Rank
	default:
		return ""
	}
}

// EffectiveAdminRights returns the administrator rights a status grants.
// Owners hold every right.
func EffectiveAdminRights(s Status) AdminRights {
	switch v := s.(type) {
	case Creator:
		return FullAdminRights(v.IsAnonymous)
	case Administrator:
		return v.Rights
	default:
		return AdminRights{}
	}
}

// CanManageInviteLinks reports whether the status allows managing invite
// links and, by extension, pending join requests.
func CanManageInviteLinks(s Status) bool {
	return EffectiveAdminRights(s).CanInviteUsers
}

// CanRestrictMembers reports whether the status allows banning and
// restricting other participants.
func CanRestrictMembers(s Status) bool {
	return EffectiveAdminRights(s).CanRestrictMembers
}

// CanPromoteMembers reports whether the status allows granting administrator
// rights to other participants.
func CanPromoteMembers(s Status) bool {
	return EffectiveAdminRights(s).CanPromoteMembers
}

// Normalize resolves lapsed temporary states. A restriction or ban whose
// deadline has passed decays to the plain status it would have on the remote
// side. Deadlines of zero never lapse.
func Normalize(s Status, nowSec int64) Status {
	switch v := s.(type) {
	case Restricted:
		if v.BannedUntil != 0 && v.BannedUntil <= nowSec {
			if v.Member {
				return Member{}
			}
			return Left{}
		}
		return v
	case Banned:
		if v.BannedUntil != 0 && v.BannedUntil <= nowSec {
			return Left{}
		}
		return v
	default:
		return s
	}
}

// WithMembership returns a copy of s with its membership flag forced to
// member. Statuses with fixed membership are returned unchanged.
func WithMembership(s Status, member bool) Status {
	switch v := s.(type) {
	case Creator:
		v.Member = member
		return v
	case Restricted:
		v.Member = member
		return v
	default:
		return s
	}
}
