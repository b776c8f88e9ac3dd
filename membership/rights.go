package membership

// AdminRights describes what an administrator is allowed to do in a
// conversation. The zero value grants nothing.
type AdminRights struct {
	CanManageConversation bool
	CanChangeInfo         bool
	CanPostMessages       bool
	CanEditMessages       bool
	CanDeleteMessages     bool
	CanInviteUsers        bool
	CanRestrictMembers    bool
	CanPinMessages        bool
	CanManageTopics       bool
	CanPromoteMembers     bool
	CanManageCalls        bool
	CanPostStories        bool
	CanEditStories        bool
	CanDeleteStories      bool
	IsAnonymous           bool
}

// FullAdminRights returns the rights held implicitly by a conversation owner.
func FullAdminRights(anonymous bool) AdminRights {
	return AdminRights{
		CanManageConversation: true,
		CanChangeInfo:         true,
		CanPostMessages:       true,
		CanEditMessages:       true,
		CanDeleteMessages:     true,
		CanInviteUsers:        true,
		CanRestrictMembers:    true,
		CanPinMessages:        true,
		CanManageTopics:       true,
		CanPromoteMembers:     true,
		CanManageCalls:        true,
		CanPostStories:        true,
		CanEditStories:        true,
		CanDeleteStories:      true,
		IsAnonymous:           anonymous,
	}
}

// RestrictedRights describes what a restricted participant may still do.
// For an unrestricted member every field is true.
type RestrictedRights struct {
	CanSendBasicMessages bool
	CanSendAudios        bool
	CanSendDocuments     bool
	CanSendPhotos        bool
	CanSendVideos        bool
	CanSendVideoNotes    bool
	CanSendVoiceNotes    bool
	CanSendPolls         bool
	CanSendStickers      bool
	CanSendAnimations    bool
	CanSendGames         bool
	CanUseInlineBots     bool
	CanAddLinkPreviews   bool
	CanChangeInfo        bool
	CanInviteUsers       bool
	CanPinMessages       bool
	CanManageTopics      bool
}

// FullRestrictedRights returns the rights of an unrestricted participant.
func FullRestrictedRights() RestrictedRights {
	return RestrictedRights{
		CanSendBasicMessages: true,
		CanSendAudios:        true,
		CanSendDocuments:     true,
		CanSendPhotos:        true,
		CanSendVideos:        true,
		CanSendVideoNotes:    true,
		CanSendVoiceNotes:    true,
		CanSendPolls:         true,
		CanSendStickers:      true,
		CanSendAnimations:    true,
		CanSendGames:         true,
		CanUseInlineBots:     true,
		CanAddLinkPreviews:   true,
		CanChangeInfo:        true,
		CanInviteUsers:       true,
		CanPinMessages:       true,
		CanManageTopics:      true,
	}
}
