package service

import "taskhub/server/collab/domain"

// Default per-kind decisions, used when a profile carries no explicit
// override for the kind. This table is the single authority; the global
// per-channel flags are an independent gate applied by the dispatch engine,
// not here.
var emailKindDefaults = map[domain.NotificationKind]bool{
	domain.KindTaskAssigned:       true,
	domain.KindTaskUpdated:        true,
	domain.KindTaskCompleted:      false,
	domain.KindTaskCommented:      true,
	domain.KindProjectInvitation:  true,
	domain.KindProjectUpdated:     false,
	domain.KindMention:            true,
	domain.KindDeadlineReminder:   true,
	domain.KindTeamMemberJoined:   false,
	domain.KindSystemAnnouncement: true,
}

var pushKindDefaults = map[domain.NotificationKind]bool{
	domain.KindTaskAssigned:       true,
	domain.KindTaskUpdated:        false,
	domain.KindTaskCompleted:      false,
	domain.KindTaskCommented:      true,
	domain.KindProjectInvitation:  true,
	domain.KindProjectUpdated:     false,
	domain.KindMention:            true,
	domain.KindDeadlineReminder:   true,
	domain.KindTeamMemberJoined:   false,
	domain.KindSystemAnnouncement: false,
}

// ShouldSend resolves the per-kind decision for a channel: an explicit
// override in the profile wins, otherwise the default table answers.
func ShouldSend(channel domain.Channel, kind domain.NotificationKind, profile domain.PreferenceProfile) bool {
	switch channel {
	case domain.ChannelEmail:
		if v, ok := profile.EmailKinds[kind]; ok {
			return v
		}
		return emailKindDefaults[kind]
	case domain.ChannelPush:
		if v, ok := profile.PushKinds[kind]; ok {
			return v
		}
		return pushKindDefaults[kind]
	}
	return false
}
