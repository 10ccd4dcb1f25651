package engine

import "pdr-security/internal/models"

type MessageEvent struct {
	Community models.Community
	Message   models.Message
}

type MemberJoinEvent struct {
	Community models.Community
	Member    models.Actor
}

// MemberUpdateEvent carries the roles gained in one update and the display
// name before and after it.
type MemberUpdateEvent struct {
	Community  models.Community
	Member     models.Actor
	AddedRoles []models.Role
	OldName    string
	NewName    string
}

type MemberBanEvent struct {
	Community models.Community
	TargetID  string
}

type RoleDeleteEvent struct {
	Community models.Community
	Role      models.Role
}

type WebhooksUpdateEvent struct {
	Community models.Community
	ChannelID string
}
