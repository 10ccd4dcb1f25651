package models

import "time"

// Actor is a member or automation account as seen by a single event.
type Actor struct {
	ID         string
	Name       string
	Automation bool
	RoleIDs    []string
}

// Community identifies the guild an event belongs to.
type Community struct {
	ID      string
	OwnerID string
}

// Role is a point-in-time copy of a guild role.
type Role struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Permissions int64  `json:"permissions"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Mentionable bool   `json:"mentionable"`
}

// Snapshot is a stored backup of a guild's roles.
type Snapshot struct {
	GuildID   string
	Roles     []Role
	CreatedAt time.Time
}

// Find returns the first role in the snapshot with the given name.
func (s *Snapshot) Find(name string) (Role, bool) {
	if s == nil {
		return Role{}, false
	}
	for _, role := range s.Roles {
		if role.Name == name {
			return role, true
		}
	}
	return Role{}, false
}

type ExemptionKind string

const (
	ExemptUser ExemptionKind = "user"
	ExemptRole ExemptionKind = "role"
)

type Exemption struct {
	ID   string
	Kind ExemptionKind
}

type AuditKind string

const (
	AuditBan              AuditKind = "ban"
	AuditRoleDelete       AuditKind = "role_delete"
	AuditBotAdd           AuditKind = "bot_add"
	AuditWebhookCreate    AuditKind = "webhook_create"
	AuditMemberRoleUpdate AuditKind = "member_role_update"
)

// AuditEntry attributes a structural change to the account that made it.
type AuditEntry struct {
	ID        string
	Kind      AuditKind
	ActorID   string
	TargetID  string
	CreatedAt time.Time
}

type Severity string

const (
	SeverityInfo Severity = "INFO"
	SeverityWarn Severity = "WARN"
	SeverityCrit Severity = "CRIT"
)

// Notification is a message posted to the configured log channel.
type Notification struct {
	Title    string
	Body     string
	Severity Severity
	Time     time.Time
}

// ChannelLock remembers a channel's @everyone overwrite before a lockdown.
type ChannelLock struct {
	ChannelID string
	Allow     int64
	Deny      int64
	Existed   bool
}
