package engine

import (
	"context"
	"strings"

	"pdr-security/internal/models"
	"pdr-security/internal/storage"

	"go.uber.org/zap"
)

var eventTitles = map[string]string{
	string(models.ModuleSpam):    "Anti-Spam",
	string(models.ModuleNuke):    "Anti-Nuke",
	string(models.ModuleBot):     "Anti-Bot",
	string(models.ModuleRole):    "Anti-Role",
	string(models.ModuleInvite):  "Anti-Invite",
	string(models.ModuleMention): "Anti-Mention",
	string(models.ModuleLink):    "Anti-Link",
	string(models.ModuleWebhook): "Anti-Webhook",
	"role_restore":               "Role Restored",
	"backup":                     "Backup",
	"lockdown":                   "Lockdown",
	"config":                     "Configuration",
	"whitelist":                  "Whitelist",
}

// Notify posts an audit record to the configured log channel. It is meant
// to be registered with audit.Logger.SetNotifier.
func (c *Coordinator) Notify(ctx context.Context, entry storage.AuditLog) {
	channelID := c.config().LogChannelID
	if channelID == "" {
		return
	}
	if err := c.client.SendNotification(ctx, channelID, NotificationFor(entry)); err != nil {
		c.logger.Warn("log channel notify failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func NotificationFor(entry storage.AuditLog) models.Notification {
	title, ok := eventTitles[entry.Event]
	if !ok {
		title = strings.ReplaceAll(entry.Event, "_", " ")
	}
	var body strings.Builder
	if entry.UserID != "" {
		body.WriteString("User: <@" + entry.UserID + ">\n")
	}
	body.WriteString(entry.Details)
	return models.Notification{
		Title:    title,
		Body:     body.String(),
		Severity: models.Severity(entry.Level),
		Time:     entry.CreatedAt,
	}
}
