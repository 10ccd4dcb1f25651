// Package platform is the boundary between the engine and the chat platform.
package platform

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pdr-security/internal/models"

	"github.com/bwmarrin/discordgo"
)

// Client is every platform call the engine makes.
type Client interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	PurgeMessages(ctx context.Context, channelID, authorID string, limit int) (int, error)
	Ban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error
	RecentAuditEntry(ctx context.Context, guildID string, kind models.AuditKind, targetID string) (*models.AuditEntry, error)
	Member(ctx context.Context, guildID, userID string) (models.Actor, error)
	CreateRole(ctx context.Context, guildID string, role models.Role) (*models.Role, error)
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	SetNickname(ctx context.Context, guildID, userID, nickname string) error
	DeleteWebhooksBy(ctx context.Context, channelID, creatorID string) (int, error)
	SendNotification(ctx context.Context, channelID string, n models.Notification) error
}

// Locker is the channel permission surface used by manual lockdowns.
type Locker interface {
	LockTextChannels(ctx context.Context, guildID string) ([]models.ChannelLock, error)
	RestoreChannels(ctx context.Context, guildID string, locks []models.ChannelLock) (int, error)
}

// Classify maps a platform error to an outcome kind.
func Classify(err error) models.OutcomeKind {
	if err == nil {
		return models.OutcomeSuccess
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil {
			switch restErr.Message.Code {
			case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
				return models.OutcomeDenied
			case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser,
				discordgo.ErrCodeUnknownRole, discordgo.ErrCodeUnknownMessage,
				discordgo.ErrCodeUnknownWebhook:
				return models.OutcomeNotFound
			}
		}
		if restErr.Response != nil {
			switch restErr.Response.StatusCode {
			case http.StatusForbidden:
				return models.OutcomeDenied
			case http.StatusNotFound:
				return models.OutcomeNotFound
			}
		}
	}
	if errors.Is(err, ErrUnsupported) {
		return models.OutcomeUnsupported
	}
	return models.OutcomeFailed
}

// IsRateLimited reports whether err signals a platform rate limit.
func IsRateLimited(err error) bool {
	var limited *discordgo.RateLimitError
	if errors.As(err, &limited) {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusTooManyRequests
	}
	return false
}

var ErrUnsupported = errors.New("operation unsupported for target")
