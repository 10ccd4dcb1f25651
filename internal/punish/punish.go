package punish

import (
	"context"
	"time"

	"pdr-security/internal/models"
	"pdr-security/internal/platform"

	"go.uber.org/zap"
)

// Enforcer is the part of the platform client that removes or mutes members.
type Enforcer interface {
	Ban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error
}

type Executor struct {
	client  Enforcer
	timeout time.Duration
	logger  *zap.Logger
}

func New(client Enforcer, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Executor{client: client, timeout: timeout, logger: logger}
}

// Apply performs action against actor. Platform failures are reported in
// the Outcome and never returned as errors.
func (e *Executor) Apply(ctx context.Context, guildID string, actor models.Actor, action models.Action, reason string) models.Outcome {
	outcome := models.Outcome{Action: action}
	var err error
	switch action {
	case models.ActionBan:
		err = e.client.Ban(ctx, guildID, actor.ID, reason)
	case models.ActionKick:
		err = e.client.Kick(ctx, guildID, actor.ID, reason)
	case models.ActionTimeout:
		if actor.Automation {
			outcome.Action = models.ActionKick
			outcome.Fallback = true
			err = e.client.Kick(ctx, guildID, actor.ID, reason)
			break
		}
		err = e.client.Timeout(ctx, guildID, actor.ID, e.timeout, reason)
	case models.ActionNone, "":
		outcome.Action = models.ActionNone
	default:
		outcome.Kind = models.OutcomeUnsupported
		e.logger.Warn("unknown punishment action", zap.String("action", string(action)), zap.String("user_id", actor.ID))
		return outcome
	}

	outcome.Kind = platform.Classify(err)
	outcome.Err = err
	if err != nil {
		e.logger.Warn("punishment failed",
			zap.String("guild_id", guildID),
			zap.String("user_id", actor.ID),
			zap.String("action", string(outcome.Action)),
			zap.String("outcome", string(outcome.Kind)),
			zap.Error(err),
		)
	}
	return outcome
}
