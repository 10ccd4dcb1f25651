package engine

import (
	"context"
	"time"

	"pdr-security/internal/metrics"
	"pdr-security/internal/models"
	"pdr-security/internal/platform"

	"go.uber.org/zap"
)

type attributed func(ctx context.Context, actor models.Actor, entry models.AuditEntry)

// attribute waits out the audit grace delay on a timer, then looks up the
// audit entry for the structural change and hands its author to fn. No
// entry, a stale entry or an entry already judged by rule means fn is not
// called.
func (c *Coordinator) attribute(community models.Community, kind models.AuditKind, targetID, rule string, fn attributed) {
	c.clock.AfterFunc(c.grace, func() {
		c.lifeMu.Lock()
		if c.closed {
			c.lifeMu.Unlock()
			return
		}
		c.running.Add(1)
		c.lifeMu.Unlock()
		defer c.running.Done()

		ctx := c.baseCtx
		entry, err := c.client.RecentAuditEntry(ctx, community.ID, kind, targetID)
		if err != nil {
			c.logger.Warn("audit lookup failed", zap.String("guild_id", community.ID), zap.String("kind", string(kind)), zap.Error(err))
			metrics.RecordAttributionMiss(string(kind))
			return
		}
		if entry == nil || entry.ActorID == "" {
			c.logger.Debug("no audit entry", zap.String("guild_id", community.ID), zap.String("kind", string(kind)))
			metrics.RecordAttributionMiss(string(kind))
			return
		}
		if !entry.CreatedAt.IsZero() && c.clock.Now().Sub(entry.CreatedAt) > c.maxAge {
			c.logger.Debug("stale audit entry", zap.String("guild_id", community.ID), zap.String("entry_id", entry.ID))
			metrics.RecordAttributionMiss(string(kind))
			return
		}
		if !c.markSeen(rule, entry.ID) {
			return
		}

		actor, ok := c.resolveActor(ctx, community.ID, entry.ActorID)
		if !ok {
			return
		}
		fn(ctx, actor, *entry)
	})
}

// markSeen records that rule judged entryID and reports whether it is new.
func (c *Coordinator) markSeen(rule, entryID string) bool {
	if entryID == "" {
		return true
	}
	key := rule + ":" + entryID
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = c.clock.Now()
	return true
}

// resolveActor loads the audit author's roles so role exemptions apply.
// An author who is no longer a member is judged by id alone; any other
// lookup failure skips enforcement.
func (c *Coordinator) resolveActor(ctx context.Context, guildID, userID string) (models.Actor, bool) {
	actor, err := c.client.Member(ctx, guildID, userID)
	if err == nil {
		if actor.ID == "" {
			actor.ID = userID
		}
		return actor, true
	}
	if platform.Classify(err) == models.OutcomeNotFound {
		return models.Actor{ID: userID}, true
	}
	c.logger.Warn("resolve audit actor failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
	return models.Actor{}, false
}

// Sweep drops idle tracker keys and expired seen entries.
func (c *Coordinator) Sweep(now time.Time) {
	c.rules.Spam.Sweep(now)
	c.rules.Nuke.Sweep(now)
	metrics.SetTracked("spam", c.rules.Spam.Tracked())
	metrics.SetTracked("nuke", c.rules.Nuke.Tracked())

	c.seenMu.Lock()
	for key, at := range c.seen {
		if now.Sub(at) > 2*c.maxAge {
			delete(c.seen, key)
		}
	}
	c.seenMu.Unlock()
}

// RunJanitor sweeps every interval until ctx ends.
func (c *Coordinator) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.clock.Now())
		}
	}
}
