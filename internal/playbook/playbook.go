package playbook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pdr-security/internal/models"
	"pdr-security/internal/modules/audit"
	"pdr-security/internal/platform"
	"pdr-security/internal/utils"
)

var (
	ErrActive    = errors.New("lockdown already active")
	ErrNotActive = errors.New("no active lockdown")
)

type State struct {
	Lockdown bool
	Since    time.Time
	Until    time.Time
	Channels int
}

type lockdown struct {
	state State
	locks []models.ChannelLock
	timer utils.Timer
}

// Engine tracks manual lockdowns per guild and restores the channel
// overwrites captured when each one started.
type Engine struct {
	mu     sync.Mutex
	clock  utils.Clock
	locker platform.Locker
	audit  *audit.Logger
	states map[string]*lockdown
}

func New(locker platform.Locker, auditLogger *audit.Logger) *Engine {
	return &Engine{
		clock:  utils.RealClock(),
		locker: locker,
		audit:  auditLogger,
		states: make(map[string]*lockdown),
	}
}

func (e *Engine) WithClock(clock utils.Clock) {
	e.clock = clock
}

// Lockdown locks every text channel of guildID. A positive duration lifts
// the lockdown automatically.
func (e *Engine) Lockdown(ctx context.Context, guildID, actorID string, duration time.Duration) (int, error) {
	e.mu.Lock()
	if _, ok := e.states[guildID]; ok {
		e.mu.Unlock()
		return 0, ErrActive
	}
	current := &lockdown{state: State{Lockdown: true, Since: e.clock.Now()}}
	e.states[guildID] = current
	e.mu.Unlock()

	locks, err := e.locker.LockTextChannels(ctx, guildID)
	if err != nil {
		e.mu.Lock()
		delete(e.states, guildID)
		e.mu.Unlock()
		return 0, fmt.Errorf("lock channels: %w", err)
	}

	e.mu.Lock()
	current.locks = locks
	current.state.Channels = len(locks)
	if duration > 0 {
		current.state.Until = current.state.Since.Add(duration)
		current.timer = e.clock.AfterFunc(duration, func() {
			_, _ = e.Unlock(context.Background(), guildID, "")
		})
	}
	e.mu.Unlock()

	details := fmt.Sprintf("channels=%d", len(locks))
	if duration > 0 {
		details += " duration=" + duration.String()
	}
	e.audit.Log(ctx, audit.LevelCrit, guildID, actorID, "lockdown", "lockdown started "+details)
	return len(locks), nil
}

// Unlock restores the overwrites saved by Lockdown.
func (e *Engine) Unlock(ctx context.Context, guildID, actorID string) (int, error) {
	e.mu.Lock()
	current, ok := e.states[guildID]
	if !ok {
		e.mu.Unlock()
		return 0, ErrNotActive
	}
	delete(e.states, guildID)
	if current.timer != nil {
		current.timer.Stop()
	}
	e.mu.Unlock()

	restored, err := e.locker.RestoreChannels(ctx, guildID, current.locks)
	e.audit.Log(ctx, audit.LevelInfo, guildID, actorID, "lockdown", fmt.Sprintf("lockdown ended channels=%d", restored))
	if err != nil {
		return restored, fmt.Errorf("restore channels: %w", err)
	}
	return restored, nil
}

func (e *Engine) IsLockdown(guildID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.states[guildID]
	if current == nil {
		return State{}
	}
	return current.state
}
