// Package status keeps the bot presence up to date.
package status

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"pdr-security/internal/platform"

	"github.com/cenkalti/backoff/v4"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

type State string

const (
	StateNormal  State = "normal"
	StateBackoff State = "backoff"
)

type Presence interface {
	UpdatePresence(ctx context.Context, text string) error
	Latency() time.Duration
}

// Task refreshes the presence on a fixed interval and switches to an
// exponential backoff interval while the platform rate limits it.
type Task struct {
	presence Presence
	logger   *zap.Logger
	interval time.Duration
	policy   *backoff.ExponentialBackOff
	memory   func() (float64, error)

	mu    sync.Mutex
	state State
}

func New(presence Presence, interval, backoffInterval time.Duration, logger *zap.Logger) *Task {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if backoffInterval <= 0 {
		backoffInterval = 60 * time.Second
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = backoffInterval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = 10 * backoffInterval
	policy.MaxElapsedTime = 0
	policy.Reset()
	return &Task{
		presence: presence,
		logger:   logger,
		interval: interval,
		policy:   policy,
		memory:   MemoryMB,
		state:    StateNormal,
	}
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Tick performs one presence update and returns the delay before the next.
func (t *Task) Tick(ctx context.Context) time.Duration {
	text := t.Text()
	err := t.presence.UpdatePresence(ctx, text)

	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case err == nil:
		if t.state == StateBackoff {
			t.logger.Info("presence updates resumed")
		}
		t.state = StateNormal
		t.policy.Reset()
		return t.interval
	case platform.IsRateLimited(err):
		t.state = StateBackoff
		delay := t.policy.NextBackOff()
		t.logger.Warn("presence rate limited", zap.Duration("retry_in", delay))
		return delay
	default:
		t.logger.Warn("presence update failed", zap.Error(err))
		if t.state == StateBackoff {
			return t.policy.NextBackOff()
		}
		return t.interval
	}
}

// Run ticks until ctx is cancelled.
func (t *Task) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(t.Tick(ctx))
		}
	}
}

func (t *Task) Text() string {
	latency := t.presence.Latency().Milliseconds()
	mem, err := t.memory()
	if err != nil {
		return fmt.Sprintf("Protecting | %dms", latency)
	}
	return fmt.Sprintf("Protecting | RAM %.0fMB | %dms", mem, latency)
}

// MemoryMB returns the resident set size of this process in megabytes.
func MemoryMB() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / (1024 * 1024), nil
}
