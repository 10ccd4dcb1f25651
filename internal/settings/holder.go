package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"pdr-security/internal/models"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const recordKey = "main_config"

// Repository persists the configuration document as a single keyed record.
type Repository interface {
	GetRecord(ctx context.Context, key string) ([]byte, bool, error)
	PutRecord(ctx context.Context, key string, value []byte) error
}

// Holder publishes immutable Configuration snapshots. Readers call Current
// without locking; writers serialize on mu and swap a fully merged copy.
type Holder struct {
	mu       sync.Mutex
	current  atomic.Pointer[Configuration]
	defaults Configuration
	repo     Repository
	logger   *zap.Logger
}

func NewHolder(repo Repository, defaults Configuration, logger *zap.Logger) *Holder {
	h := &Holder{defaults: defaults.Clone(), repo: repo, logger: logger}
	initial := defaults.Clone()
	h.current.Store(&initial)
	return h
}

// Load reads the stored record and merges it with the defaults. Missing or
// malformed records fall back to the defaults and are not reported as errors.
func (h *Holder) Load(ctx context.Context) Configuration {
	h.mu.Lock()
	defer h.mu.Unlock()

	cfg := h.defaults.Clone()
	if h.repo != nil {
		raw, ok, err := h.repo.GetRecord(ctx, recordKey)
		switch {
		case err != nil:
			h.logger.Warn("configuration load failed, using defaults", zap.Error(err))
		case ok:
			stored, decodeErr := Decode(raw)
			if decodeErr != nil {
				h.logger.Warn("stored configuration malformed, using defaults", zap.Error(decodeErr))
			} else {
				cfg = Merge(stored, h.defaults)
			}
		}
	}
	h.current.Store(&cfg)
	return cfg.Clone()
}

// Current returns the published snapshot. Callers must not mutate it.
func (h *Holder) Current() *Configuration {
	return h.current.Load()
}

// Update applies fn to a private copy, persists it and then publishes it.
// On persistence failure the previous snapshot stays current.
func (h *Holder) Update(ctx context.Context, fn func(*Configuration)) (Configuration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.current.Load().Clone()
	fn(&next)
	next = Merge(next, h.defaults)

	if h.repo != nil {
		raw, err := Encode(next)
		if err != nil {
			return Configuration{}, err
		}
		if err := h.repo.PutRecord(ctx, recordKey, raw); err != nil {
			return Configuration{}, fmt.Errorf("save configuration: %w", err)
		}
	}
	h.current.Store(&next)
	return next.Clone(), nil
}

func Encode(cfg Configuration) ([]byte, error) {
	return json.Marshal(cfg)
}

func Decode(raw []byte) (Configuration, error) {
	if len(raw) == 0 {
		return Configuration{}, errors.New("empty configuration record")
	}
	var cfg Configuration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Configuration{}, err
	}
	if cfg.Modules == nil {
		cfg.Modules = make(map[models.ModuleName]ModuleSetting)
	}
	return cfg, nil
}
