package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pdr-security/internal/models"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

type BackupStore interface {
	SaveBackup(ctx context.Context, snapshot models.Snapshot) error
	LatestBackup(ctx context.Context, guildID string) (*models.Snapshot, error)
}

type RoleCreator interface {
	CreateRole(ctx context.Context, guildID string, role models.Role) (*models.Role, error)
}

type Service struct {
	store    BackupStore
	client   RoleCreator
	logger   *zap.Logger
	now      func() time.Time
	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(store BackupStore, client RoleCreator, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		client:   client,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Snapshot stores a copy of roles for guildID. The implicit @everyone
// role shares the guild id and is left out.
func (s *Service) Snapshot(ctx context.Context, guildID string, roles []models.Role) (models.Snapshot, error) {
	snapshot := models.Snapshot{GuildID: guildID, CreatedAt: s.now()}
	for _, role := range roles {
		if role.ID == guildID {
			continue
		}
		snapshot.Roles = append(snapshot.Roles, role)
	}
	if err := s.store.SaveBackup(ctx, snapshot); err != nil {
		return models.Snapshot{}, fmt.Errorf("save backup %s: %w", guildID, err)
	}
	return snapshot, nil
}

// SnapshotAll backs up several guilds concurrently and returns how many
// snapshots were stored.
func (s *Service) SnapshotAll(ctx context.Context, guilds map[string][]models.Role) (int, error) {
	var mu sync.Mutex
	saved := 0
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(4)
	for guildID, roles := range guilds {
		p.Go(func(ctx context.Context) error {
			if _, err := s.Snapshot(ctx, guildID, roles); err != nil {
				return err
			}
			mu.Lock()
			saved++
			mu.Unlock()
			return nil
		})
	}
	err := p.Wait()
	return saved, err
}

// Restore re-creates deleted from the latest backup when a role with the
// same name exists there. Failures are logged and swallowed. Concurrent
// restores of the same deleted role collapse into one.
func (s *Service) Restore(ctx context.Context, guildID string, deleted models.Role) (*models.Role, bool) {
	if deleted.Name == "" {
		return nil, false
	}
	key := guildID + ":" + deleted.ID
	s.mu.Lock()
	if _, busy := s.inflight[key]; busy {
		s.mu.Unlock()
		return nil, false
	}
	s.inflight[key] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}()

	snapshot, err := s.store.LatestBackup(ctx, guildID)
	if err != nil {
		s.logger.Warn("load backup failed", zap.String("guild_id", guildID), zap.Error(err))
		return nil, false
	}
	if snapshot == nil {
		s.logger.Debug("no backup for guild", zap.String("guild_id", guildID))
		return nil, false
	}
	template, ok := snapshot.Find(deleted.Name)
	if !ok {
		return nil, false
	}
	created, err := s.client.CreateRole(ctx, guildID, template)
	if err != nil {
		s.logger.Warn("role restore failed", zap.String("guild_id", guildID), zap.String("role", deleted.Name), zap.Error(err))
		return nil, false
	}
	s.logger.Info("role restored", zap.String("guild_id", guildID), zap.String("role", deleted.Name))
	return created, true
}
