package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pdr-security/internal/models"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SaveBackup appends a role snapshot. Snapshots are never updated.
func (s *Store) SaveBackup(ctx context.Context, snapshot models.Snapshot) error {
	roles, err := json.Marshal(snapshot.Roles)
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	created := snapshot.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.exec(ctx, `
		INSERT INTO backups (id, guild_id, roles, created_at) VALUES (?, ?, ?, ?)
	`, uuid.NewString(), snapshot.GuildID, string(roles), created.UnixNano())
	return err
}

// LatestBackup returns the most recent snapshot for guildID, or nil.
func (s *Store) LatestBackup(ctx context.Context, guildID string) (*models.Snapshot, error) {
	var raw string
	var created int64
	err := s.queryRow(ctx, `
		SELECT roles, created_at FROM backups
		WHERE guild_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, guildID).Scan(&raw, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	snapshot := &models.Snapshot{GuildID: guildID, CreatedAt: time.Unix(0, created)}
	if err := json.Unmarshal([]byte(raw), &snapshot.Roles); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	return snapshot, nil
}
