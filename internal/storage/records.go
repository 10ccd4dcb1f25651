package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetRecord returns the keyed document stored under name.
func (s *Store) GetRecord(ctx context.Context, name string) ([]byte, bool, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM config_records WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (s *Store) PutRecord(ctx context.Context, name string, value []byte) error {
	_, err := s.exec(ctx, `
		INSERT INTO config_records (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, name, string(value), time.Now().Unix())
	return err
}
