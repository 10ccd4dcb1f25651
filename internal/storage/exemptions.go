package storage

import (
	"context"
	"time"

	"pdr-security/internal/models"
)

// AddExemption inserts e and reports whether a new entry was stored.
// A duplicate id is not an error.
func (s *Store) AddExemption(ctx context.Context, e models.Exemption) (bool, error) {
	result, err := s.exec(ctx, `
		INSERT INTO exemptions (id, kind, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Kind), time.Now().Unix())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) RemoveExemption(ctx context.Context, id string) (bool, error) {
	result, err := s.exec(ctx, `DELETE FROM exemptions WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) ListExemptions(ctx context.Context) ([]models.Exemption, error) {
	rows, err := s.query(ctx, `SELECT id, kind FROM exemptions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Exemption
	for rows.Next() {
		var item models.Exemption
		var kind string
		if err := rows.Scan(&item.ID, &kind); err != nil {
			return nil, err
		}
		item.Kind = models.ExemptionKind(kind)
		list = append(list, item)
	}
	return list, rows.Err()
}
