package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskhub/server/collab/domain"
	"taskhub/server/collab/repository"
)

type PreferenceStore struct {
	pool *pgxpool.Pool
}

func NewPreferenceStore(pool *pgxpool.Pool) *PreferenceStore {
	return &PreferenceStore{pool: pool}
}

func (s *PreferenceStore) GetByUser(ctx context.Context, userID string) (domain.PreferenceProfile, error) {
	var p domain.PreferenceProfile
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, email_enabled, push_enabled, email_kinds, push_kinds, digest_frequency, quiet_start_hour, quiet_end_hour
		FROM notification_preferences
		WHERE user_id=$1
	`, userID).Scan(
		&p.UserID,
		&p.EmailEnabled,
		&p.PushEnabled,
		&p.EmailKinds,
		&p.PushKinds,
		&p.DigestFrequency,
		&p.QuietStartHour,
		&p.QuietEndHour,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PreferenceProfile{}, repository.ErrNotFound
		}
		return domain.PreferenceProfile{}, err
	}
	return p, nil
}

func (s *PreferenceStore) Upsert(ctx context.Context, p domain.PreferenceProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_preferences(user_id, email_enabled, push_enabled, email_kinds, push_kinds, digest_frequency, quiet_start_hour, quiet_end_hour, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email_enabled=EXCLUDED.email_enabled,
			push_enabled=EXCLUDED.push_enabled,
			email_kinds=EXCLUDED.email_kinds,
			push_kinds=EXCLUDED.push_kinds,
			digest_frequency=EXCLUDED.digest_frequency,
			quiet_start_hour=EXCLUDED.quiet_start_hour,
			quiet_end_hour=EXCLUDED.quiet_end_hour,
			updated_at=NOW()
	`, p.UserID, p.EmailEnabled, p.PushEnabled, p.EmailKinds, p.PushKinds, p.DigestFrequency, p.QuietStartHour, p.QuietEndHour)
	return err
}

func (s *PreferenceStore) ListUserIDsByDigest(ctx context.Context, freq domain.DigestFrequency) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM notification_preferences WHERE digest_frequency=$1 AND email_enabled=true
	`, freq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
