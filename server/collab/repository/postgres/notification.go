package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"taskhub/server/collab/domain"
	"taskhub/server/collab/repository"
)

type NotificationStore struct {
	pool *pgxpool.Pool
}

func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

func (s *NotificationStore) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notifications(id, user_id, kind, title, message, payload, priority, link, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, n.ID, n.UserID, n.Kind, n.Title, n.Message, n.Payload, n.Priority, n.Link, n.CreatedAt).Scan(&n.CreatedAt)
	if err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

func (s *NotificationStore) ListByUser(ctx context.Context, userID string, f repository.NotificationFilter) ([]domain.Notification, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, title, message, payload, priority, link, read, read_at, email_sent, push_sent, created_at
		FROM notifications
		WHERE user_id=$1
		  AND ($2::bool = false OR read = false)
		  AND ($3::text = '' OR kind = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, userID, f.UnreadOnly, string(f.Kind), limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Notification, 0)
	for rows.Next() {
		var item domain.Notification
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Kind,
			&item.Title,
			&item.Message,
			&item.Payload,
			&item.Priority,
			&item.Link,
			&item.Read,
			&item.ReadAt,
			&item.EmailSent,
			&item.PushSent,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *NotificationStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND read=false`, userID).Scan(&count)
	return count, err
}

func (s *NotificationStore) MarkRead(ctx context.Context, userID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE notifications
		SET read=true, read_at=NOW()
		WHERE user_id=$1 AND id=ANY($2) AND read=false
		RETURNING id
	`, userID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updated := make([]string, 0, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		updated = append(updated, id)
	}
	return updated, rows.Err()
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE notifications SET read=true, read_at=NOW() WHERE user_id=$1 AND read=false
	`, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (s *NotificationStore) SetChannelFlags(ctx context.Context, id string, emailSent, pushSent bool) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE notifications SET email_sent = email_sent OR $1, push_sent = push_sent OR $2 WHERE id=$3
	`, emailSent, pushSent, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *NotificationStore) Delete(ctx context.Context, userID, id string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE user_id=$1 AND id=$2`, userID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *NotificationStore) DeleteExpiredRead(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE read=true AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (s *NotificationStore) Stats(ctx context.Context, userID string) (domain.NotificationStats, error) {
	stats := domain.NotificationStats{ByKind: map[domain.NotificationKind]int64{}}
	rows, err := s.pool.Query(ctx, `
		SELECT kind, COUNT(*), COUNT(*) FILTER (WHERE read=false)
		FROM notifications
		WHERE user_id=$1
		GROUP BY kind
	`, userID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind domain.NotificationKind
		var total, unread int64
		if err := rows.Scan(&kind, &total, &unread); err != nil {
			return stats, err
		}
		stats.ByKind[kind] = total
		stats.Total += total
		stats.Unread += unread
	}
	return stats, rows.Err()
}
