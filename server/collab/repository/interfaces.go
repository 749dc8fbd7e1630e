package repository

import (
	"context"
	"errors"
	"time"

	"taskhub/server/collab/domain"
)

var ErrNotFound = errors.New("not found")

type NotificationFilter struct {
	UnreadOnly bool
	Kind       domain.NotificationKind
	Limit      int
	Offset     int
}

type NotificationStore interface {
	Create(ctx context.Context, n domain.Notification) (domain.Notification, error)
	ListByUser(ctx context.Context, userID string, f NotificationFilter) ([]domain.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	// MarkRead flips the read flag on the given ids that belong to userID
	// and are still unread, returning the ids that actually transitioned.
	MarkRead(ctx context.Context, userID string, ids []string) ([]string, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	SetChannelFlags(ctx context.Context, id string, emailSent, pushSent bool) error
	Delete(ctx context.Context, userID, id string) error
	// DeleteExpiredRead removes read notifications created before cutoff.
	// Unread notifications are never touched.
	DeleteExpiredRead(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context, userID string) (domain.NotificationStats, error)
}

type PreferenceStore interface {
	GetByUser(ctx context.Context, userID string) (domain.PreferenceProfile, error)
	Upsert(ctx context.Context, p domain.PreferenceProfile) error
	ListUserIDsByDigest(ctx context.Context, freq domain.DigestFrequency) ([]string, error)
}

type TaskStore interface {
	// ListDueForReminder returns incomplete assigned tasks due within the
	// window that have not been reminded inside the same window.
	ListDueForReminder(ctx context.Context, within time.Duration) ([]domain.TaskReminder, error)
	MarkReminded(ctx context.Context, taskID string, at time.Time) error
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
	TouchLastSeen(ctx context.Context, id string) error
	IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error)
}
