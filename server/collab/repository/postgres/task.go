package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"taskhub/server/collab/domain"
	"taskhub/server/collab/repository"
)

type TaskStore struct {
	pool *pgxpool.Pool
}

func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

func (s *TaskStore) ListDueForReminder(ctx context.Context, within time.Duration) ([]domain.TaskReminder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, project_id, assignee_id, title, due_at
		FROM tasks
		WHERE completed=false
		  AND assignee_id IS NOT NULL
		  AND due_at > NOW()
		  AND due_at <= NOW() + $1::interval
		  AND (last_reminded_at IS NULL OR last_reminded_at < NOW() - $1::interval)
		ORDER BY due_at
	`, within)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TaskReminder, 0)
	for rows.Next() {
		var item domain.TaskReminder
		if err := rows.Scan(&item.TaskID, &item.ProjectID, &item.AssigneeID, &item.Title, &item.DueAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *TaskStore) MarkReminded(ctx context.Context, taskID string, at time.Time) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE tasks SET last_reminded_at=$1 WHERE task_id=$2`, at, taskID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
