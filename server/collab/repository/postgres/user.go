package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskhub/server/collab/domain"
	"taskhub/server/collab/repository"
)

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, org_id, email, name, last_seen_at FROM users WHERE user_id=$1
	`, id).Scan(&user.ID, &user.OrgID, &user.Email, &user.Name, &user.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, repository.ErrNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func (s *UserStore) TouchLastSeen(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET last_seen_at=NOW() WHERE user_id=$1`, id)
	return err
}

// IsWorkspaceMember is the authorization gate for joining a workspace room:
// direct project membership or membership of a team assigned to the project.
func (s *UserStore) IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM project_members WHERE project_id=$1 AND user_id=$2
			UNION
			SELECT 1
			FROM project_teams pt
			JOIN team_members tm ON tm.team_id = pt.team_id
			WHERE pt.project_id=$1 AND tm.user_id=$2
		)
	`, workspaceID, userID).Scan(&ok)
	return ok, err
}
