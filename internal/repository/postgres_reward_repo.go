package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/linkhub/internal/model"
)

// PostgresRewardRepo はPostgreSQLを使用した報酬付与記録リポジトリ。
type PostgresRewardRepo struct {
	db *sql.DB
}

// NewPostgresRewardRepo はPostgresRewardRepoを生成する。
func NewPostgresRewardRepo(db *sql.DB) *PostgresRewardRepo {
	return &PostgresRewardRepo{db: db}
}

// Exists は(userID, rewardName)の付与記録が存在するかを返す。
func (r *PostgresRewardRepo) Exists(ctx context.Context, userID, rewardName string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reward_grants WHERE user_id = $1 AND reward_name = $2)`,
		userID, rewardName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check reward existence: %w", err)
	}
	return exists, nil
}

// Create は付与記録を作成する。
// (user_id, reward_name)のユニーク制約が並行付与時の最終防衛線となる。
func (r *PostgresRewardRepo) Create(ctx context.Context, grant *model.RewardGrant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reward_grants (id, user_id, account_id, reward_name, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		grant.ID, grant.UserID, grant.AccountID, grant.RewardName, grant.Description, grant.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reward grant: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RewardRepository = (*PostgresRewardRepo)(nil)
