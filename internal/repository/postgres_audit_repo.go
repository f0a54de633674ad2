package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/linkhub/internal/model"
)

// PostgresAuditRepo はPostgreSQLを使用したコマンド監査ログリポジトリ。追記のみ。
type PostgresAuditRepo struct {
	db *sql.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sql.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// Insert は監査エントリを追記する。
func (r *PostgresAuditRepo) Insert(ctx context.Context, entry *model.CommandAudit) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audits (id, command, kind, target, actor_user_id, status, response, elapsed_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Command, entry.Kind, entry.Target, entry.ActorUserID,
		entry.Status, entry.Response, entry.ElapsedMs, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert command audit: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AuditRepository = (*PostgresAuditRepo)(nil)
