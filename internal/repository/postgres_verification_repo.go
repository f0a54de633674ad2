package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/linkhub/internal/model"
)

// PostgresVerificationRepo はPostgreSQLを使用した認証チケットリポジトリ。
type PostgresVerificationRepo struct {
	db *sql.DB
}

// NewPostgresVerificationRepo はPostgresVerificationRepoを生成する。
func NewPostgresVerificationRepo(db *sql.DB) *PostgresVerificationRepo {
	return &PostgresVerificationRepo{db: db}
}

const verificationColumns = `id, code, user_id, platform, remote_name, remote_uuid, status, expires_at, created_at, updated_at`

func scanVerification(row interface {
	Scan(dest ...interface{}) error
}) (*model.PendingVerification, error) {
	v := &model.PendingVerification{}
	err := row.Scan(
		&v.ID, &v.Code, &v.UserID, &v.Platform, &v.RemoteName,
		&v.RemoteUUID, &v.Status, &v.ExpiresAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// FindPendingByCode はPending状態の認証チケットをコードで検索する。
func (r *PostgresVerificationRepo) FindPendingByCode(ctx context.Context, code string) (*model.PendingVerification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM pending_verifications
		 WHERE code = $1 AND status = $2`,
		code, model.VerificationStatusPending)
	v, err := scanVerification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find verification by code: %w", err)
	}
	return v, nil
}

// PendingCodeExists は指定コードのPendingチケットが存在するかを返す。
func (r *PostgresVerificationRepo) PendingCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pending_verifications WHERE code = $1 AND status = $2)`,
		code, model.VerificationStatusPending,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code existence: %w", err)
	}
	return exists, nil
}

// CountIssuedSince は指定時刻以降にユーザーへ発行されたチケット数を返す。
func (r *PostgresVerificationRepo) CountIssuedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_verifications WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count issued verifications: %w", err)
	}
	return count, nil
}

// Create は認証チケットを作成する。
func (r *PostgresVerificationRepo) Create(ctx context.Context, v *model.PendingVerification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_verifications (`+verificationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.Code, v.UserID, v.Platform, v.RemoteName,
		v.RemoteUUID, v.Status, v.ExpiresAt, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification: %w", err)
	}
	return nil
}

// UpdateStatus は現在の状態がfromの場合に限りtoへ遷移させる。
func (r *PostgresVerificationRepo) UpdateStatus(ctx context.Context, id string, from, to model.VerificationStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pending_verifications SET status = $1, updated_at = now()
		 WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update verification status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListExpiredPending は期限を過ぎたPendingチケットを期限の古い順で返す。
func (r *PostgresVerificationRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.PendingVerification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+verificationColumns+` FROM pending_verifications
		 WHERE status = $1 AND expires_at < $2 ORDER BY expires_at LIMIT $3`,
		model.VerificationStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired verifications: %w", err)
	}
	defer rows.Close()

	var verifications []*model.PendingVerification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		verifications = append(verifications, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verifications: %w", err)
	}
	return verifications, nil
}

// compile-time interface check
var _ VerificationRepository = (*PostgresVerificationRepo)(nil)
