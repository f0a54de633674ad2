package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/linkhub/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `id, user_id, remote_uuid, remote_name, platform, status, is_primary, verified_at, created_at, updated_at`

// scanAccount は1行をLinkedAccountに読み取る。
func scanAccount(row interface {
	Scan(dest ...interface{}) error
}) (*model.LinkedAccount, error) {
	a := &model.LinkedAccount{}
	var verifiedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.UserID, &a.RemoteUUID, &a.RemoteName, &a.Platform,
		&a.Status, &a.IsPrimary, &verifiedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		a.VerifiedAt = &verifiedAt.Time
	}
	return a, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.LinkedAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return a, nil
}

// FindByRemoteUUID はリモートIDでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByRemoteUUID(ctx context.Context, remoteUUID string) (*model.LinkedAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE remote_uuid = $1`, remoteUUID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by remote UUID: %w", err)
	}
	return a, nil
}

// FindVerifying は指定ユーザー・リモートIDのVerifying状態のアカウントを検索する。
func (r *PostgresAccountRepo) FindVerifying(ctx context.Context, userID, remoteUUID string) (*model.LinkedAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts
		 WHERE user_id = $1 AND remote_uuid = $2 AND status = $3`,
		userID, remoteUUID, model.AccountStatusVerifying)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find verifying account: %w", err)
	}
	return a, nil
}

// ListByUserID はユーザーの全アカウントをID昇順で返す。
func (r *PostgresAccountRepo) ListByUserID(ctx context.Context, userID string) ([]*model.LinkedAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListByUserAndStatuses はユーザーの指定状態のアカウントをID昇順で返す。
func (r *PostgresAccountRepo) ListByUserAndStatuses(ctx context.Context, userID string, statuses ...model.AccountStatus) ([]*model.LinkedAccount, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := []interface{}{userID}
	for i, st := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, st)
	}

	query := `SELECT ` + accountColumns + ` FROM linked_accounts
		 WHERE user_id = $1 AND status IN (` + strings.Join(placeholders, ", ") + `) ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by status: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListByStatus は指定状態の全アカウントを作成日時の古い順で返す。
func (r *PostgresAccountRepo) ListByStatus(ctx context.Context, status model.AccountStatus, limit int) ([]*model.LinkedAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts
		 WHERE status = $1 ORDER BY created_at LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by status: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func collectAccounts(rows *sql.Rows) ([]*model.LinkedAccount, error) {
	var accounts []*model.LinkedAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// CountTowardLimit はリンク上限にカウントされるアカウント数を返す。
// Removedのアカウントは除外される。
func (r *PostgresAccountRepo) CountTowardLimit(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM linked_accounts WHERE user_id = $1 AND status <> $2`,
		userID, model.AccountStatusRemoved,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return count, nil
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, a *model.LinkedAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO linked_accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.UserID, a.RemoteUUID, a.RemoteName, a.Platform,
		a.Status, a.IsPrimary, a.VerifiedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// CreateFromVerification はアカウント作成・認証チケットのCompleted遷移・
// 監査エントリ書き込みを同一トランザクションで行う。
func (r *PostgresAccountRepo) CreateFromVerification(ctx context.Context, a *model.LinkedAccount, verificationID string, audit *model.CommandAudit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO linked_accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.UserID, a.RemoteUUID, a.RemoteName, a.Platform,
		a.Status, a.IsPrimary, a.VerifiedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE pending_verifications SET status = $1, updated_at = now()
		 WHERE id = $2 AND status = $3`,
		model.VerificationStatusCompleted, verificationID, model.VerificationStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to complete verification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("verification is no longer pending: %s", verificationID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO command_audits (id, command, kind, target, actor_user_id, status, response, elapsed_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		audit.ID, audit.Command, audit.Kind, audit.Target, audit.ActorUserID,
		audit.Status, audit.Response, audit.ElapsedMs, audit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// PromoteFromVerification は旧フローのVerifying行のActive遷移・認証チケットの
// Completed遷移・監査エントリ書き込みを同一トランザクションで行う。
func (r *PostgresAccountRepo) PromoteFromVerification(ctx context.Context, accountID, verificationID string, verifiedAt time.Time, audit *model.CommandAudit) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE linked_accounts SET status = $1, verified_at = $2, updated_at = now()
		 WHERE id = $3 AND status = $4`,
		model.AccountStatusActive, verifiedAt, accountID, model.AccountStatusVerifying,
	)
	if err != nil {
		return false, fmt.Errorf("failed to promote account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// 競合する遷移に敗北した。ロールバックして何も適用しない。
		return false, nil
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE pending_verifications SET status = $1, updated_at = now()
		 WHERE id = $2 AND status = $3`,
		model.VerificationStatusCompleted, verificationID, model.VerificationStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete verification: %w", err)
	}
	affected, err = result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return false, fmt.Errorf("verification is no longer pending: %s", verificationID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO command_audits (id, command, kind, target, actor_user_id, status, response, elapsed_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		audit.ID, audit.Command, audit.Kind, audit.Target, audit.ActorUserID,
		audit.Status, audit.Response, audit.ElapsedMs, audit.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// UpdateStatus は現在の状態がfromの場合に限りtoへ遷移させる。
func (r *PostgresAccountRepo) UpdateStatus(ctx context.Context, id string, from, to model.AccountStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE linked_accounts SET status = $1, updated_at = now()
		 WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update account status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetPrimary は同一ユーザーの他アカウントのプライマリフラグを全て解除し、
// 指定アカウントに設定する。単一トランザクションで実行する。
func (r *PostgresAccountRepo) SetPrimary(ctx context.Context, userID, accountID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE linked_accounts SET is_primary = FALSE, updated_at = now()
		 WHERE user_id = $1 AND is_primary`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear primary flags: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE linked_accounts SET is_primary = TRUE, updated_at = now()
		 WHERE id = $1 AND user_id = $2`,
		accountID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set primary flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account not found: %s", accountID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FindPrimary はユーザーのプライマリアカウントを取得する。存在しない場合はnilを返す。
func (r *PostgresAccountRepo) FindPrimary(ctx context.Context, userID string) (*model.LinkedAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE user_id = $1 AND is_primary`, userID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find primary account: %w", err)
	}
	return a, nil
}

// ClearPrimary は指定アカウントのプライマリフラグを解除する。
func (r *PostgresAccountRepo) ClearPrimary(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE linked_accounts SET is_primary = FALSE, updated_at = now() WHERE id = $1`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear primary flag: %w", err)
	}
	return nil
}

// Delete は指定IDのアカウントを物理削除する。
func (r *PostgresAccountRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM linked_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
