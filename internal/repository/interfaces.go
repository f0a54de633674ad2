// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/linkhub/internal/model"
)

// AccountRepository はリンク済みアカウントの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.LinkedAccount, error)

	// FindByRemoteUUID はリモートIDでアカウントを検索する。見つからない場合はnilを返す。
	// 行が存在すること自体が「削除されていない」ことを意味する。
	FindByRemoteUUID(ctx context.Context, remoteUUID string) (*model.LinkedAccount, error)

	// FindVerifying は指定ユーザー・リモートIDのVerifying状態のアカウントを検索する。
	// 旧プロビジョニングフローの残存レコードの照合用。見つからない場合はnilを返す。
	FindVerifying(ctx context.Context, userID, remoteUUID string) (*model.LinkedAccount, error)

	// ListByUserID はユーザーの全アカウントをID昇順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.LinkedAccount, error)

	// ListByUserAndStatuses はユーザーの指定状態のアカウントをID昇順で返す。
	ListByUserAndStatuses(ctx context.Context, userID string, statuses ...model.AccountStatus) ([]*model.LinkedAccount, error)

	// ListByStatus は指定状態の全アカウントを返す。リトライプール（Cancelled）の列挙に使用する。
	ListByStatus(ctx context.Context, status model.AccountStatus, limit int) ([]*model.LinkedAccount, error)

	// CountTowardLimit はリンク上限にカウントされるアカウント数を返す。
	// Removedのアカウントは除外される。
	CountTowardLimit(ctx context.Context, userID string) (int, error)

	// Create はアカウントを作成する。
	Create(ctx context.Context, account *model.LinkedAccount) error

	// CreateFromVerification はアカウント作成・認証チケットのCompleted遷移・
	// 監査エントリ書き込みを同一トランザクションで行う。
	// 部分適用は発生しない（全て適用されるか、全て適用されないか）。
	CreateFromVerification(ctx context.Context, account *model.LinkedAccount, verificationID string, audit *model.CommandAudit) error

	// PromoteFromVerification は旧フローのVerifying行のActive遷移・認証チケットの
	// Completed遷移・監査エントリ書き込みを同一トランザクションで行う。
	// アカウントが既にVerifyingでない場合は何も適用せずfalseを返す。
	PromoteFromVerification(ctx context.Context, accountID, verificationID string, verifiedAt time.Time, audit *model.CommandAudit) (bool, error)

	// UpdateStatus は現在の状態がfromの場合に限りtoへ遷移させる。
	// 遷移できた場合はtrueを返す。条件付きUPDATEにより、競合する遷移の
	// 敗者は何もしなかったことになる（楽観的ガード）。
	UpdateStatus(ctx context.Context, id string, from, to model.AccountStatus) (bool, error)

	// SetPrimary は同一ユーザーの他アカウントのプライマリフラグを全て解除し、
	// 指定アカウントに設定する。単一トランザクションで実行され、
	// プライマリが0件または2件になる瞬間は存在しない。
	SetPrimary(ctx context.Context, userID, accountID string) error

	// FindPrimary はユーザーのプライマリアカウントを取得する。存在しない場合はnilを返す。
	FindPrimary(ctx context.Context, userID string) (*model.LinkedAccount, error)

	// ClearPrimary は指定アカウントのプライマリフラグを解除する。
	ClearPrimary(ctx context.Context, accountID string) error

	// Delete は指定IDのアカウントを物理削除する。
	Delete(ctx context.Context, id string) error
}

// VerificationRepository は認証チケットの永続化インターフェース。
type VerificationRepository interface {
	// FindPendingByCode はPending状態の認証チケットをコードで検索する。
	// 見つからない場合はnilを返す。
	FindPendingByCode(ctx context.Context, code string) (*model.PendingVerification, error)

	// PendingCodeExists は指定コードのPendingチケットが存在するかを返す。
	// コード生成時の衝突チェックに使用する。
	PendingCodeExists(ctx context.Context, code string) (bool, error)

	// CountIssuedSince は指定時刻以降にユーザーへ発行されたチケット数を返す。
	// 状態を問わずカウントする（レート制限用）。
	CountIssuedSince(ctx context.Context, userID string, since time.Time) (int, error)

	// Create は認証チケットを作成する。
	Create(ctx context.Context, v *model.PendingVerification) error

	// UpdateStatus は現在の状態がfromの場合に限りtoへ遷移させる。
	// 遷移できた場合はtrueを返す。遅延期限切れとスイープ期限切れの
	// どちらが先に走っても冪等になる。
	UpdateStatus(ctx context.Context, id string, from, to model.VerificationStatus) (bool, error)

	// ListExpiredPending は期限を過ぎたPendingチケットを返す。
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.PendingVerification, error)
}

// RewardRepository は報酬付与記録の永続化インターフェース。
type RewardRepository interface {
	// Exists は(userID, rewardName)の付与記録が存在するかを返す。
	Exists(ctx context.Context, userID, rewardName string) (bool, error)

	// Create は付与記録を作成する。
	Create(ctx context.Context, grant *model.RewardGrant) error
}

// AuditRepository はコマンド監査ログの永続化インターフェース。追記のみ。
type AuditRepository interface {
	// Insert は監査エントリを追記する。
	Insert(ctx context.Context, entry *model.CommandAudit) error
}
