// Package model はドメインモデルを定義する。
package model

import "time"

// AccountStatus はリンク済みアカウントの状態を表す。
type AccountStatus string

const (
	// AccountStatusVerifying は認証コード発行済みで本人確認待ちの状態。
	// 旧プロビジョニングフローとの互換のために残している。現行フローでは
	// 認証完了まで linked_accounts 行は作成されない。
	AccountStatusVerifying AccountStatus = "verifying"
	// AccountStatusActive は認証済みでホワイトリストに登録されている状態。
	AccountStatusActive AccountStatus = "active"
	// AccountStatusBanned は懲戒処分によりリモートアクセスを剥奪された状態。
	AccountStatusBanned AccountStatus = "banned"
	// AccountStatusCancelled はローカルでは削除が決定したが、リモートの
	// ホワイトリスト削除コマンドが未確認の状態。この状態の行は定義上
	// リトライプールのメンバーであり、定期スイープが削除を再試行する。
	AccountStatusCancelled AccountStatus = "cancelled"
	// AccountStatusRemoved は管理者によるリンク解除後、履歴保持のために
	// 残されている状態。再有効化または完全削除の対象。
	AccountStatusRemoved AccountStatus = "removed"
	// AccountStatusParentDisabled は保護者によって無効化された状態。
	AccountStatusParentDisabled AccountStatus = "parent_disabled"
)

// Platform はリモートアカウントのプラットフォーム種別を表す。
// 命名規則とプロファイル解決APIが異なるため区別する。
type Platform string

const (
	// PlatformJava はJava版のアカウント。
	PlatformJava Platform = "java"
	// PlatformBedrock は統合版のアカウント。
	PlatformBedrock Platform = "bedrock"
)

// LinkedAccount はローカルユーザーに紐付いたゲームサーバー上のアカウントを表す。
// RemoteUUIDは削除されていない全アカウントを通じてグローバルに一意である
// （1つのリモートアカウントを複数ユーザーが同時に所有することはできない）。
type LinkedAccount struct {
	ID         string
	UserID     string
	RemoteUUID string
	RemoteName string
	Platform   Platform
	Status     AccountStatus
	IsPrimary  bool
	VerifiedAt *time.Time // 認証完了日時。認証待ちの間はnil。
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CountsTowardLimit はこのアカウントがユーザーのリンク上限にカウントされるかを返す。
// Removedのアカウントは上限から除外される（削除済みアカウントが自身の
// 再有効化を妨げるデッドロックを避けるため）。
func (a *LinkedAccount) CountsTowardLimit() bool {
	return a.Status != AccountStatusRemoved
}
