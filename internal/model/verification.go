// Package model はドメインモデルを定義する。
package model

import "time"

// VerificationStatus は認証チケットの状態を表す。
type VerificationStatus string

const (
	// VerificationStatusPending は発行済みでゲーム内提示待ちの状態。
	VerificationStatusPending VerificationStatus = "pending"
	// VerificationStatusCompleted は認証が完了しリンクが成立した状態。
	VerificationStatusCompleted VerificationStatus = "completed"
	// VerificationStatusExpired は猶予期間内に完了しなかった状態。
	VerificationStatusExpired VerificationStatus = "expired"
	// VerificationStatusFailed はUUID競合等により完了不能になった状態。
	VerificationStatusFailed VerificationStatus = "failed"
)

// PendingVerification はアカウントリンクの認証チケットを表す。
// 発行時にリモートのホワイトリスト登録が先行するため、Pendingの行は
// 「対応するLinkedAccountなしにリモートアクセスが付与されている」ことの
// 唯一の証跡となる。期限切れ処理がローカル状態だけでなくリモート状態の
// 照合を行うのはこの非対称性のため。
type PendingVerification struct {
	ID         string
	Code       string // 人間が手入力する短い認証コード
	UserID     string
	Platform   Platform
	RemoteName string // 発行時に解決した正規表記のアカウント名
	RemoteUUID string // 発行時に解決したリモートID
	Status     VerificationStatus
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsExpired は指定時刻において期限切れかどうかを返す。
func (v *PendingVerification) IsExpired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}
