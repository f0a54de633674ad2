// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, conflict, auth, remote, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAccountLimit      = "ACCOUNT_LIMIT"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeIdentityNotFound  = "IDENTITY_NOT_FOUND"
	ErrCodeAlreadyLinked     = "ALREADY_LINKED"
	ErrCodeLinkedToOtherUser = "LINKED_TO_OTHER_USER"
	ErrCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidStatus     = "INVALID_STATUS"
	ErrCodeUserConfined      = "USER_CONFINED"
	ErrCodeRemoteUnavailable = "REMOTE_UNAVAILABLE"
	ErrCodeDuplicateReward   = "DUPLICATE_REWARD"
	ErrCodeInvalidPlatform   = "INVALID_PLATFORM"
)

// NewAccountLimitError はリンク上限到達エラーを生成する。
func NewAccountLimitError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeAccountLimit,
		Message:  fmt.Sprintf("リンクできるアカウント数が上限（%d件）に達しています。", limit),
		Category: "validation",
		Action:   "不要なアカウントのリンクを解除してから再度お試しください。",
	}
}

// NewRateLimitedError は認証コード発行のレート制限エラーを生成する。
func NewRateLimitedError(perHour int) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  fmt.Sprintf("認証コードの発行回数が制限（1時間あたり%d回）を超えています。", perHour),
		Category: "validation",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewIdentityNotFoundError はプロファイル解決失敗エラーを生成する。
func NewIdentityNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  fmt.Sprintf("アカウント名を確認できませんでした: %s", name),
		Category: "validation",
		Action:   "アカウント名の綴りとプラットフォームの選択を確認してください。",
	}
}

// NewAlreadyLinkedError は同一ユーザーによる重複リンクエラーを生成する。
func NewAlreadyLinkedError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyLinked,
		Message:  fmt.Sprintf("このアカウントは既にあなたにリンクされています: %s", name),
		Category: "conflict",
		Action:   "リンク済みアカウントの一覧を確認してください。",
	}
}

// NewLinkedToOtherUserError は他ユーザーが所有済みのアカウントに対する
// リンク試行エラーを生成する。
func NewLinkedToOtherUserError() *APIError {
	return &APIError{
		Code:     ErrCodeLinkedToOtherUser,
		Message:  "このアカウントは別のユーザーにリンクされています。",
		Category: "conflict",
		Action:   "自分のアカウントであるか確認のうえ、サポートに連絡してください。",
	}
}

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定されたアカウントが見つかりません: %s", accountID),
		Category: "validation",
		Action:   "アカウントIDを確認してください。",
	}
}

// NewInvalidStatusError は現在の状態では実行できない操作のエラーを生成する。
func NewInvalidStatusError(status AccountStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("アカウントの現在の状態（%s）ではこの操作は実行できません。", status),
		Category: "validation",
		Action:   "アカウントの状態を確認してください。",
	}
}

// NewUserConfinedError は懲戒中ユーザーによる操作のエラーを生成する。
func NewUserConfinedError() *APIError {
	return &APIError{
		Code:     ErrCodeUserConfined,
		Message:  "懲戒処分中のためこの操作は実行できません。",
		Category: "auth",
		Action:   "処分が解除されるまでお待ちください。",
	}
}

// NewRemoteUnavailableError はゲームサーバーと通信できない場合のエラーを生成する。
// タイムアウトと明示的な失敗応答は呼び出し元からは区別されない。
func NewRemoteUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeRemoteUnavailable,
		Message:  "ゲームサーバーと通信できませんでした。",
		Category: "remote",
		Action:   "サーバーの稼働状況を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewDuplicateRewardError は付与済み報酬の重複付与エラーを生成する。
func NewDuplicateRewardError(rewardName string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateReward,
		Message:  fmt.Sprintf("この報酬は既に付与されています: %s", rewardName),
		Category: "conflict",
		Action:   "付与履歴を確認してください。",
	}
}

// NewInvalidPlatformError は未対応プラットフォーム指定のエラーを生成する。
func NewInvalidPlatformError(platform string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPlatform,
		Message:  fmt.Sprintf("未対応のプラットフォームです: %s", platform),
		Category: "validation",
		Action:   "java または bedrock を指定してください。",
	}
}
