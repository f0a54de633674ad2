// Package model はドメインモデルを定義する。
package model

import "time"

// CommandKind はリモートコマンドの監査分類を表す。
// 分類のみに使用され、ディスパッチャーの分岐条件には使用しない。
type CommandKind string

const (
	// CommandKindWhitelist はホワイトリスト追加・削除コマンド。
	CommandKindWhitelist CommandKind = "whitelist"
	// CommandKindRank はランク・スタッフ権限の反映コマンド。
	CommandKindRank CommandKind = "rank"
	// CommandKindVerify は認証フローに関するコマンド。
	CommandKindVerify CommandKind = "verify"
	// CommandKindReward は報酬付与コマンド。
	CommandKindReward CommandKind = "reward"
	// CommandKindKick はプレイヤーのキックコマンド（常にベストエフォート）。
	CommandKindKick CommandKind = "kick"
)

// CommandStatus はリモートコマンドの実行結果分類を表す。
// タイムアウトは呼び出し元からは失敗と区別されないが、監査上は区別して記録する。
type CommandStatus string

const (
	// CommandStatusSuccess はリモートが成功を返した。
	CommandStatusSuccess CommandStatus = "success"
	// CommandStatusFailed はリモートが失敗を返したか、通信に失敗した。
	CommandStatusFailed CommandStatus = "failed"
	// CommandStatusTimeout は期限内に応答が得られなかった。
	CommandStatusTimeout CommandStatus = "timeout"
)

// CommandAudit はリモートコマンド監査ログの1エントリを表す。
// 成否にかかわらず全てのコマンド実行が追記される。
type CommandAudit struct {
	ID          string
	Command     string
	Kind        CommandKind
	Target      string
	ActorUserID *string // システム起点の実行ではnil
	Status      CommandStatus
	Response    string // 応答本文またはエラーメッセージ
	ElapsedMs   int64
	CreatedAt   time.Time
}

// RewardGrant は一度きりの報酬付与の記録を表す。
// (UserID, RewardName) の組の存在自体が冪等性ガードであり、
// リモートコマンドの成否とは独立に「再付与しない」ことを意味する。
type RewardGrant struct {
	ID          string
	UserID      string
	AccountID   string
	RewardName  string
	Description string
	CreatedAt   time.Time
}
