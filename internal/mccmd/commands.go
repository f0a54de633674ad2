// Package mccmd はゲームサーバーへ送信するコマンド文字列の組み立てを提供する。
// コマンドの種類ごとの知識はディスパッチャーではなく呼び出し側に属するため、
// 各サービスがこのパッケージを介してコマンドを構築する。
package mccmd

import (
	"fmt"
	"strings"
)

// quoteName はスペースを含むアカウント名（統合版）を引用符で囲む。
func quoteName(name string) string {
	if strings.ContainsRune(name, ' ') {
		return `"` + name + `"`
	}
	return name
}

// WhitelistAdd はホワイトリスト追加コマンドを返す。
func WhitelistAdd(name string) string {
	return fmt.Sprintf("whitelist add %s", quoteName(name))
}

// WhitelistRemove はホワイトリスト削除コマンドを返す。
func WhitelistRemove(name string) string {
	return fmt.Sprintf("whitelist remove %s", quoteName(name))
}

// Kick はキックコマンドを返す。常にベストエフォートで使用される。
func Kick(name, reason string) string {
	return fmt.Sprintf("kick %s %s", quoteName(name), reason)
}

// RankSet は権限プラグインのランク設定コマンドを返す。
// ランクはリモート側で置き換え設定のため、繰り返し実行しても累積しない。
func RankSet(remoteUUID, rankToken string) string {
	return fmt.Sprintf("lp user %s parent set %s", remoteUUID, rankToken)
}

// StaffSet はスタッフ役職の設定コマンドを返す。
func StaffSet(remoteUUID, department, rank string) string {
	return fmt.Sprintf("lp user %s meta set staff %s:%s", remoteUUID, department, rank)
}

// StaffRemove はスタッフ役職の解除コマンドを返す。
func StaffRemove(remoteUUID string) string {
	return fmt.Sprintf("lp user %s meta unset staff", remoteUUID)
}
