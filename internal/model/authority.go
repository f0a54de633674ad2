// Package model はドメインモデルを定義する。
package model

// Authority は本体アプリケーションが管理するユーザーの権限状態の読み取り専用
// スナップショットを表す。このサブシステムは参照のみを行い、変更しない。
type Authority struct {
	MembershipLevel      int    // 会員ランク。サーバーアクセス閾値との比較に使用する。
	StaffDepartment      string // スタッフ部門。空文字列は非スタッフを意味する。
	StaffRank            string
	Confined             bool // 懲戒状態。trueの間は全アカウントがBanned。
	ParentalLinkDisabled bool // 保護者設定によるリンク無効化。
}

// IsStaff はユーザーがスタッフ部門に所属しているかを返す。
func (a *Authority) IsStaff() bool {
	return a.StaffDepartment != ""
}
