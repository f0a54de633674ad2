// Package verification は認証コードの発行と認証完了処理を提供する。
package verification

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// codeAlphabet は認証コードに使用する文字集合。
// 0/O、1/I/L のような紛らわしい文字はゲーム内チャットでの
// 手入力ミスを避けるため除外している。
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// codeLength は認証コードの文字数。
const codeLength = 6

// maxCodeAttempts はコード生成時の衝突リトライ回数の上限。
const maxCodeAttempts = 5

// generateCode は暗号乱数で認証コードを1つ生成する。
func generateCode() (string, error) {
	var b strings.Builder
	b.Grow(codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("乱数の生成に失敗しました: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode はゲーム内で提示されたコードを照合用に正規化する。
// 英数字以外（空白・ハイフン等）を除去し、大文字に揃える。
func NormalizeCode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		}
	}
	return b.String()
}

// NormalizeUUID はリモートIDを照合用に正規化する。
// ゲーム内プラグインはハイフン区切り、プロファイル解決APIは区切りなしの
// 表記を返すため、英数字以外を除去して小文字に揃える。
func NormalizeUUID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}
