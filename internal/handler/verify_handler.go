package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/linkhub/internal/verification"
)

// CompleterServiceInterface は認証完了ハンドラーが必要とするサービスインターフェース。
type CompleterServiceInterface interface {
	// Complete はゲーム内で提示された認証コードを検証し、リンクを成立させる。
	Complete(ctx context.Context, rawCode, presentedName, presentedUUID string) *verification.CompletionResult
}

// VerifyHandler はゲームサーバープラグインからの認証完了コールバックハンドラー。
type VerifyHandler struct {
	completer CompleterServiceInterface
}

// NewVerifyHandler はVerifyHandlerを生成する。
func NewVerifyHandler(completer CompleterServiceInterface) *VerifyHandler {
	return &VerifyHandler{completer: completer}
}

// verifyRequest は認証完了リクエストのボディ。
// ゲームサーバープラグインがプレイヤーの提示情報をそのまま送る。
type verifyRequest struct {
	Code     string `json:"code"`
	Username string `json:"username"`
	UUID     string `json:"uuid"`
}

// verifyResponse は認証完了のAPIレスポンス。
// メッセージはそのままゲーム内チャットでプレイヤーに表示される。
type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Verify は認証コードの提示を処理する。
// POST /internal/verify
// 業務上の失敗（コード不明・期限切れ・不一致）でもHTTPとしては200を返す。
// プラグインはsuccessフラグとメッセージだけを扱う。
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}
	if req.Code == "" || req.UUID == "" {
		writeInvalidRequest(w)
		return
	}

	result := h.completer.Complete(r.Context(), req.Code, req.Username, req.UUID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(verifyResponse{
		Success: result.Success,
		Message: result.Message,
	})
}
