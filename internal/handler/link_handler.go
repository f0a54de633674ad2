package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkhub/internal/middleware"
	"github.com/hitoshi/linkhub/internal/model"
)

// IssuerServiceInterface はリンクハンドラーが必要とする発行サービスインターフェース。
type IssuerServiceInterface interface {
	// Issue は認証コードを発行する。
	Issue(ctx context.Context, userID string, platform model.Platform, displayName string) (*model.PendingVerification, error)
}

// AccountServiceInterface はリンクハンドラーが必要とする状態遷移インターフェース。
type AccountServiceInterface interface {
	// Remove はアカウントのリンクを解除する。
	Remove(ctx context.Context, accountID string, actorUserID *string, admin bool) error
	// SetPrimary は指定アカウントをプライマリに設定する。
	SetPrimary(ctx context.Context, userID, accountID string) error
}

// AccountReader はリンク一覧の参照に必要なインターフェース。
// repository.AccountRepositoryの部分集合として定義する。
type AccountReader interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.LinkedAccount, error)
	FindByID(ctx context.Context, id string) (*model.LinkedAccount, error)
}

// LinkHandler はアカウントリンクのHTTPハンドラー。
type LinkHandler struct {
	issuer   IssuerServiceInterface
	accounts AccountServiceInterface
	reader   AccountReader
}

// NewLinkHandler はLinkHandlerを生成する。
func NewLinkHandler(issuer IssuerServiceInterface, accounts AccountServiceInterface, reader AccountReader) *LinkHandler {
	return &LinkHandler{
		issuer:   issuer,
		accounts: accounts,
		reader:   reader,
	}
}

// issueRequest は認証コード発行リクエストのボディ。
type issueRequest struct {
	Platform    string `json:"platform"`
	DisplayName string `json:"display_name"`
}

// issueResponse は認証コード発行のAPIレスポンス。
type issueResponse struct {
	Code       string    `json:"code"`
	RemoteName string    `json:"remote_name"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// accountResponse はリンク済みアカウントのAPIレスポンス。
type accountResponse struct {
	ID         string     `json:"id"`
	RemoteUUID string     `json:"remote_uuid"`
	RemoteName string     `json:"remote_name"`
	Platform   string     `json:"platform"`
	Status     string     `json:"status"`
	IsPrimary  bool       `json:"is_primary"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// toAccountResponse はmodel.LinkedAccountからAPIレスポンスに変換する。
func toAccountResponse(acc *model.LinkedAccount) accountResponse {
	return accountResponse{
		ID:         acc.ID,
		RemoteUUID: acc.RemoteUUID,
		RemoteName: acc.RemoteName,
		Platform:   string(acc.Platform),
		Status:     string(acc.Status),
		IsPrimary:  acc.IsPrimary,
		VerifiedAt: acc.VerifiedAt,
		CreatedAt:  acc.CreatedAt,
	}
}

// IssueCode は認証コードを発行する。
// POST /api/links/verifications
func (h *LinkHandler) IssueCode(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	platform := model.Platform(req.Platform)
	if platform != model.PlatformJava && platform != model.PlatformBedrock {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPlatformError(req.Platform))
		return
	}
	if req.DisplayName == "" {
		writeInvalidRequest(w)
		return
	}

	v, err := h.issuer.Issue(r.Context(), userID, platform, req.DisplayName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(issueResponse{
		Code:       v.Code,
		RemoteName: v.RemoteName,
		ExpiresAt:  v.ExpiresAt,
	})
}

// ListLinks はユーザーのリンク済みアカウント一覧を取得する。
// GET /api/links
func (h *LinkHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	accounts, err := h.reader.ListByUserID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, acc := range accounts {
		resp = append(resp, toAccountResponse(acc))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SetPrimary は指定アカウントをプライマリに設定する。
// POST /api/links/{id}/primary
func (h *LinkHandler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	accountID := chi.URLParam(r, "id")
	if err := h.accounts.SetPrimary(r.Context(), userID, accountID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unlink は本人操作によるリンク解除を行う。
// DELETE /api/links/{id}
func (h *LinkHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	accountID := chi.URLParam(r, "id")

	// 所有確認。他人のアカウントIDを指定した解除は404として扱う。
	acc, err := h.reader.FindByID(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if acc == nil || acc.UserID != userID {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewAccountNotFoundError(accountID))
		return
	}

	if err := h.accounts.Remove(r.Context(), accountID, &userID, false); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
