package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkhub/internal/middleware"
	"github.com/hitoshi/linkhub/internal/model"
)

// AdminAccountServiceInterface は管理者ハンドラーが必要とする状態遷移インターフェース。
type AdminAccountServiceInterface interface {
	Ban(ctx context.Context, userID string, actorUserID *string) error
	Unban(ctx context.Context, userID string, actorUserID *string) error
	ParentDisable(ctx context.Context, userID string, actorUserID *string) error
	ParentEnable(ctx context.Context, userID string, actorUserID *string) error
	Remove(ctx context.Context, accountID string, actorUserID *string, admin bool) error
	Reactivate(ctx context.Context, accountID string, actorUserID *string) error
	Purge(ctx context.Context, accountID string) error
}

// SyncServiceInterface は手動の権限再同期に必要なインターフェース。
type SyncServiceInterface interface {
	SyncUser(ctx context.Context, userID string) error
}

// RewardServiceInterface は報酬付与に必要なインターフェース。
type RewardServiceInterface interface {
	Grant(ctx context.Context, account *model.LinkedAccount, userID, rewardName, description, remoteCommand string) (bool, error)
}

// AdminHandler は管理者操作のHTTPハンドラー。
// 操作主体（X-User-ID）は監査ログのactorとして記録される。
type AdminHandler struct {
	accounts AdminAccountServiceInterface
	syncer   SyncServiceInterface
	rewards  RewardServiceInterface
	reader   AccountReader
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(
	accounts AdminAccountServiceInterface,
	syncer SyncServiceInterface,
	rewards RewardServiceInterface,
	reader AccountReader,
) *AdminHandler {
	return &AdminHandler{
		accounts: accounts,
		syncer:   syncer,
		rewards:  rewards,
		reader:   reader,
	}
}

// actorFromContext は操作主体のユーザーIDを取得する。未設定の場合はnil（システム起点）。
func actorFromContext(ctx context.Context) *string {
	if userID, err := middleware.UserIDFromContext(ctx); err == nil {
		return &userID
	}
	return nil
}

// userTransition はユーザー単位の状態遷移エンドポイントの共通処理。
func (h *AdminHandler) userTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID string, actor *string) error) {
	userID := chi.URLParam(r, "id")
	if err := fn(r.Context(), userID, actorFromContext(r.Context())); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ban はユーザーの全アカウントをBANする。
// POST /admin/users/{id}/ban
func (h *AdminHandler) Ban(w http.ResponseWriter, r *http.Request) {
	h.userTransition(w, r, h.accounts.Ban)
}

// Unban はユーザーのBannedアカウントを復帰させる。
// POST /admin/users/{id}/unban
func (h *AdminHandler) Unban(w http.ResponseWriter, r *http.Request) {
	h.userTransition(w, r, h.accounts.Unban)
}

// ParentDisable は保護者操作によりアカウントを無効化する。
// POST /admin/users/{id}/parent-disable
func (h *AdminHandler) ParentDisable(w http.ResponseWriter, r *http.Request) {
	h.userTransition(w, r, h.accounts.ParentDisable)
}

// ParentEnable は保護者操作によりアカウントを再有効化する。
// POST /admin/users/{id}/parent-enable
func (h *AdminHandler) ParentEnable(w http.ResponseWriter, r *http.Request) {
	h.userTransition(w, r, h.accounts.ParentEnable)
}

// Revoke は管理者操作によるリンク解除を行う。状態はRemovedとなり履歴が残る。
// POST /admin/accounts/{id}/revoke
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if err := h.accounts.Remove(r.Context(), accountID, actorFromContext(r.Context()), true); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reactivate はRemoved状態のアカウントをActiveへ復元する。
// POST /admin/accounts/{id}/reactivate
func (h *AdminHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if err := h.accounts.Reactivate(r.Context(), accountID, actorFromContext(r.Context())); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Purge はRemoved状態のアカウントを完全に削除する。
// DELETE /admin/accounts/{id}
func (h *AdminHandler) Purge(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if err := h.accounts.Purge(r.Context(), accountID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync は権限の手動再同期を起動する。
// POST /admin/users/{id}/sync
func (h *AdminHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if err := h.syncer.SyncUser(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// rewardRequest は報酬付与リクエストのボディ。
// 報酬の内容（コマンド・説明）は呼び出し側が指定する。
type rewardRequest struct {
	AccountID   string `json:"account_id"`
	RewardName  string `json:"reward_name"`
	Description string `json:"description"`
	Command     string `json:"command"`
}

// rewardResponse は報酬付与のAPIレスポンス。
type rewardResponse struct {
	Granted bool `json:"granted"`
}

// GrantReward は一度きりの報酬を付与する。付与済みの場合はgranted=falseを返す。
// POST /admin/users/{id}/rewards
func (h *AdminHandler) GrantReward(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}
	if req.AccountID == "" || req.RewardName == "" || req.Command == "" {
		writeInvalidRequest(w)
		return
	}

	acc, err := h.reader.FindByID(r.Context(), req.AccountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if acc == nil || acc.UserID != userID {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewAccountNotFoundError(req.AccountID))
		return
	}

	granted, err := h.rewards.Grant(r.Context(), acc, userID, req.RewardName, req.Description, req.Command)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rewardResponse{Granted: granted})
}
