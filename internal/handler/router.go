package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkhub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	InternalAPIToken string
	RateLimiter      *middleware.RateLimiter
	Logger           *slog.Logger

	// リンク操作
	Issuer         IssuerServiceInterface
	AccountService interface {
		AccountServiceInterface
		AdminAccountServiceInterface
	}
	AccountReader AccountReader

	// 認証完了
	Completer CompleterServiceInterface

	// 管理者操作
	Syncer  SyncServiceInterface
	Rewards RewardServiceInterface

	// 運用エンドポイント
	MetricsHandler http.Handler
	HealthHandler  http.HandlerFunc
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestLogging → InternalAuth → (ユーザールートのみ) RequireUser → RateLimit
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	// --- 認証不要のルート ---

	if deps.HealthHandler != nil {
		r.Get("/health", deps.HealthHandler)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	linkHandler := NewLinkHandler(deps.Issuer, deps.AccountService, deps.AccountReader)
	verifyHandler := NewVerifyHandler(deps.Completer)
	adminHandler := NewAdminHandler(deps.AccountService, deps.Syncer, deps.Rewards, deps.AccountReader)

	// --- 内部トークンが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewInternalAuthMiddleware(deps.InternalAPIToken))

		// ゲームサーバープラグインからの認証完了コールバック
		r.Post("/internal/verify", verifyHandler.Verify)

		// ユーザー文脈が必要なリンク操作
		r.Route("/api/links", func(r chi.Router) {
			r.Use(middleware.RequireUserMiddleware())
			r.Use(deps.RateLimiter.GeneralMiddleware())

			// POST /api/links/verifications - コード発行（発行専用レート制限を追加）
			r.With(deps.RateLimiter.IssueMiddleware()).Post("/verifications", linkHandler.IssueCode)

			r.Get("/", linkHandler.ListLinks)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/primary", linkHandler.SetPrimary)
				r.Delete("/", linkHandler.Unlink)
			})
		})

		// 管理者操作
		r.Route("/admin", func(r chi.Router) {
			r.Route("/users/{id}", func(r chi.Router) {
				r.Post("/ban", adminHandler.Ban)
				r.Post("/unban", adminHandler.Unban)
				r.Post("/parent-disable", adminHandler.ParentDisable)
				r.Post("/parent-enable", adminHandler.ParentEnable)
				r.Post("/sync", adminHandler.Sync)
				r.Post("/rewards", adminHandler.GrantReward)
			})
			r.Route("/accounts/{id}", func(r chi.Router) {
				r.Post("/revoke", adminHandler.Revoke)
				r.Post("/reactivate", adminHandler.Reactivate)
				r.Delete("/", adminHandler.Purge)
			})
		})
	})

	return r
}
