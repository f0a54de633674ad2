// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/linkhub/internal/account"
	"github.com/hitoshi/linkhub/internal/audit"
	"github.com/hitoshi/linkhub/internal/authority"
	"github.com/hitoshi/linkhub/internal/config"
	"github.com/hitoshi/linkhub/internal/database"
	"github.com/hitoshi/linkhub/internal/dispatch"
	"github.com/hitoshi/linkhub/internal/handler"
	"github.com/hitoshi/linkhub/internal/identity"
	"github.com/hitoshi/linkhub/internal/logger"
	"github.com/hitoshi/linkhub/internal/metrics"
	"github.com/hitoshi/linkhub/internal/middleware"
	"github.com/hitoshi/linkhub/internal/permission"
	"github.com/hitoshi/linkhub/internal/remote"
	"github.com/hitoshi/linkhub/internal/repository"
	"github.com/hitoshi/linkhub/internal/reward"
	"github.com/hitoshi/linkhub/internal/security"
	"github.com/hitoshi/linkhub/internal/verification"
	"github.com/hitoshi/linkhub/internal/worker/cleanup"
	"github.com/hitoshi/linkhub/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// services はserve/workerの両モードで共通する依存関係の束。
type services struct {
	accountRepo      repository.AccountRepository
	verificationRepo repository.VerificationRepository
	rewardRepo       repository.RewardRepository
	dispatcher       *dispatch.Dispatcher
	collector        *metrics.Collector
	registry         *prometheus.Registry
	authorityReader  *authority.Reader
	synchronizer     *permission.Synchronizer
	accountService   *account.Service
}

// buildServices はリポジトリからアカウント状態マシンまでの共通配線を構築する。
// syncOnlyがtrueの場合、全コマンドを同期実行するディスパッチャーを生成する
// （ワーカーモード。キューコンシューマを別途起動しない）。
func buildServices(cfg *config.Config, db *sql.DB, syncOnly bool) *services {
	accountRepo := repository.NewPostgresAccountRepo(db)
	verificationRepo := repository.NewPostgresVerificationRepo(db)
	rewardRepo := repository.NewPostgresRewardRepo(db)
	auditRepo := repository.NewPostgresAuditRepo(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	sink := audit.NewPostgresSink(auditRepo, slog.Default())

	// コンソールAPIは運用者が管理する内部ネットワークのエンドポイントのため、
	// SSRFガードは適用しない（ガードは外部のプロファイルAPI専用）
	consoleClient := remote.NewConsoleClient(
		&http.Client{Timeout: cfg.CommandTimeout},
		cfg.ConsoleEndpoint, cfg.ConsoleAPIKey, slog.Default(),
	)

	dispatcher := dispatch.NewDispatcher(consoleClient, sink, collector, slog.Default(), dispatch.Config{
		Timeout:   cfg.CommandTimeout,
		QueueSize: cfg.DispatchQueueSize,
		SyncOnly:  syncOnly || cfg.SyncDispatch,
	})

	authorityReader := authority.NewReader(db)

	synchronizer := permission.NewSynchronizer(
		accountRepo, authorityReader, dispatcher, slog.Default(),
		permission.SynchronizerConfig{ServerAccessLevel: cfg.ServerAccessLevel},
	)

	accountService := account.NewService(
		accountRepo, verificationRepo, dispatcher, synchronizer, authorityReader,
		slog.Default(), account.ServiceConfig{MaxLinkedAccounts: cfg.MaxLinkedAccounts},
	)

	return &services{
		accountRepo:      accountRepo,
		verificationRepo: verificationRepo,
		rewardRepo:       rewardRepo,
		dispatcher:       dispatcher,
		collector:        collector,
		registry:         registry,
		authorityReader:  authorityReader,
		synchronizer:     synchronizer,
		accountService:   accountService,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 共通サービスの構築
	svcs := buildServices(cfg, db, false)

	// 3. キューコンシューマの起動（SYNC_DISPATCH時は全て同期実行のため不要）
	if !cfg.SyncDispatch {
		go svcs.dispatcher.Start(ctx)
	}

	// 4. プロファイル解決クライアント（外部APIのためSSRFガード経由）
	ssrfGuard := security.NewSSRFGuard()
	resolver := identity.NewHTTPResolver(
		ssrfGuard.NewSafeClient(10*time.Second),
		cfg.ProfileAPIJava, cfg.ProfileAPIBedrock, slog.Default(),
	)

	// 5. 認証フローのサービス
	issuer := verification.NewIssuer(
		svcs.accountRepo, svcs.verificationRepo, resolver, svcs.dispatcher,
		svcs.authorityReader, svcs.collector, slog.Default(),
		verification.IssuerConfig{
			MaxLinkedAccounts: cfg.MaxLinkedAccounts,
			IssueRatePerHour:  cfg.IssueRatePerHour,
			GracePeriod:       cfg.VerifyGracePeriod,
		},
	)
	completer := verification.NewCompleter(
		svcs.accountRepo, svcs.verificationRepo, svcs.collector, slog.Default(),
	)
	grantor := reward.NewGrantor(svcs.rewardRepo, svcs.dispatcher, slog.Default())

	// 6. ルーターの構築（configのレートはreq/min単位なのでreq/secに変換する）
	rateLimiterCfg := middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		IssueRate:       rate.Limit(float64(cfg.RateLimitIssue) / 60.0),
		IssueBurst:      cfg.RateLimitIssue,
		CleanupInterval: 5 * time.Minute,
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		InternalAPIToken: cfg.InternalAPIToken,
		RateLimiter:      rateLimiter,
		Logger:           slog.Default(),

		Issuer:         issuer,
		AccountService: svcs.accountService,
		AccountReader:  svcs.accountRepo,

		Completer: completer,

		Syncer:  svcs.synchronizer,
		Rewards: grantor,

		MetricsHandler: metrics.Handler(svcs.registry),
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		},
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、スイープワーカー（期限切れ認証チケットの処理と
// リトライプールの再試行）を起動する。
// ワーカー内のディスパッチは全て同期実行となる。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. 共通サービスの構築（ディスパッチは同期実行）
	svcs := buildServices(cfg, db, true)

	// 3. スイープワーカーの構築
	sweeper := sweep.NewSweeper(
		svcs.accountRepo, svcs.verificationRepo, svcs.accountService,
		svcs.collector, slog.Default(),
	)

	// 4. クリーンアップジョブの構築
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// スイープワーカーをメインgoroutineで実行（ブロッキング）
	sweeper.Start(ctx, cfg.SweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
