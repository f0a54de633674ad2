// Package sweep は期限切れ認証チケットとリトライプールの定期照合ジョブを提供する。
// ローカル状態とリモートのホワイトリスト状態の乖離は、最終的に全て
// このスイープが回収する。
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/linkhub/internal/model"
	"github.com/hitoshi/linkhub/internal/repository"
)

// batchLimit は1サイクルで処理する最大件数。
const batchLimit = 100

// StatusMachine はスイープが呼び出す状態遷移のインターフェース。
type StatusMachine interface {
	// ExpireOne は期限切れのPendingチケットを1件処理する。
	ExpireOne(ctx context.Context, v *model.PendingVerification) (bool, error)
	// RetryOne はCancelledアカウントのリモート削除を1件再試行する。
	RetryOne(ctx context.Context, acc *model.LinkedAccount) (bool, error)
}

// SweepMetrics はスイープが記録するメトリクスのインターフェース。
type SweepMetrics interface {
	RecordSweepExpired()
	RecordSweepReconciled()
}

// Sweeper は期限切れチケットの処理とCancelledアカウントの再試行を
// 1つのティッカーループで実行する。
type Sweeper struct {
	accounts      repository.AccountRepository
	verifications repository.VerificationRepository
	machine       StatusMachine
	metrics       SweepMetrics
	logger        *slog.Logger
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
func NewSweeper(
	accounts repository.AccountRepository,
	verifications repository.VerificationRepository,
	machine StatusMachine,
	metrics SweepMetrics,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		accounts:      accounts,
		verifications: verifications,
		machine:       machine,
		metrics:       metrics,
		logger:        logger,
	}
}

// Start は指定間隔のティッカーでスイープを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("スイープワーカーを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("スイープサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("スイープワーカーを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("スイープサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はスイープを1サイクル実行する。
// (a) 期限切れのPendingチケットを処理し、(b) Cancelledアカウント
// （リトライプール）のリモート削除を再試行する。
// 個々の失敗はログに残して続行し、サイクル全体は止めない。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()

	expired, err := s.verifications.ListExpiredPending(ctx, time.Now(), batchLimit)
	if err != nil {
		return err
	}
	expiredCount := 0
	for _, v := range expired {
		reconciled, err := s.machine.ExpireOne(ctx, v)
		if err != nil {
			s.logger.Error("期限切れチケットの処理に失敗しました",
				slog.String("verification_id", v.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		expiredCount++
		if s.metrics != nil {
			s.metrics.RecordSweepExpired()
			if reconciled {
				s.metrics.RecordSweepReconciled()
			}
		}
	}

	cancelled, err := s.accounts.ListByStatus(ctx, model.AccountStatusCancelled, batchLimit)
	if err != nil {
		return err
	}
	reconciledCount := 0
	for _, acc := range cancelled {
		reconciled, err := s.machine.RetryOne(ctx, acc)
		if err != nil {
			s.logger.Error("リトライプールの再試行に失敗しました",
				slog.String("account_id", acc.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if reconciled {
			reconciledCount++
			if s.metrics != nil {
				s.metrics.RecordSweepReconciled()
			}
		}
	}

	s.logger.Info("スイープサイクルが完了しました",
		slog.Int("expired", expiredCount),
		slog.Int("retry_pool", len(cancelled)),
		slog.Int("reconciled", reconciledCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
