package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/linkhub/internal/dispatch"
	"github.com/hitoshi/linkhub/internal/identity"
	"github.com/hitoshi/linkhub/internal/mccmd"
	"github.com/hitoshi/linkhub/internal/model"
	"github.com/hitoshi/linkhub/internal/repository"
)

// Dispatcher はリモートコマンドのディスパッチに必要なインターフェース。
type Dispatcher interface {
	Dispatch(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result
}

// ConfinementReader は懲戒状態の参照に必要なインターフェース。
type ConfinementReader interface {
	IsConfined(ctx context.Context, userID string) (bool, error)
}

// IssueMetrics は発行処理が記録するメトリクスのインターフェース。
type IssueMetrics interface {
	RecordVerificationIssued()
}

// IssuerConfig はIssuerの設定。
type IssuerConfig struct {
	MaxLinkedAccounts int           // ユーザーあたりのリンク上限
	IssueRatePerHour  int           // 1時間あたりの発行上限
	GracePeriod       time.Duration // 認証コードの有効期間
}

// Issuer は認証コードの発行を担うサービス。
// 発行はリモートのホワイトリスト登録が成功した場合にのみ成立する。
// 先にリモートへ登録するのは、ユーザーが「コードを受け取ったのに
// サーバーに入れない」状態を作らないため。逆向きの不整合
// （登録済みだがチケットなし）は期限切れスイープが回収する。
type Issuer struct {
	accounts      repository.AccountRepository
	verifications repository.VerificationRepository
	resolver      identity.Resolver
	dispatcher    Dispatcher
	confinement   ConfinementReader
	metrics       IssueMetrics
	logger        *slog.Logger
	config        IssuerConfig
}

// NewIssuer はIssuerの新しいインスタンスを生成する。
func NewIssuer(
	accounts repository.AccountRepository,
	verifications repository.VerificationRepository,
	resolver identity.Resolver,
	dispatcher Dispatcher,
	confinement ConfinementReader,
	metrics IssueMetrics,
	logger *slog.Logger,
	config IssuerConfig,
) *Issuer {
	return &Issuer{
		accounts:      accounts,
		verifications: verifications,
		resolver:      resolver,
		dispatcher:    dispatcher,
		confinement:   confinement,
		metrics:       metrics,
		logger:        logger,
		config:        config,
	}
}

// Issue は指定ユーザーに認証コードを発行する。
// 前提条件（懲戒・上限・レート・名前解決・所有権）を順に検査し、
// 全て通過した場合のみリモート登録とチケット作成を行う。
// 前提条件に失敗した場合、ローカル・リモートとも一切の状態変更は発生しない。
func (s *Issuer) Issue(ctx context.Context, userID string, platform model.Platform, displayName string) (*model.PendingVerification, error) {
	confined, err := s.confinement.IsConfined(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("懲戒状態の取得に失敗しました: %w", err)
	}
	if confined {
		return nil, model.NewUserConfinedError()
	}

	count, err := s.accounts.CountTowardLimit(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("リンク数の取得に失敗しました: %w", err)
	}
	if count >= s.config.MaxLinkedAccounts {
		return nil, model.NewAccountLimitError(s.config.MaxLinkedAccounts)
	}

	issued, err := s.verifications.CountIssuedSince(ctx, userID, time.Now().Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("発行数の取得に失敗しました: %w", err)
	}
	if issued >= s.config.IssueRatePerHour {
		return nil, model.NewRateLimitedError(s.config.IssueRatePerHour)
	}

	profile, err := s.resolver.Resolve(ctx, platform, displayName)
	if err != nil {
		return nil, err
	}

	existing, err := s.accounts.FindByRemoteUUID(ctx, profile.UUID)
	if err != nil {
		return nil, fmt.Errorf("既存リンクの検索に失敗しました: %w", err)
	}
	if existing != nil {
		if existing.UserID == userID {
			return nil, model.NewAlreadyLinkedError(existing.RemoteName)
		}
		return nil, model.NewLinkedToOtherUserError()
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	// 前提条件を全て通過。ここで初めてリモートに触れる。
	result := s.dispatcher.Dispatch(ctx, dispatch.ModeSync, dispatch.Command{
		Command:     mccmd.WhitelistAdd(profile.Name),
		Kind:        model.CommandKindWhitelist,
		Target:      profile.Name,
		ActorUserID: &userID,
	})
	if result == nil || !result.Success {
		return nil, model.NewRemoteUnavailableError()
	}

	now := time.Now()
	v := &model.PendingVerification{
		ID:         uuid.New().String(),
		Code:       code,
		UserID:     userID,
		Platform:   platform,
		RemoteName: profile.Name,
		RemoteUUID: profile.UUID,
		Status:     model.VerificationStatusPending,
		ExpiresAt:  now.Add(s.config.GracePeriod),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.verifications.Create(ctx, v); err != nil {
		// リモート登録だけが残る。期限切れスイープが照合して回収する。
		s.logger.Error("認証チケットの作成に失敗しました",
			slog.String("user_id", userID),
			slog.String("remote_uuid", profile.UUID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("認証チケットの作成に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordVerificationIssued()
	}

	s.logger.Info("認証コードを発行しました",
		slog.String("user_id", userID),
		slog.String("platform", string(platform)),
		slog.String("remote_name", profile.Name),
	)

	return v, nil
}

// uniqueCode は発行中のチケットと衝突しないコードを生成する。
func (s *Issuer) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		exists, err := s.verifications.PendingCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("コードの重複確認に失敗しました: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("認証コードの生成が%d回連続で衝突しました", maxCodeAttempts)
}
