// Package account はリンク済みアカウントの状態遷移を提供する。
// 各遷移はローカル状態とリモートのホワイトリスト状態の整合を保つ責務を持ち、
// リモート不達の扱い（ブロックする・しない・リトライプールに入れる）は
// 遷移ごとに定義される。
package account

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/linkhub/internal/dispatch"
	"github.com/hitoshi/linkhub/internal/mccmd"
	"github.com/hitoshi/linkhub/internal/model"
	"github.com/hitoshi/linkhub/internal/repository"
)

// Dispatcher はリモートコマンドのディスパッチに必要なインターフェース。
type Dispatcher interface {
	Dispatch(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result
}

// PermissionSyncer は権限再同期の起動に必要なインターフェース。
type PermissionSyncer interface {
	SyncUser(ctx context.Context, userID string) error
}

// ConfinementReader は懲戒状態の参照に必要なインターフェース。
type ConfinementReader interface {
	IsConfined(ctx context.Context, userID string) (bool, error)
}

// ServiceConfig はServiceの設定。
type ServiceConfig struct {
	MaxLinkedAccounts int // ユーザーあたりのリンク上限
}

// Service はアカウント状態マシンの実装。
type Service struct {
	accounts      repository.AccountRepository
	verifications repository.VerificationRepository
	dispatcher    Dispatcher
	syncer        PermissionSyncer
	confinement   ConfinementReader
	logger        *slog.Logger
	config        ServiceConfig
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	accounts repository.AccountRepository,
	verifications repository.VerificationRepository,
	dispatcher Dispatcher,
	syncer PermissionSyncer,
	confinement ConfinementReader,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	return &Service{
		accounts:      accounts,
		verifications: verifications,
		dispatcher:    dispatcher,
		syncer:        syncer,
		confinement:   confinement,
		logger:        logger,
		config:        config,
	}
}

// Ban は懲戒処分によりユーザーの全アカウントのリモートアクセスを剥奪する。
// リモート削除コマンドはキュー実行であり、失敗してもローカルのBanned遷移は
// ブロックされない（ローカルの処分状態が正であり、リモートは追従する投影）。
func (s *Service) Ban(ctx context.Context, userID string, actorUserID *string) error {
	accounts, err := s.accounts.ListByUserAndStatuses(ctx, userID,
		model.AccountStatusActive, model.AccountStatusVerifying)
	if err != nil {
		return fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}

	for _, acc := range accounts {
		s.dispatcher.Dispatch(ctx, dispatch.ModeQueued, dispatch.Command{
			Command:     mccmd.WhitelistRemove(acc.RemoteName),
			Kind:        model.CommandKindWhitelist,
			Target:      acc.RemoteName,
			ActorUserID: actorUserID,
		})
		if _, err := s.accounts.UpdateStatus(ctx, acc.ID, acc.Status, model.AccountStatusBanned); err != nil {
			return fmt.Errorf("アカウントのBAN遷移に失敗しました: %w", err)
		}
	}

	s.logger.Info("ユーザーの全アカウントをBANしました",
		slog.String("user_id", userID),
		slog.Int("count", len(accounts)),
	)
	return nil
}

// Unban は懲戒解除によりユーザーのBannedアカウントを復帰させる。
// リモートのホワイトリスト再登録が成功したアカウントのみActiveに遷移し、
// 失敗したアカウントはBannedのまま残る（リモート登録なしにActiveを名乗らせない）。
// 1件でも復帰した場合は権限の再同期を起動する（リモートは削除時にランクを忘れる）。
func (s *Service) Unban(ctx context.Context, userID string, actorUserID *string) error {
	return s.restore(ctx, userID, actorUserID, model.AccountStatusBanned)
}

// ParentDisable は保護者操作によりユーザーの全アカウントを無効化する。
// 構造はBanと同一で、遷移先のみParentDisabledとなる。
func (s *Service) ParentDisable(ctx context.Context, userID string, actorUserID *string) error {
	accounts, err := s.accounts.ListByUserAndStatuses(ctx, userID,
		model.AccountStatusActive, model.AccountStatusVerifying)
	if err != nil {
		return fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}

	for _, acc := range accounts {
		s.dispatcher.Dispatch(ctx, dispatch.ModeQueued, dispatch.Command{
			Command:     mccmd.WhitelistRemove(acc.RemoteName),
			Kind:        model.CommandKindWhitelist,
			Target:      acc.RemoteName,
			ActorUserID: actorUserID,
		})
		if _, err := s.accounts.UpdateStatus(ctx, acc.ID, acc.Status, model.AccountStatusParentDisabled); err != nil {
			return fmt.Errorf("アカウントの無効化遷移に失敗しました: %w", err)
		}
	}

	s.logger.Info("保護者操作によりアカウントを無効化しました",
		slog.String("user_id", userID),
		slog.Int("count", len(accounts)),
	)
	return nil
}

// ParentEnable は保護者操作によるアカウントの再有効化を行う。
func (s *Service) ParentEnable(ctx context.Context, userID string, actorUserID *string) error {
	return s.restore(ctx, userID, actorUserID, model.AccountStatusParentDisabled)
}

// restore はUnban/ParentEnableの共通処理。指定状態のアカウントを
// リモート再登録のうえActiveへ戻す。
func (s *Service) restore(ctx context.Context, userID string, actorUserID *string, from model.AccountStatus) error {
	accounts, err := s.accounts.ListByUserAndStatuses(ctx, userID, from)
	if err != nil {
		return fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	if len(accounts) == 0 {
		return nil
	}

	restored := 0
	for _, acc := range accounts {
		result := s.dispatcher.Dispatch(ctx, dispatch.ModeSync, dispatch.Command{
			Command:     mccmd.WhitelistAdd(acc.RemoteName),
			Kind:        model.CommandKindWhitelist,
			Target:      acc.RemoteName,
			ActorUserID: actorUserID,
		})
		if result == nil || !result.Success {
			s.logger.Warn("ホワイトリスト再登録に失敗したためこのアカウントは復帰しません",
				slog.String("account_id", acc.ID),
				slog.String("remote_name", acc.RemoteName),
			)
			continue
		}
		if _, err := s.accounts.UpdateStatus(ctx, acc.ID, from, model.AccountStatusActive); err != nil {
			return fmt.Errorf("アカウントの復帰遷移に失敗しました: %w", err)
		}
		restored++
	}

	if restored > 0 {
		if err := s.syncer.SyncUser(ctx, userID); err != nil {
			s.logger.Error("復帰後の権限再同期に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.AutoAssignPrimary(ctx, userID); err != nil {
			s.logger.Error("復帰後のプライマリ再割り当てに失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	if restored < len(accounts) {
		return model.NewRemoteUnavailableError()
	}
	return nil
}

// Remove はアカウントのリンクを解除する。
//   - 本人操作（admin=false）: リモート削除はキュー実行し、行は物理削除する。
//   - 管理者操作（admin=true）: リモート削除を同期実行する。削除が失敗しても
//     状態はRemovedへ遷移する（履歴保持。失敗はログのみ）。
//
// どちらの経路でも、削除されたアカウントがプライマリだった場合は
// 残りのActiveアカウントへプライマリを再割り当てする。
func (s *Service) Remove(ctx context.Context, accountID string, actorUserID *string, admin bool) error {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if acc == nil {
		return model.NewAccountNotFoundError(accountID)
	}
	if acc.Status == model.AccountStatusRemoved {
		return model.NewInvalidStatusError(acc.Status)
	}

	cmd := dispatch.Command{
		Command:     mccmd.WhitelistRemove(acc.RemoteName),
		Kind:        model.CommandKindWhitelist,
		Target:      acc.RemoteName,
		ActorUserID: actorUserID,
	}

	if admin {
		result := s.dispatcher.Dispatch(ctx, dispatch.ModeSync, cmd)
		if result == nil || !result.Success {
			s.logger.Warn("リモート削除に失敗しましたがRemoved遷移は続行します",
				slog.String("account_id", acc.ID),
				slog.String("remote_name", acc.RemoteName),
			)
		}
		if err := s.accounts.ClearPrimary(ctx, acc.ID); err != nil {
			return fmt.Errorf("プライマリフラグの解除に失敗しました: %w", err)
		}
		if _, err := s.accounts.UpdateStatus(ctx, acc.ID, acc.Status, model.AccountStatusRemoved); err != nil {
			return fmt.Errorf("アカウントのRemoved遷移に失敗しました: %w", err)
		}
	} else {
		s.dispatcher.Dispatch(ctx, dispatch.ModeQueued, cmd)
		if err := s.accounts.Delete(ctx, acc.ID); err != nil {
			return fmt.Errorf("アカウントの削除に失敗しました: %w", err)
		}
	}

	if err := s.AutoAssignPrimary(ctx, acc.UserID); err != nil {
		s.logger.Error("リンク解除後のプライマリ再割り当てに失敗しました",
			slog.String("user_id", acc.UserID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("アカウントのリンクを解除しました",
		slog.String("account_id", acc.ID),
		slog.String("user_id", acc.UserID),
		slog.Bool("admin", admin),
	)
	return nil
}

// Purge はRemoved状態のアカウントを完全に削除する。管理者専用。
func (s *Service) Purge(ctx context.Context, accountID string) error {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if acc == nil {
		return model.NewAccountNotFoundError(accountID)
	}
	if acc.Status != model.AccountStatusRemoved {
		return model.NewInvalidStatusError(acc.Status)
	}
	if err := s.accounts.Delete(ctx, acc.ID); err != nil {
		return fmt.Errorf("アカウントの完全削除に失敗しました: %w", err)
	}
	s.logger.Info("アカウントを完全に削除しました", slog.String("account_id", acc.ID))
	return nil
}

// Reactivate はRemoved状態のアカウントをActiveへ復元する。
// 前提条件: アカウントがRemovedであること、ユーザーが懲戒中でないこと、
// 上限カウント（Removedを除く）が上限未満であること。
// リモートのホワイトリスト登録が成功しない限りActiveには遷移しない。
func (s *Service) Reactivate(ctx context.Context, accountID string, actorUserID *string) error {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if acc == nil {
		return model.NewAccountNotFoundError(accountID)
	}
	if acc.Status != model.AccountStatusRemoved {
		return model.NewInvalidStatusError(acc.Status)
	}

	confined, err := s.confinement.IsConfined(ctx, acc.UserID)
	if err != nil {
		return fmt.Errorf("懲戒状態の取得に失敗しました: %w", err)
	}
	if confined {
		return model.NewUserConfinedError()
	}

	count, err := s.accounts.CountTowardLimit(ctx, acc.UserID)
	if err != nil {
		return fmt.Errorf("リンク数の取得に失敗しました: %w", err)
	}
	if count >= s.config.MaxLinkedAccounts {
		return model.NewAccountLimitError(s.config.MaxLinkedAccounts)
	}

	result := s.dispatcher.Dispatch(ctx, dispatch.ModeSync, dispatch.Command{
		Command:     mccmd.WhitelistAdd(acc.RemoteName),
		Kind:        model.CommandKindWhitelist,
		Target:      acc.RemoteName,
		ActorUserID: actorUserID,
	})
	if result == nil || !result.Success {
		return model.NewRemoteUnavailableError()
	}

	ok, err := s.accounts.UpdateStatus(ctx, acc.ID, model.AccountStatusRemoved, model.AccountStatusActive)
	if err != nil {
		return fmt.Errorf("アカウントの再有効化遷移に失敗しました: %w", err)
	}
	if !ok {
		// 並行する別の遷移に敗れた。リモート登録だけが先行するが、
		// 勝者の遷移が以後の状態を決める。
		return model.NewInvalidStatusError(acc.Status)
	}

	if err := s.syncer.SyncUser(ctx, acc.UserID); err != nil {
		s.logger.Error("再有効化後の権限再同期に失敗しました",
			slog.String("user_id", acc.UserID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.AutoAssignPrimary(ctx, acc.UserID); err != nil {
		s.logger.Error("再有効化後のプライマリ再割り当てに失敗しました",
			slog.String("user_id", acc.UserID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("アカウントを再有効化しました",
		slog.String("account_id", acc.ID),
		slog.String("user_id", acc.UserID),
	)
	return nil
}

// SetPrimary は指定アカウントをユーザーのプライマリに設定する。
// 対象はそのユーザーが所有するActiveアカウントでなければならない。
func (s *Service) SetPrimary(ctx context.Context, userID, accountID string) error {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if acc == nil || acc.UserID != userID {
		return model.NewAccountNotFoundError(accountID)
	}
	if acc.Status != model.AccountStatusActive {
		return model.NewInvalidStatusError(acc.Status)
	}
	if err := s.accounts.SetPrimary(ctx, userID, accountID); err != nil {
		return fmt.Errorf("プライマリの設定に失敗しました: %w", err)
	}
	return nil
}

// AutoAssignPrimary はプライマリ不在の場合に限り、ID昇順で最初の
// Activeアカウントをプライマリに設定する。プライマリが既に存在する
// 場合やActiveアカウントがない場合は何もしない。
func (s *Service) AutoAssignPrimary(ctx context.Context, userID string) error {
	primary, err := s.accounts.FindPrimary(ctx, userID)
	if err != nil {
		return fmt.Errorf("プライマリアカウントの検索に失敗しました: %w", err)
	}
	if primary != nil {
		return nil
	}

	actives, err := s.accounts.ListByUserAndStatuses(ctx, userID, model.AccountStatusActive)
	if err != nil {
		return fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	if len(actives) == 0 {
		return nil
	}

	// ListByUserAndStatusesはID昇順を保証するため先頭が決定的な選択となる
	if err := s.accounts.SetPrimary(ctx, userID, actives[0].ID); err != nil {
		return fmt.Errorf("プライマリの自動割り当てに失敗しました: %w", err)
	}
	return nil
}

// ExpireOne は期限切れのPending認証チケットを1件処理し、リモート状態との
// 照合が完了したかを返す。
// 処理順序が整合性を担保する:
//  1. チケットを先にExpiredへ遷移させる（以後の再提示を遮断）。
//  2. 旧フローのVerifyingプレースホルダー行を探す。なければローカルに
//     照合対象はなく、先行したリモート登録は別途の回収に委ねる。
//  3. 行がある場合、リモート削除の「前」にCancelledへ遷移させる。ここで
//     クラッシュしてもCancelled行として定期スイープに発見される。
//  4. リモート削除成功時のみベストエフォートでキックし、行を物理削除する。
func (s *Service) ExpireOne(ctx context.Context, v *model.PendingVerification) (bool, error) {
	ok, err := s.verifications.UpdateStatus(ctx, v.ID, model.VerificationStatusPending, model.VerificationStatusExpired)
	if err != nil {
		return false, fmt.Errorf("認証チケットの期限切れ遷移に失敗しました: %w", err)
	}
	if !ok {
		// 遅延期限切れまたは完了が先行した
		return false, nil
	}

	placeholder, err := s.accounts.FindVerifying(ctx, v.UserID, v.RemoteUUID)
	if err != nil {
		return false, fmt.Errorf("プレースホルダー行の検索に失敗しました: %w", err)
	}
	if placeholder == nil {
		return false, nil
	}

	if _, err := s.accounts.UpdateStatus(ctx, placeholder.ID, model.AccountStatusVerifying, model.AccountStatusCancelled); err != nil {
		return false, fmt.Errorf("プレースホルダー行のCancelled遷移に失敗しました: %w", err)
	}

	reconciled, err := s.RetryOne(ctx, placeholder)
	if err != nil {
		return false, err
	}
	return reconciled, nil
}

// RetryOne はCancelled状態のアカウント1件についてリモート削除を再試行する。
// 成功した場合はベストエフォートのキックの後に行を物理削除してtrueを返す。
// 失敗した場合は行をCancelledのまま残しfalseを返す（次回スイープで再試行）。
func (s *Service) RetryOne(ctx context.Context, acc *model.LinkedAccount) (bool, error) {
	result := s.dispatcher.Dispatch(ctx, dispatch.ModeSync, dispatch.Command{
		Command: mccmd.WhitelistRemove(acc.RemoteName),
		Kind:    model.CommandKindWhitelist,
		Target:  acc.RemoteName,
	})
	if result == nil || !result.Success {
		return false, nil
	}

	// キックは助言的な操作であり、失敗しても削除は続行する
	s.dispatcher.Dispatch(ctx, dispatch.ModeSync, dispatch.Command{
		Command: mccmd.Kick(acc.RemoteName, "アカウントリンクが解除されました"),
		Kind:    model.CommandKindKick,
		Target:  acc.RemoteName,
	})

	if err := s.accounts.Delete(ctx, acc.ID); err != nil {
		return false, fmt.Errorf("アカウントの削除に失敗しました: %w", err)
	}

	s.logger.Info("未確認のリモート削除を照合しました",
		slog.String("account_id", acc.ID),
		slog.String("remote_name", acc.RemoteName),
	)
	return true, nil
}
