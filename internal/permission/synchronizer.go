// Package permission はローカルの権限状態をリモートへ投影する同期処理を提供する。
// 投影は一方向（push-only）であり、リモート状態を読み戻すことはない。
// 同じ状態から何度実行しても同じコマンド集合を生成するため、クラッシュ後の
// 再実行は常に安全である。
package permission

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

// AuthorityReader はユーザーの権限状態の参照に必要なインターフェース。
type AuthorityReader interface {
	Authority(ctx context.Context, userID string) (*model.Authority, error)
}

// rankTokens は会員レベルからリモートの権限プラグインが解釈する
// ランクトークンへの対応表。
var rankTokens = map[int]string{
	2: "member",
	3: "regular",
	4: "supporter",
	5: "patron",
}

// rankToken は会員レベルに対応するランクトークンを返す。
// 対応表にない上位レベルは最上位ランクに丸める。
func rankToken(level int) string {
	if token, ok := rankTokens[level]; ok {
		return token
	}
	return "patron"
}

// SynchronizerConfig はSynchronizerの設定。
type SynchronizerConfig struct {
	ServerAccessLevel int // サーバーアクセスに必要な会員レベル閾値
}

// Synchronizer は会員ランクとスタッフ役職のリモート投影を担う。
type Synchronizer struct {
	accounts   repository.AccountRepository
	authority  AuthorityReader
	dispatcher Dispatcher
	logger     *slog.Logger
	config     SynchronizerConfig
}

// NewSynchronizer はSynchronizerの新しいインスタンスを生成する。
func NewSynchronizer(
	accounts repository.AccountRepository,
	authority AuthorityReader,
	dispatcher Dispatcher,
	logger *slog.Logger,
	config SynchronizerConfig,
) *Synchronizer {
	return &Synchronizer{
		accounts:   accounts,
		authority:  authority,
		dispatcher: dispatcher,
		logger:     logger,
		config:     config,
	}
}

// SyncRank は会員レベルが示すランクをユーザーの全Activeアカウントへ投影する。
// 閾値未満のユーザーはそもそもリモートに存在しない前提のため、
// コマンドを一切発行しない。
func (s *Synchronizer) SyncRank(ctx context.Context, userID string) error {
	auth, err := s.authority.Authority(ctx, userID)
	if err != nil {
		return fmt.Errorf("権限状態の取得に失敗しました: %w", err)
	}
	if auth.MembershipLevel < s.config.ServerAccessLevel {
		return nil
	}

	accounts, err := s.accounts.ListByUserAndStatuses(ctx, userID, model.AccountStatusActive)
	if err != nil {
		return fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}

	token := rankToken(auth.MembershipLevel)
	for _, acc := range accounts {
		// ランクはリモート側で置き換え設定のため再実行しても累積しない
		s.dispatcher.Dispatch(ctx, dispatch.ModeQueued, dispatch.Command{
			Command: mccmd.RankSet(acc.RemoteUUID, token),
			Kind:    model.CommandKindRank,
			Target:  acc.RemoteUUID,
		})
	}

	s.logger.Info("ランク投影を発行しました",
		slog.String("user_id", userID),
		slog.String("rank", token),
		slog.Int("accounts", len(accounts)),
	)
	return nil
}

// SyncStaff はスタッフ役職をユーザーの全Activeアカウントへ投影する。
// 部門の有無が唯一の分岐条件であり、設定と解除を同一呼び出しで
// 併発することはない。
func (s *Synchronizer) SyncStaff(ctx context.Context, userID string) error {
	auth, err := s.authority.Authority(ctx, userID)
	if err != nil {
		return fmt.Errorf("権限状態の取得に失敗しました: %w", err)
	}

	accounts, err := s.accounts.ListByUserAndStatuses(ctx, userID, model.AccountStatusActive)
	if err != nil {
		return fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}

	for _, acc := range accounts {
		var command string
		if auth.IsStaff() {
			command = mccmd.StaffSet(acc.RemoteUUID, auth.StaffDepartment, auth.StaffRank)
		} else {
			command = mccmd.StaffRemove(acc.RemoteUUID)
		}
		s.dispatcher.Dispatch(ctx, dispatch.ModeQueued, dispatch.Command{
			Command: command,
			Kind:    model.CommandKindRank,
			Target:  acc.RemoteUUID,
		})
	}
	return nil
}

// SyncUser はランクとスタッフ役職の両投影を実行する。
// アカウントの復帰・再有効化の後処理として呼び出される。
func (s *Synchronizer) SyncUser(ctx context.Context, userID string) error {
	if err := s.SyncRank(ctx, userID); err != nil {
		return err
	}
	return s.SyncStaff(ctx, userID)
}
