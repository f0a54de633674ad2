// Package reward は一度きりのリモート報酬付与を提供する。
package reward

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/linkhub/internal/dispatch"
	"github.com/hitoshi/linkhub/internal/model"
	"github.com/hitoshi/linkhub/internal/repository"
)

// Dispatcher はリモートコマンドのディスパッチに必要なインターフェース。
type Dispatcher interface {
	Dispatch(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result
}

// Grantor は(ユーザー, 報酬名)単位で冪等な報酬付与を担う。
// 付与記録の存在チェックが冪等性機構の全てであり、過去のリモート
// コマンドの成否は問わない（一度試行した報酬は付与済みとして扱う。
// 報酬は非クリティカルで、必要ならサポート操作で再付与できる）。
type Grantor struct {
	rewards    repository.RewardRepository
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewGrantor はGrantorの新しいインスタンスを生成する。
func NewGrantor(rewards repository.RewardRepository, dispatcher Dispatcher, logger *slog.Logger) *Grantor {
	return &Grantor{
		rewards:    rewards,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Grant は報酬を付与する。付与した場合はtrue、付与済みのため
// スキップした場合はfalseを返す。リモートコマンドはキュー実行であり、
// 付与記録はコマンドの成否を待たずに作成される。
func (g *Grantor) Grant(ctx context.Context, account *model.LinkedAccount, userID, rewardName, description, remoteCommand string) (bool, error) {
	exists, err := g.rewards.Exists(ctx, userID, rewardName)
	if err != nil {
		return false, fmt.Errorf("付与記録の確認に失敗しました: %w", err)
	}
	if exists {
		return false, nil
	}

	g.dispatcher.Dispatch(ctx, dispatch.ModeQueued, dispatch.Command{
		Command:     remoteCommand,
		Kind:        model.CommandKindReward,
		Target:      account.RemoteName,
		ActorUserID: &userID,
	})

	grant := &model.RewardGrant{
		ID:          uuid.New().String(),
		UserID:      userID,
		AccountID:   account.ID,
		RewardName:  rewardName,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := g.rewards.Create(ctx, grant); err != nil {
		return false, fmt.Errorf("付与記録の作成に失敗しました: %w", err)
	}

	g.logger.Info("報酬を付与しました",
		slog.String("user_id", userID),
		slog.String("reward_name", rewardName),
		slog.String("account_id", account.ID),
	)
	return true, nil
}
