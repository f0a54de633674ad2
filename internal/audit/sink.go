// Package audit はコマンド監査ログの記録を提供する。
// シンクへの書き込みはfire-and-forgetであり、失敗しても
// 主処理の結果には一切影響しない。
package audit

import (
	"context"
	"log/slog"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/linkhub/internal/model"
)

// Sink はコマンド監査エントリの書き込み先インターフェース。
type Sink interface {
	// Record は監査エントリを追記する。エラーを伝播しない。
	Record(ctx context.Context, entry *model.CommandAudit)
}

// Inserter は監査エントリの永続化に必要なインターフェース。
// repository.AuditRepositoryの部分集合として定義する。
type Inserter interface {
	Insert(ctx context.Context, entry *model.CommandAudit) error
}

// PostgresSink はPostgreSQLの追記専用テーブルに書き込むSink実装。
// リモートサーバーの応答テキストは信頼境界の外から来るため、
// 保存前にbluemondayのStrictPolicyで全タグを除去する。
type PostgresSink struct {
	repo   Inserter
	policy *bluemonday.Policy
	logger *slog.Logger
}

// NewPostgresSink はPostgresSinkの新しいインスタンスを生成する。
func NewPostgresSink(repo Inserter, logger *slog.Logger) *PostgresSink {
	return &PostgresSink{
		repo:   repo,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
	}
}

// Record は監査エントリを追記する。
// 書き込み失敗・panicはログに記録するだけで呼び出し元には伝播しない。
func (s *PostgresSink) Record(ctx context.Context, entry *model.CommandAudit) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("監査ログ書き込み中にpanicが発生しました",
				slog.Any("panic", r),
			)
		}
	}()

	entry.Response = s.policy.Sanitize(entry.Response)

	if err := s.repo.Insert(ctx, entry); err != nil {
		s.logger.Error("監査ログの書き込みに失敗しました",
			slog.String("error", err.Error()),
			slog.String("command", entry.Command),
			slog.String("kind", string(entry.Kind)),
		)
	}
}

// compile-time interface check
var _ Sink = (*PostgresSink)(nil)
