package verification

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/linkhub/internal/model"
	"github.com/hitoshi/linkhub/internal/repository"
)

// CompletionResult はゲーム内に返す認証完了処理の結果。
// 成否にかかわらずプレイヤーに提示可能なメッセージを持つ。
type CompletionResult struct {
	Success bool
	Message string
}

// CompleteMetrics は完了処理が記録するメトリクスのインターフェース。
type CompleteMetrics interface {
	RecordVerificationCompleted()
}

// Completer は認証コードの照合とリンクの成立を担うサービス。
// 呼び出し元はゲームサーバー内のプラグインであり、エラーを
// ハンドリングできないため、Completeはerrorを返さず常に
// プレイヤー向けメッセージ付きの結果を返す。
type Completer struct {
	accounts      repository.AccountRepository
	verifications repository.VerificationRepository
	metrics       CompleteMetrics
	logger        *slog.Logger
}

// NewCompleter はCompleterの新しいインスタンスを生成する。
func NewCompleter(
	accounts repository.AccountRepository,
	verifications repository.VerificationRepository,
	metrics CompleteMetrics,
	logger *slog.Logger,
) *Completer {
	return &Completer{
		accounts:      accounts,
		verifications: verifications,
		metrics:       metrics,
		logger:        logger,
	}
}

// Complete はゲーム内で提示された認証コードを検証し、リンクを成立させる。
//   - コードが不明・期限切れ・提示者不一致の場合は失敗メッセージを返す。
//     提示者不一致の場合チケットはPendingのまま残り、正しい本人が
//     期限内に再提示すれば成立する。
//   - 提示中に同じリモートIDが別経路でリンクされていた場合、チケットは
//     Failedに遷移し、再提示しても成立しない。
func (s *Completer) Complete(ctx context.Context, rawCode, presentedName, presentedUUID string) *CompletionResult {
	code := NormalizeCode(rawCode)
	if len(code) != codeLength {
		return &CompletionResult{Message: "認証コードの形式が正しくありません。"}
	}

	v, err := s.verifications.FindPendingByCode(ctx, code)
	if err != nil {
		s.logger.Error("認証チケットの検索に失敗しました", slog.String("error", err.Error()))
		return &CompletionResult{Message: "サーバー内部でエラーが発生しました。時間をおいて再度お試しください。"}
	}
	if v == nil {
		return &CompletionResult{Message: "認証コードが見つかりません。コードを確認してください。"}
	}

	now := time.Now()
	if v.IsExpired(now) {
		// 遅延期限切れ。スイープと競合しても条件付きUPDATEにより一度しか遷移しない。
		if _, err := s.verifications.UpdateStatus(ctx, v.ID, model.VerificationStatusPending, model.VerificationStatusExpired); err != nil {
			s.logger.Error("認証チケットの期限切れ遷移に失敗しました",
				slog.String("verification_id", v.ID),
				slog.String("error", err.Error()),
			)
		}
		return &CompletionResult{Message: "認証コードの有効期限が切れています。もう一度発行してください。"}
	}

	// UUIDは表記ゆれ（ハイフン区切り・大文字小文字）を吸収して照合し、
	// 名前は大文字小文字を区別しない。両方が一致しなければ提示者不一致。
	if NormalizeUUID(presentedUUID) != NormalizeUUID(v.RemoteUUID) ||
		!strings.EqualFold(presentedName, v.RemoteName) {
		// 別のプレイヤーがコードを提示した。チケットは消費しない。
		s.logger.Warn("認証コードの提示者が一致しません",
			slog.String("verification_id", v.ID),
			slog.String("presented_name", presentedName),
		)
		return &CompletionResult{Message: "このコードはあなたのアカウント用に発行されたものではありません。"}
	}

	existing, err := s.accounts.FindByRemoteUUID(ctx, v.RemoteUUID)
	if err != nil {
		s.logger.Error("既存リンクの検索に失敗しました", slog.String("error", err.Error()))
		return &CompletionResult{Message: "サーバー内部でエラーが発生しました。時間をおいて再度お試しください。"}
	}
	if existing != nil {
		// 発行から提示までの間に同じリモートIDがリンク済みになった。
		// このチケットはもう成立し得ないためFailedへ落とす。
		if _, err := s.verifications.UpdateStatus(ctx, v.ID, model.VerificationStatusPending, model.VerificationStatusFailed); err != nil {
			s.logger.Error("認証チケットの失敗遷移に失敗しました",
				slog.String("verification_id", v.ID),
				slog.String("error", err.Error()),
			)
		}
		return &CompletionResult{Message: "このアカウントは既にリンクされています。"}
	}

	// 旧フローで作成されたVerifyingのプレースホルダー行が残っている場合は
	// 新規作成ではなくその行を昇格させる。
	legacy, err := s.accounts.FindVerifying(ctx, v.UserID, v.RemoteUUID)
	if err != nil {
		s.logger.Error("旧フローの行の検索に失敗しました", slog.String("error", err.Error()))
		return &CompletionResult{Message: "サーバー内部でエラーが発生しました。時間をおいて再度お試しください。"}
	}
	if legacy != nil {
		return s.completeLegacy(ctx, v, legacy)
	}

	primary, err := s.accounts.FindPrimary(ctx, v.UserID)
	if err != nil {
		s.logger.Error("プライマリアカウントの検索に失敗しました", slog.String("error", err.Error()))
		return &CompletionResult{Message: "サーバー内部でエラーが発生しました。時間をおいて再度お試しください。"}
	}

	account := &model.LinkedAccount{
		ID:         uuid.New().String(),
		UserID:     v.UserID,
		RemoteUUID: v.RemoteUUID,
		RemoteName: v.RemoteName,
		Platform:   v.Platform,
		Status:     model.AccountStatusActive,
		IsPrimary:  primary == nil, // 最初のアカウントは自動的にプライマリになる
		VerifiedAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	auditEntry := &model.CommandAudit{
		ID:        uuid.New().String(),
		Command:   "verify " + code,
		Kind:      model.CommandKindVerify,
		Target:    v.RemoteName,
		Status:    model.CommandStatusSuccess,
		Response:  "認証完了によりリンクが成立しました",
		CreatedAt: now,
	}

	if err := s.accounts.CreateFromVerification(ctx, account, v.ID, auditEntry); err != nil {
		s.logger.Error("リンクの成立に失敗しました",
			slog.String("verification_id", v.ID),
			slog.String("user_id", v.UserID),
			slog.String("error", err.Error()),
		)
		return &CompletionResult{Message: "サーバー内部でエラーが発生しました。時間をおいて再度お試しください。"}
	}

	if s.metrics != nil {
		s.metrics.RecordVerificationCompleted()
	}

	s.logger.Info("アカウントリンクが成立しました",
		slog.String("user_id", v.UserID),
		slog.String("account_id", account.ID),
		slog.String("remote_name", v.RemoteName),
	)

	return &CompletionResult{Success: true, Message: "認証が完了しました。アカウントがリンクされました。"}
}

// completeLegacy は旧フローのVerifying行をActiveへ昇格させて認証を完了する。
// 昇格・チケットのCompleted遷移・監査記録は新規作成パスと同様に
// 単一トランザクションで行われる。
func (s *Completer) completeLegacy(ctx context.Context, v *model.PendingVerification, legacy *model.LinkedAccount) *CompletionResult {
	now := time.Now()
	auditEntry := &model.CommandAudit{
		ID:        uuid.New().String(),
		Command:   "verify " + v.Code,
		Kind:      model.CommandKindVerify,
		Target:    v.RemoteName,
		Status:    model.CommandStatusSuccess,
		Response:  "認証完了により旧フローの行を昇格しました",
		CreatedAt: now,
	}

	ok, err := s.accounts.PromoteFromVerification(ctx, legacy.ID, v.ID, now, auditEntry)
	if err != nil {
		s.logger.Error("旧フローの行の昇格に失敗しました",
			slog.String("account_id", legacy.ID),
			slog.String("verification_id", v.ID),
			slog.String("error", err.Error()),
		)
		return &CompletionResult{Message: "サーバー内部でエラーが発生しました。時間をおいて再度お試しください。"}
	}
	if !ok {
		return &CompletionResult{Message: "このアカウントは既にリンクされています。"}
	}

	if s.metrics != nil {
		s.metrics.RecordVerificationCompleted()
	}

	s.logger.Info("旧フローの行を昇格してリンクが成立しました",
		slog.String("user_id", v.UserID),
		slog.String("account_id", legacy.ID),
		slog.String("remote_name", v.RemoteName),
	)

	return &CompletionResult{Success: true, Message: "認証が完了しました。アカウントがリンクされました。"}
}
