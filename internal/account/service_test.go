package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/linkhub/internal/dispatch"
	"github.com/hitoshi/linkhub/internal/model"
)

// --- モック ---

type mockAccountRepo struct {
	findByIDFn              func(ctx context.Context, id string) (*model.LinkedAccount, error)
	findVerifyingFn         func(ctx context.Context, userID, remoteUUID string) (*model.LinkedAccount, error)
	listByUserAndStatusesFn func(ctx context.Context, userID string, statuses ...model.AccountStatus) ([]*model.LinkedAccount, error)
	countTowardLimitFn      func(ctx context.Context, userID string) (int, error)
	updateStatusFn          func(ctx context.Context, id string, from, to model.AccountStatus) (bool, error)
	findPrimaryFn           func(ctx context.Context, userID string) (*model.LinkedAccount, error)
	setPrimaryFn            func(ctx context.Context, userID, accountID string) error
	clearPrimaryFn          func(ctx context.Context, accountID string) error
	deleteFn                func(ctx context.Context, id string) error
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.LinkedAccount, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockAccountRepo) FindByRemoteUUID(ctx context.Context, remoteUUID string) (*model.LinkedAccount, error) {
	return nil, nil
}
func (m *mockAccountRepo) FindVerifying(ctx context.Context, userID, remoteUUID string) (*model.LinkedAccount, error) {
	if m.findVerifyingFn != nil {
		return m.findVerifyingFn(ctx, userID, remoteUUID)
	}
	return nil, nil
}
func (m *mockAccountRepo) ListByUserID(ctx context.Context, userID string) ([]*model.LinkedAccount, error) {
	return nil, nil
}
func (m *mockAccountRepo) ListByUserAndStatuses(ctx context.Context, userID string, statuses ...model.AccountStatus) ([]*model.LinkedAccount, error) {
	if m.listByUserAndStatusesFn != nil {
		return m.listByUserAndStatusesFn(ctx, userID, statuses...)
	}
	return nil, nil
}
func (m *mockAccountRepo) ListByStatus(ctx context.Context, status model.AccountStatus, limit int) ([]*model.LinkedAccount, error) {
	return nil, nil
}
func (m *mockAccountRepo) CountTowardLimit(ctx context.Context, userID string) (int, error) {
	if m.countTowardLimitFn != nil {
		return m.countTowardLimitFn(ctx, userID)
	}
	return 0, nil
}
func (m *mockAccountRepo) Create(ctx context.Context, account *model.LinkedAccount) error {
	return nil
}
func (m *mockAccountRepo) CreateFromVerification(ctx context.Context, account *model.LinkedAccount, verificationID string, audit *model.CommandAudit) error {
	return nil
}
func (m *mockAccountRepo) PromoteFromVerification(ctx context.Context, accountID, verificationID string, verifiedAt time.Time, audit *model.CommandAudit) (bool, error) {
	return true, nil
}
func (m *mockAccountRepo) UpdateStatus(ctx context.Context, id string, from, to model.AccountStatus) (bool, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, from, to)
	}
	return true, nil
}
func (m *mockAccountRepo) SetPrimary(ctx context.Context, userID, accountID string) error {
	if m.setPrimaryFn != nil {
		return m.setPrimaryFn(ctx, userID, accountID)
	}
	return nil
}
func (m *mockAccountRepo) FindPrimary(ctx context.Context, userID string) (*model.LinkedAccount, error) {
	if m.findPrimaryFn != nil {
		return m.findPrimaryFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockAccountRepo) ClearPrimary(ctx context.Context, accountID string) error {
	if m.clearPrimaryFn != nil {
		return m.clearPrimaryFn(ctx, accountID)
	}
	return nil
}
func (m *mockAccountRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

type mockVerificationRepo struct {
	updateStatusFn func(ctx context.Context, id string, from, to model.VerificationStatus) (bool, error)
}

func (m *mockVerificationRepo) FindPendingByCode(ctx context.Context, code string) (*model.PendingVerification, error) {
	return nil, nil
}
func (m *mockVerificationRepo) PendingCodeExists(ctx context.Context, code string) (bool, error) {
	return false, nil
}
func (m *mockVerificationRepo) CountIssuedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return 0, nil
}
func (m *mockVerificationRepo) Create(ctx context.Context, v *model.PendingVerification) error {
	return nil
}
func (m *mockVerificationRepo) UpdateStatus(ctx context.Context, id string, from, to model.VerificationStatus) (bool, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, from, to)
	}
	return true, nil
}
func (m *mockVerificationRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.PendingVerification, error) {
	return nil, nil
}

type dispatchCall struct {
	mode dispatch.Mode
	cmd  dispatch.Command
}

type mockDispatcher struct {
	dispatchFn func(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result
	calls      []dispatchCall
}

func (m *mockDispatcher) Dispatch(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result {
	m.calls = append(m.calls, dispatchCall{mode: mode, cmd: cmd})
	if m.dispatchFn != nil {
		return m.dispatchFn(ctx, mode, cmd)
	}
	if mode == dispatch.ModeQueued {
		return nil
	}
	return &dispatch.Result{Success: true}
}

type mockSyncer struct {
	syncUserFn func(ctx context.Context, userID string) error
	calls      int
}

func (m *mockSyncer) SyncUser(ctx context.Context, userID string) error {
	m.calls++
	if m.syncUserFn != nil {
		return m.syncUserFn(ctx, userID)
	}
	return nil
}

type mockConfinement struct {
	confined bool
}

func (m *mockConfinement) IsConfined(ctx context.Context, userID string) (bool, error) {
	return m.confined, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestService(accounts *mockAccountRepo, dispatcher *mockDispatcher, syncer *mockSyncer, confinement *mockConfinement) *Service {
	if dispatcher == nil {
		dispatcher = &mockDispatcher{}
	}
	if syncer == nil {
		syncer = &mockSyncer{}
	}
	if confinement == nil {
		confinement = &mockConfinement{}
	}
	return NewService(accounts, &mockVerificationRepo{}, dispatcher, syncer, confinement,
		testLogger(), ServiceConfig{MaxLinkedAccounts: 2})
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %q, got nil", code)
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

func activeAccount(id, userID, name string) *model.LinkedAccount {
	return &model.LinkedAccount{
		ID:         id,
		UserID:     userID,
		RemoteName: name,
		RemoteUUID: "uuid-" + id,
		Status:     model.AccountStatusActive,
	}
}

// --- テスト ---

// TestBan_AllAccountsTransitionRegardlessOfRemote はBANがリモートの結果を
// 待たずに全アカウントをBannedへ遷移させることを検証する。
// リモート削除はキュー実行であり、失敗してもローカル遷移はブロックされない。
func TestBan_AllAccountsTransitionRegardlessOfRemote(t *testing.T) {
	var transitions []string
	accounts := &mockAccountRepo{
		listByUserAndStatusesFn: func(ctx context.Context, userID string, statuses ...model.AccountStatus) ([]*model.LinkedAccount, error) {
			return []*model.LinkedAccount{
				activeAccount("acc-1", userID, "Steve"),
				activeAccount("acc-2", userID, "Alex"),
			}, nil
		},
		updateStatusFn: func(ctx context.Context, id string, from, to model.AccountStatus) (bool, error) {
			transitions = append(transitions, id+":"+string(to))
			return true, nil
		},
	}
	dispatcher := &mockDispatcher{}
	svc := newTestService(accounts, dispatcher, nil, nil)

	actor := "admin-1"
	if err := svc.Ban(context.Background(), "user-1", &actor); err != nil {
		t.Fatalf("Ban() error = %v", err)
	}

	if len(transitions) != 2 {
		t.Fatalf("transitions = %d, want 2", len(transitions))
	}
	for _, tr := range transitions {
		if !strings.HasSuffix(tr, ":"+string(model.AccountStatusBanned)) {
			t.Errorf("unexpected transition %q", tr)
		}
	}
	// リモート削除は全件キュー実行
	if len(dispatcher.calls) != 2 {
		t.Fatalf("dispatch calls = %d, want 2", len(dispatcher.calls))
	}
	for _, c := range dispatcher.calls {
		if c.mode != dispatch.ModeQueued {
			t.Errorf("dispatch mode = %v, want ModeQueued", c.mode)
		}
		if !strings.HasPrefix(c.cmd.Command, "whitelist remove") {
			t.Errorf("command = %q, want whitelist remove", c.cmd.Command)
		}
	}
}

// TestUnban_PartialRemoteFailure はホワイトリスト再登録に失敗したアカウントが
// Bannedのまま残り、部分失敗がエラーとして通知されることを検証する。
func TestUnban_PartialRemoteFailure(t *testing.T) {
	var restored []string
	accounts := &mockAccountRepo{
		listByUserAndStatusesFn: func(ctx context.Context, userID string, statuses ...model.AccountStatus) ([]*model.LinkedAccount, error) {
			if len(statuses) == 1 && statuses[0] == model.AccountStatusBanned {
				a1 := activeAccount("acc-1", userID, "Steve")
				a1.Status = model.AccountStatusBanned
				a2 := activeAccount("acc-2", userID, "Alex")
				a2.Status = model.AccountStatusBanned
				return []*model.LinkedAccount{a1, a2}, nil
			}
			return nil, nil
		},
		updateStatusFn: func(ctx context.Context, id string, from, to model.AccountStatus) (bool, error) {
			restored = append(restored, id)
			return true, nil
		},
	}
	dispatcher := &mockDispatcher{
		dispatchFn: func(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result {
			if cmd.Target == "Alex" {
				return &dispatch.Result{Success: false}
			}
			return &dispatch.Result{Success: true}
		},
	}
	syncer := &mockSyncer{}
	svc := newTestService(accounts, dispatcher, syncer, nil)

	err := svc.Unban(context.Background(), "user-1", nil)
	assertAPIErrorCode(t, err, model.ErrCodeRemoteUnavailable)

	if len(restored) != 1 || restored[0] != "acc-1" {
		t.Errorf("restored = %v, want [acc-1]", restored)
	}
	// 1件でも復帰した場合は権限再同期が走る
	if syncer.calls != 1 {
		t.Errorf("sync calls = %d, want 1", syncer.calls)
	}
}

// TestUnban_AllRestored は全件復帰時にエラーなく権限再同期が走ることを検証する。
func TestUnban_AllRestored(t *testing.T) {
	accounts := &mockAccountRepo{
		listByUserAndStatusesFn: func(ctx context.Context, userID string, statuses ...model.AccountStatus) ([]*model.LinkedAccount, error) {
			if len(statuses) == 1 && statuses[0] == model.AccountStatusBanned {
				a := activeAccount("acc-1", userID, "Steve")
				a.Status = model.AccountStatusBanned
				return []*model.LinkedAccount{a}, nil
			}
			return nil, nil
		},
	}
	syncer := &mockSyncer{}
	svc := newTestService(accounts, nil, syncer, nil)

	if err := svc.Unban(context.Background(), "user-1", nil); err != nil {
		t.Fatalf("Unban() error = %v", err)
	}
	if syncer.calls != 1 {
		t.Errorf("sync calls = %d, want 1", syncer.calls)
	}
}

// TestUnban_NoBannedAccounts は対象がない場合に何もしないことを検証する。
func TestUnban_NoBannedAccounts(t *testing.T) {
	syncer := &mockSyncer{}
	svc := newTestService(&mockAccountRepo{}, nil, syncer, nil)

	if err := svc.Unban(context.Background(), "user-1", nil); err != nil {
		t.Fatalf("Unban() error = %v", err)
	}
	if syncer.calls != 0 {
		t.Errorf("sync calls = %d, want 0", syncer.calls)
	}
}

// TestRemove_Voluntary は本人操作のリンク解除がキュー実行の
// リモート削除と物理削除になることを検証する。
func TestRemove_Voluntary(t *testing.T) {
	deleted := ""
	accounts := &mockAccountRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.LinkedAccount, error) {
			return activeAccount(id, "user-1", "Steve"), nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	dispatcher := &mockDispatcher{}
	svc := newTestService(accounts, dispatcher, nil, nil)

	if err := svc.Remove(context.Background(), "acc-1", nil, false); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if deleted != "acc-1" {
		t.Errorf("deleted = %q, want acc-1", deleted)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0].mode != dispatch.ModeQueued {
		t.Fatalf("expected one queued dispatch, got %+v", dispatcher.calls)
	}
}

// TestRemove_AdminRemoteFailureStillTransitions は管理者操作の場合、
// リモート削除に失敗してもRemoved遷移が続行されることを検証する。
func TestRemove_AdminRemoteFailureStillTransitions(t *testing.T) {
	var to model.AccountStatus
	primaryCleared := false
	accounts := &mockAccountRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.LinkedAccount, error) {
			return activeAccount(id, "user-1", "Steve"), nil
		},
		updateStatusFn: func(ctx context.Context, id string, f, t model.AccountStatus) (bool, error) {
			to = t
			return true, nil
		},
		clearPrimaryFn: func(ctx context.Context, accountID string) error {
			primaryCleared = true
			return nil
		},
	}
	dispatcher := &mockDispatcher{
		dispatchFn: func(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result {
			return &dispatch.Result{Success: false}
		},
	}
	svc := newTestService(accounts, dispatcher, nil, nil)

	actor := "admin-1"
	if err := svc.Remove(context.Background(), "acc-1", &actor, true); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if to != model.AccountStatusRemoved {
		t.Errorf("transition to = %q, want %q", to, model.AccountStatusRemoved)
	}
	if !primaryCleared {
		t.Error("primary flag should be cleared before the removed transition")
	}
}

// TestRemove_InvalidTargets は存在しないアカウント・Removed済みアカウントへの
// リンク解除が拒否されることを検証する。
func TestRemove_InvalidTargets(t *testing.T) {
	t.Run("存在しないアカウント", func(t *testing.T) {
		svc := newTestService(&mockAccountRepo{}, nil, nil, nil)
		err := svc.Remove(context.Background(), "acc-x", nil, false)
		assertAPIErrorCode(t, err, model.ErrCodeAccountNotFound)
	})

	t.Run("Removed済み", func(t *testing.T) {
		accounts := &mockAccountRepo{
			findByIDFn: func(ctx context.Context, id string) (*model.LinkedAccount, error) {
				a := activeAccount(id, "user-1", "Steve")
				a.Status = model.AccountStatusRemoved
				return a, nil
			},
		}
		svc := newTestService(accounts, nil, nil, nil)
		err := svc.Remove(context.Background(), "acc-1", nil, false)
		assertAPIErrorCode(t, err, model.ErrCodeInvalidStatus)
	})
}

// TestPurge_RequiresRemovedStatus は完全削除がRemoved状態のみに許可されることを検証する。
func TestPurge_RequiresRemovedStatus(t *testing.T) {
	accounts := &mockAccountRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.LinkedAccount, error) {
			return activeAccount(id, "user-1", "Steve"), nil
		},
	}
	svc := newTestService(accounts, nil, nil, nil)

	err := svc.Purge(context.Background(), "acc-1")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidStatus)
}

// TestReactivate_Success は上限に空きがある場合の再有効化を検証する。
// リモート登録成功が遷移の前提条件となる。
func TestReactivate_Success(t *testing.T) {
	var from, to model.AccountStatus
	accounts := &mockAccountRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.LinkedAccount, error) {
			a := activeAccount(id, "user-1", "Steve")
			a.Status = model.AccountStatusRemoved
			return a, nil
		},
		countTowardLimitFn: func(ctx context.Context, userID string) (int, error) {
			return 1, nil // 上限2に対して1件
		},
		updateStatusFn: func(ctx context.Context, id string, f, t model.AccountStatus) (bool, error) {
			from, to = f, t
			return true, nil
		},
	}
	syncer := &mockSyncer{}
	svc := newTestService(accounts, nil, syncer, nil)

	if err := svc.Reactivate(context.Background(), "acc-1", nil); err != nil {
		t.Fatalf("Reactivate() error = %v", err)
	}
	if from != model.AccountStatusRemoved || to != model.AccountStatusActive {
		t.Errorf("transition = %q -> %q, want removed -> active", from, to)
	}
	if syncer.calls != 1 {
		t.Errorf("sync calls = %d, want 1", syncer.calls)
	}
}

// TestReactivate_Preconditions は再有効化の前提条件違反を検証する。
func TestReactivate_Preconditions(t *testing.T) {
	removedAccount := func(ctx context.Context, id string) (*model.LinkedAccount, error) {
		a := activeAccount(id, "user-1", "Steve")
		a.Status = model.AccountStatusRemoved
		return a, nil
	}

	t.Run("Removed以外は拒否", func(t *testing.T) {
		accounts := &mockAccountRepo{
			findByIDFn: func(ctx context.Context, id string) (*model.LinkedAccount, error) {
				return activeAccount(id, "user-1", "Steve"), nil
			},
		}
		svc := newTestService(accounts, nil, nil, nil)
		err := svc.Reactivate(context.Background(), "acc-1", nil)
		assertAPIErrorCode(t, err, model.ErrCodeInvalidStatus)
	})

	t.Run("懲戒中は拒否", func(t *testing.T) {
		accounts := &mockAccountRepo{findByIDFn: removedAccount}
		svc := newTestService(accounts, nil, nil, &mockConfinement{confined: true})
		err := svc.Reactivate(context.Background(), "acc-1", nil)
		assertAPIErrorCode(t, err, model.ErrCodeUserConfined)
	})

	t.Run("上限到達は拒否", func(t *testing.T) {
		accounts := &mockAccountRepo{
			findByIDFn: removedAccount,
			countTowardLimitFn: func(ctx context.Context, userID string) (int, error) {
				return 2, nil
			},
		}
		svc := newTestService(accounts, nil, nil, nil)
		err := svc.Reactivate(context.Background(), "acc-1", nil)
		assertAPIErrorCode(t, err, model.ErrCodeAccountLimit)
	})

	t.Run("リモート失敗は遷移しない", func(t *testing.T) {
		transitioned := false
		accounts := &mockAccountRepo{
			findByIDFn: removedAccount,
			updateStatusFn: func(ctx context.Context, id string, f, t model.AccountStatus) (bool, error) {
				transitioned = true
				return true, nil
			},
		}
		dispatcher := &mockDispatcher{
			dispatchFn: func(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result {
				return &dispatch.Result{Success: false}
			},
		}
		svc := newTestService(accounts, dispatcher, nil, nil)
		err := svc.Reactivate(context.Background(), "acc-1", nil)
		assertAPIErrorCode(t, err, model.ErrCodeRemoteUnavailable)
		if transitioned {
			t.Error("account should stay removed on remote failure")
		}
	})
}

// TestSetPrimary_Checks はプライマリ設定の所有権・状態検査を検証する。
func TestSetPrimary_Checks(t *testing.T) {
	t.Run("他ユーザーのアカウント", func(t *testing.T) {
		accounts := &mockAccountRepo{
			findByIDFn: func(ctx context.Context, id string) (*model.LinkedAccount, error) {
				return activeAccount(id, "user-2", "Steve"), nil
			},
		}
		svc := newTestService(accounts, nil, nil, nil)
		err := svc.SetPrimary(context.Background(), "user-1", "acc-1")
		assertAPIErrorCode(t, err, model.ErrCodeAccountNotFound)
	})

	t.Run("Active以外は拒否", func(t *testing.T) {
		accounts := &mockAccountRepo{
			findByIDFn: func(ctx context.Context, id string) (*model.LinkedAccount, error) {
				a := activeAccount(id, "user-1", "Steve")
				a.Status = model.AccountStatusBanned
				return a, nil
			},
		}
		svc := newTestService(accounts, nil, nil, nil)
		err := svc.SetPrimary(context.Background(), "user-1", "acc-1")
		assertAPIErrorCode(t, err, model.ErrCodeInvalidStatus)
	})

	t.Run("所有するActiveアカウントは成功", func(t *testing.T) {
		set := ""
		accounts := &mockAccountRepo{
			findByIDFn: func(ctx context.Context, id string) (*model.LinkedAccount, error) {
				return activeAccount(id, "user-1", "Steve"), nil
			},
			setPrimaryFn: func(ctx context.Context, userID, accountID string) error {
				set = accountID
				return nil
			},
		}
		svc := newTestService(accounts, nil, nil, nil)
		if err := svc.SetPrimary(context.Background(), "user-1", "acc-1"); err != nil {
			t.Fatalf("SetPrimary() error = %v", err)
		}
		if set != "acc-1" {
			t.Errorf("set primary = %q, want acc-1", set)
		}
	})
}

// TestAutoAssignPrimary はプライマリ不在時のみID昇順の先頭Activeアカウントが
// 選ばれることを検証する。
func TestAutoAssignPrimary(t *testing.T) {
	t.Run("プライマリ不在で先頭を選ぶ", func(t *testing.T) {
		set := ""
		accounts := &mockAccountRepo{
			listByUserAndStatusesFn: func(ctx context.Context, userID string, statuses ...model.AccountStatus) ([]*model.LinkedAccount, error) {
				return []*model.LinkedAccount{
					activeAccount("acc-1", userID, "Steve"),
					activeAccount("acc-2", userID, "Alex"),
				}, nil
			},
			setPrimaryFn: func(ctx context.Context, userID, accountID string) error {
				set = accountID
				return nil
			},
		}
		svc := newTestService(accounts, nil, nil, nil)
		if err := svc.AutoAssignPrimary(context.Background(), "user-1"); err != nil {
			t.Fatalf("AutoAssignPrimary() error = %v", err)
		}
		if set != "acc-1" {
			t.Errorf("assigned = %q, want acc-1", set)
		}
	})

	t.Run("プライマリが既に存在する場合は何もしない", func(t *testing.T) {
		set := false
		accounts := &mockAccountRepo{
			findPrimaryFn: func(ctx context.Context, userID string) (*model.LinkedAccount, error) {
				return activeAccount("acc-1", userID, "Steve"), nil
			},
			setPrimaryFn: func(ctx context.Context, userID, accountID string) error {
				set = true
				return nil
			},
		}
		svc := newTestService(accounts, nil, nil, nil)
		if err := svc.AutoAssignPrimary(context.Background(), "user-1"); err != nil {
			t.Fatalf("AutoAssignPrimary() error = %v", err)
		}
		if set {
			t.Error("should not reassign when primary exists")
		}
	})
}

// TestExpireOne_RemoteOffline はリモート不達時にチケットがExpired、
// プレースホルダー行がCancelledに残ることを検証する。
// Cancelledの行は次回スイープの再試行対象になる。
func TestExpireOne_RemoteOffline(t *testing.T) {
	var accTo model.AccountStatus
	deleted := false
	accounts := &mockAccountRepo{
		findVerifyingFn: func(ctx context.Context, userID, remoteUUID string) (*model.LinkedAccount, error) {
			a := activeAccount("acc-1", userID, "Steve")
			a.Status = model.AccountStatusVerifying
			return a, nil
		},
		updateStatusFn: func(ctx context.Context, id string, f, to model.AccountStatus) (bool, error) {
			accTo = to
			return true, nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}
	dispatcher := &mockDispatcher{
		dispatchFn: func(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result {
			return &dispatch.Result{Success: false}
		},
	}
	svc := newTestService(accounts, dispatcher, nil, nil)

	v := &model.PendingVerification{ID: "ver-1", UserID: "user-1", RemoteUUID: "uuid-acc-1"}
	reconciled, err := svc.ExpireOne(context.Background(), v)
	if err != nil {
		t.Fatalf("ExpireOne() error = %v", err)
	}
	if reconciled {
		t.Error("remote offline should not reconcile")
	}
	if accTo != model.AccountStatusCancelled {
		t.Errorf("account transition to = %q, want %q", accTo, model.AccountStatusCancelled)
	}
	if deleted {
		t.Error("row must survive as retry pool entry")
	}
}

// TestExpireOne_AlreadyTransitioned は遅延期限切れが先行した場合に
// 何も処理しないことを検証する。
func TestExpireOne_AlreadyTransitioned(t *testing.T) {
	verifications := &mockVerificationRepo{
		updateStatusFn: func(ctx context.Context, id string, from, to model.VerificationStatus) (bool, error) {
			return false, nil
		},
	}
	lookedUp := false
	accounts := &mockAccountRepo{
		findVerifyingFn: func(ctx context.Context, userID, remoteUUID string) (*model.LinkedAccount, error) {
			lookedUp = true
			return nil, nil
		},
	}
	svc := NewService(accounts, verifications, &mockDispatcher{}, &mockSyncer{}, &mockConfinement{},
		testLogger(), ServiceConfig{MaxLinkedAccounts: 2})

	reconciled, err := svc.ExpireOne(context.Background(), &model.PendingVerification{ID: "ver-1"})
	if err != nil {
		t.Fatalf("ExpireOne() error = %v", err)
	}
	if reconciled || lookedUp {
		t.Error("lost expiry race should be a no-op")
	}
}

// TestRetryOne_Success はリモート削除成功時にキック試行と物理削除が
// 行われることを検証する。
func TestRetryOne_Success(t *testing.T) {
	deleted := false
	accounts := &mockAccountRepo{
		deleteFn: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}
	dispatcher := &mockDispatcher{}
	svc := newTestService(accounts, dispatcher, nil, nil)

	acc := activeAccount("acc-1", "user-1", "Steve")
	acc.Status = model.AccountStatusCancelled
	reconciled, err := svc.RetryOne(context.Background(), acc)
	if err != nil {
		t.Fatalf("RetryOne() error = %v", err)
	}
	if !reconciled {
		t.Error("expected reconciliation")
	}
	if !deleted {
		t.Error("expected row deletion")
	}
	if len(dispatcher.calls) != 2 {
		t.Fatalf("dispatch calls = %d, want 2 (remove + kick)", len(dispatcher.calls))
	}
	if dispatcher.calls[0].cmd.Kind != model.CommandKindWhitelist {
		t.Errorf("first command kind = %q, want whitelist", dispatcher.calls[0].cmd.Kind)
	}
	if dispatcher.calls[1].cmd.Kind != model.CommandKindKick {
		t.Errorf("second command kind = %q, want kick", dispatcher.calls[1].cmd.Kind)
	}
}

// TestRetryOne_KickFailureIgnored はキック失敗が削除をブロックしないことを検証する。
func TestRetryOne_KickFailureIgnored(t *testing.T) {
	deleted := false
	accounts := &mockAccountRepo{
		deleteFn: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}
	dispatcher := &mockDispatcher{
		dispatchFn: func(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result {
			if cmd.Kind == model.CommandKindKick {
				return &dispatch.Result{Success: false}
			}
			return &dispatch.Result{Success: true}
		},
	}
	svc := newTestService(accounts, dispatcher, nil, nil)

	reconciled, err := svc.RetryOne(context.Background(), activeAccount("acc-1", "user-1", "Steve"))
	if err != nil {
		t.Fatalf("RetryOne() error = %v", err)
	}
	if !reconciled || !deleted {
		t.Error("kick failure should not block deletion")
	}
}

// TestRetryOne_RemoteFailure はリモート削除失敗時に行が残ることを検証する。
func TestRetryOne_RemoteFailure(t *testing.T) {
	deleted := false
	accounts := &mockAccountRepo{
		deleteFn: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}
	dispatcher := &mockDispatcher{
		dispatchFn: func(ctx context.Context, mode dispatch.Mode, cmd dispatch.Command) *dispatch.Result {
			return &dispatch.Result{Success: false}
		},
	}
	svc := newTestService(accounts, dispatcher, nil, nil)

	reconciled, err := svc.RetryOne(context.Background(), activeAccount("acc-1", "user-1", "Steve"))
	if err != nil {
		t.Fatalf("RetryOne() error = %v", err)
	}
	if reconciled {
		t.Error("remote failure should not reconcile")
	}
	if deleted {
		t.Error("row must survive for the next sweep")
	}
	if len(dispatcher.calls) != 1 {
		t.Errorf("dispatch calls = %d, want 1 (no kick on failure)", len(dispatcher.calls))
	}
}
