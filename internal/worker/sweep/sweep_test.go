package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/linkhub/internal/model"
)

// --- モック ---

type mockAccountRepo struct {
	listByStatusFn func(ctx context.Context, status model.AccountStatus, limit int) ([]*model.LinkedAccount, error)
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.LinkedAccount, error) {
	return nil, nil
}
func (m *mockAccountRepo) FindByRemoteUUID(ctx context.Context, remoteUUID string) (*model.LinkedAccount, error) {
	return nil, nil
}
func (m *mockAccountRepo) FindVerifying(ctx context.Context, userID, remoteUUID string) (*model.LinkedAccount, error) {
	return nil, nil
}
func (m *mockAccountRepo) ListByUserID(ctx context.Context, userID string) ([]*model.LinkedAccount, error) {
	return nil, nil
}
func (m *mockAccountRepo) ListByUserAndStatuses(ctx context.Context, userID string, statuses ...model.AccountStatus) ([]*model.LinkedAccount, error) {
	return nil, nil
}
func (m *mockAccountRepo) ListByStatus(ctx context.Context, status model.AccountStatus, limit int) ([]*model.LinkedAccount, error) {
	if m.listByStatusFn != nil {
		return m.listByStatusFn(ctx, status, limit)
	}
	return nil, nil
}
func (m *mockAccountRepo) CountTowardLimit(ctx context.Context, userID string) (int, error) {
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
	return true, nil
}
func (m *mockAccountRepo) SetPrimary(ctx context.Context, userID, accountID string) error {
	return nil
}
func (m *mockAccountRepo) FindPrimary(ctx context.Context, userID string) (*model.LinkedAccount, error) {
	return nil, nil
}
func (m *mockAccountRepo) ClearPrimary(ctx context.Context, accountID string) error {
	return nil
}
func (m *mockAccountRepo) Delete(ctx context.Context, id string) error {
	return nil
}

type mockVerificationRepo struct {
	listExpiredPendingFn func(ctx context.Context, now time.Time, limit int) ([]*model.PendingVerification, error)
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
	return true, nil
}
func (m *mockVerificationRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.PendingVerification, error) {
	if m.listExpiredPendingFn != nil {
		return m.listExpiredPendingFn(ctx, now, limit)
	}
	return nil, nil
}

type mockMachine struct {
	expireOneFn func(ctx context.Context, v *model.PendingVerification) (bool, error)
	retryOneFn  func(ctx context.Context, acc *model.LinkedAccount) (bool, error)
	expired     []string
	retried     []string
}

func (m *mockMachine) ExpireOne(ctx context.Context, v *model.PendingVerification) (bool, error) {
	m.expired = append(m.expired, v.ID)
	if m.expireOneFn != nil {
		return m.expireOneFn(ctx, v)
	}
	return false, nil
}

func (m *mockMachine) RetryOne(ctx context.Context, acc *model.LinkedAccount) (bool, error) {
	m.retried = append(m.retried, acc.ID)
	if m.retryOneFn != nil {
		return m.retryOneFn(ctx, acc)
	}
	return true, nil
}

type mockMetrics struct {
	expired    int
	reconciled int
}

func (m *mockMetrics) RecordSweepExpired()    { m.expired++ }
func (m *mockMetrics) RecordSweepReconciled() { m.reconciled++ }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// --- テスト ---

// TestRunOnce_ProcessesExpiredAndRetryPool は期限切れチケットと
// リトライプールの両方が1サイクルで処理されることを検証する。
func TestRunOnce_ProcessesExpiredAndRetryPool(t *testing.T) {
	verifications := &mockVerificationRepo{
		listExpiredPendingFn: func(ctx context.Context, now time.Time, limit int) ([]*model.PendingVerification, error) {
			return []*model.PendingVerification{{ID: "ver-1"}, {ID: "ver-2"}}, nil
		},
	}
	accounts := &mockAccountRepo{
		listByStatusFn: func(ctx context.Context, status model.AccountStatus, limit int) ([]*model.LinkedAccount, error) {
			if status != model.AccountStatusCancelled {
				t.Errorf("list status = %q, want cancelled", status)
			}
			return []*model.LinkedAccount{{ID: "acc-1"}}, nil
		},
	}
	machine := &mockMachine{}
	metrics := &mockMetrics{}
	sweeper := NewSweeper(accounts, verifications, machine, metrics, testLogger())

	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(machine.expired) != 2 {
		t.Errorf("expired processed = %v, want 2 entries", machine.expired)
	}
	if len(machine.retried) != 1 {
		t.Errorf("retried = %v, want 1 entry", machine.retried)
	}
	if metrics.expired != 2 {
		t.Errorf("expired metric = %d, want 2", metrics.expired)
	}
	// リトライ成功1件のみ照合としてカウント
	if metrics.reconciled != 1 {
		t.Errorf("reconciled metric = %d, want 1", metrics.reconciled)
	}
}

// TestRunOnce_IndividualFailuresDoNotStopCycle は個々の処理失敗が
// サイクル全体を止めないことを検証する。
func TestRunOnce_IndividualFailuresDoNotStopCycle(t *testing.T) {
	verifications := &mockVerificationRepo{
		listExpiredPendingFn: func(ctx context.Context, now time.Time, limit int) ([]*model.PendingVerification, error) {
			return []*model.PendingVerification{{ID: "ver-1"}, {ID: "ver-2"}}, nil
		},
	}
	accounts := &mockAccountRepo{
		listByStatusFn: func(ctx context.Context, status model.AccountStatus, limit int) ([]*model.LinkedAccount, error) {
			return []*model.LinkedAccount{{ID: "acc-1"}, {ID: "acc-2"}}, nil
		},
	}
	machine := &mockMachine{
		expireOneFn: func(ctx context.Context, v *model.PendingVerification) (bool, error) {
			if v.ID == "ver-1" {
				return false, errors.New("db error")
			}
			return true, nil
		},
		retryOneFn: func(ctx context.Context, acc *model.LinkedAccount) (bool, error) {
			if acc.ID == "acc-1" {
				return false, errors.New("db error")
			}
			return true, nil
		},
	}
	sweeper := NewSweeper(accounts, verifications, machine, nil, testLogger())

	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(machine.expired) != 2 || len(machine.retried) != 2 {
		t.Errorf("all entries should be attempted: expired=%v retried=%v",
			machine.expired, machine.retried)
	}
}

// TestRunOnce_ListFailureAborts は一覧取得の失敗がサイクルのエラーに
// なることを検証する。
func TestRunOnce_ListFailureAborts(t *testing.T) {
	verifications := &mockVerificationRepo{
		listExpiredPendingFn: func(ctx context.Context, now time.Time, limit int) ([]*model.PendingVerification, error) {
			return nil, errors.New("db down")
		},
	}
	sweeper := NewSweeper(&mockAccountRepo{}, verifications, &mockMachine{}, nil, testLogger())

	if err := sweeper.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error when listing fails")
	}
}

// TestStart_RunsImmediatelyAndStopsOnCancel は起動直後の実行と
// キャンセルによる停止を検証する。
func TestStart_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	ran := make(chan struct{}, 1)
	verifications := &mockVerificationRepo{
		listExpiredPendingFn: func(ctx context.Context, now time.Time, limit int) ([]*model.PendingVerification, error) {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}
	sweeper := NewSweeper(&mockAccountRepo{}, verifications, &mockMachine{}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run at startup")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
