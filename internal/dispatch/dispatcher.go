// Package dispatch はリモートコマンドのディスパッチを提供する。
// 全てのコマンド実行は成否にかかわらず監査シンクに記録される。
// 同期・キューの2つのディスパッチモードを持ち、どちらを使うかは
// 「即時のフィードバックが必要か」に基づいて呼び出し側が決める。
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/linkhub/internal/audit"
	"github.com/hitoshi/linkhub/internal/model"
	"github.com/hitoshi/linkhub/internal/remote"
)

// Mode はディスパッチモードを表す。
type Mode int

const (
	// ModeSync は呼び出し元がリモート応答（またはタイムアウト）までブロックする。
	// コード発行・認証完了・管理者による解除など、UIに成否を即時反映する操作で使用する。
	ModeSync Mode = iota
	// ModeQueued はバックグラウンドワーカーに引き渡し、呼び出し元は即座に戻る。
	// ランク一括同期や報酬付与など、カスケードする副作用で使用する。
	ModeQueued
)

// Command はディスパッチ対象のリモートコマンドを表す。
type Command struct {
	Command     string
	Kind        model.CommandKind
	Target      string            // コマンドの対象（リモートアカウント名またはUUID）
	ActorUserID *string           // 操作の起点ユーザー。システム起点ではnil。
	Meta        map[string]string // ログ用の補足情報
}

// Result はディスパッチの実行結果を表す。
type Result struct {
	Success  bool
	Response string
	Elapsed  time.Duration
}

// MetricsRecorder はディスパッチャーが記録するメトリクスのインターフェース。
type MetricsRecorder interface {
	RecordCommand(kind, status string)
	RecordCommandLatency(duration time.Duration)
}

// Config はDispatcherの設定。
type Config struct {
	Timeout   time.Duration // 1コマンドあたりの実行期限
	QueueSize int           // キューの容量
	SyncOnly  bool          // ローカル開発用。ModeQueuedでも同期実行する。
}

// Dispatcher はリモートコマンドクライアントをラップし、
// 監査・メトリクス・キュー実行を付加する。
type Dispatcher struct {
	client  remote.Client
	sink    audit.Sink
	metrics MetricsRecorder
	logger  *slog.Logger
	config  Config
	queue   chan Command
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// ModeQueuedを使用する場合は別途Startでコンシューマを起動すること。
func NewDispatcher(client remote.Client, sink audit.Sink, metrics MetricsRecorder, logger *slog.Logger, config Config) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Dispatcher{
		client:  client,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		config:  config,
		queue:   make(chan Command, config.QueueSize),
	}
}

// Dispatch は指定モードでコマンドを実行する。
// ModeSyncでは実行結果を返す。ModeQueuedではキュー投入後ただちにnilを返す
// （結果は監査ログにのみ残る）。キューが満杯の場合は同期実行にフォールバックし、
// その場合も戻り値はnilとなる。
func (d *Dispatcher) Dispatch(ctx context.Context, mode Mode, cmd Command) *Result {
	if mode == ModeSync || d.config.SyncOnly {
		result := d.execute(ctx, cmd)
		if mode == ModeQueued {
			return nil
		}
		return result
	}

	select {
	case d.queue <- cmd:
	default:
		// キュー満杯。取りこぼすよりは呼び出し元のゴルーチンで実行する。
		d.logger.Warn("ディスパッチキューが満杯のため同期実行します",
			slog.String("kind", string(cmd.Kind)),
			slog.String("target", cmd.Target),
		)
		d.execute(ctx, cmd)
	}
	return nil
}

// Start はキューコンシューマを起動する。コンテキストがキャンセルされるまで
// 実行を継続する。ブロッキングで実行されるためgoroutineで起動すること。
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("ディスパッチワーカーを開始しました",
		slog.Int("queue_size", d.config.QueueSize),
	)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("ディスパッチワーカーを停止しました")
			return
		case cmd := <-d.queue:
			// キュー実行は呼び出し元のコンテキストから切り離す
			d.execute(context.Background(), cmd)
		}
	}
}

// QueueLen は現在キューに滞留しているコマンド数を返す。テストおよびメトリクス用。
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

// execute はコマンドを1回実行し、結果を監査シンクとメトリクスに記録する。
func (d *Dispatcher) execute(ctx context.Context, cmd Command) *Result {
	execCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	start := time.Now()
	remoteResult, err := d.client.Execute(execCtx, cmd.Command)
	elapsed := time.Since(start)

	result := &Result{Elapsed: elapsed}
	status := model.CommandStatusSuccess

	switch {
	case err != nil:
		status = model.CommandStatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = model.CommandStatusTimeout
		}
		result.Response = err.Error()
	case !remoteResult.Success:
		status = model.CommandStatusFailed
		result.Response = remoteResult.Response
	default:
		result.Success = true
		result.Response = remoteResult.Response
	}

	if !result.Success {
		d.logger.Warn("リモートコマンドが失敗しました",
			slog.String("kind", string(cmd.Kind)),
			slog.String("target", cmd.Target),
			slog.String("status", string(status)),
			slog.String("response", result.Response),
		)
	}

	d.sink.Record(ctx, &model.CommandAudit{
		ID:          uuid.New().String(),
		Command:     cmd.Command,
		Kind:        cmd.Kind,
		Target:      cmd.Target,
		ActorUserID: cmd.ActorUserID,
		Status:      status,
		Response:    result.Response,
		ElapsedMs:   elapsed.Milliseconds(),
		CreatedAt:   time.Now(),
	})

	if d.metrics != nil {
		d.metrics.RecordCommand(string(cmd.Kind), string(status))
		d.metrics.RecordCommandLatency(elapsed)
	}

	return result
}
