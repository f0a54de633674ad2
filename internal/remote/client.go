// Package remote はゲームサーバーへのリモートコマンド送信を提供する。
// ネットワークに触れるのはこのパッケージだけであり、上位層からは
// 差し替え可能な narrow interface として扱われる。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Result はリモートコマンドの実行結果を表す。
// Successがfalseの場合、Responseにはサーバーが返したエラーメッセージが入る。
type Result struct {
	Success  bool
	Response string
}

// Client はリモートコマンド実行のインターフェース。
// 戻り値のerrorはトランスポート層の失敗（接続不可・タイムアウト等）を表し、
// サーバーが明示的に失敗を返した場合はResult.Success=falseで表現される。
// 呼び出し元はどちらも「後で再試行、成功とみなさない」として扱う。
type Client interface {
	Execute(ctx context.Context, command string) (*Result, error)
}

// ConsoleClient はHTTPコンソールAPI経由でコマンドを実行するクライアント。
// ゲームサーバー側のコンソールプラグインが公開するエンドポイントに
// JSONでコマンドをPOSTする。
type ConsoleClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	logger     *slog.Logger
}

// NewConsoleClient はConsoleClientの新しいインスタンスを生成する。
// タイムアウトはhttpClient側で設定されていることを前提とする。
func NewConsoleClient(httpClient *http.Client, endpoint, apiKey string, logger *slog.Logger) *ConsoleClient {
	return &ConsoleClient{
		httpClient: httpClient,
		endpoint:   endpoint,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// consoleRequest はコンソールAPIへのリクエストボディ。
type consoleRequest struct {
	Command string `json:"command"`
}

// consoleResponse はコンソールAPIのレスポンスボディ。
type consoleResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
}

// Execute はコマンドをコンソールAPIに送信し、実行結果を返す。
func (c *ConsoleClient) Execute(ctx context.Context, command string) (*Result, error) {
	body, err := json.Marshal(consoleRequest{Command: command})
	if err != nil {
		return nil, fmt.Errorf("コマンドのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("コンソールAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("コンソールAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("コンソールAPIがステータス %d を返しました", resp.StatusCode)
	}

	var result consoleResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return &Result{Success: result.Success, Response: result.Response}, nil
}

// compile-time interface check
var _ Client = (*ConsoleClient)(nil)
