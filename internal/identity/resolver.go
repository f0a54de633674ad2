// Package identity は外部プロファイル解決サービスへの問い合わせを提供する。
// 表示名からリモートの安定ID（UUID）と正規表記の名前を解決する。
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/linkhub/internal/model"
)

// Profile は解決済みのリモートアカウント情報を表す。
type Profile struct {
	UUID string // リモートの安定ID
	Name string // 正規表記のアカウント名
}

// Resolver はプロファイル解決のインターフェース。
type Resolver interface {
	// Resolve は表示名からプロファイルを解決する。
	// 見つからない場合はAPIError（IDENTITY_NOT_FOUND）を返す。
	// 解決失敗は終端エラーであり、リトライしない。
	Resolve(ctx context.Context, platform model.Platform, displayName string) (*Profile, error)
}

// HTTPResolver はプラットフォーム別のプロファイルAPIに問い合わせるResolver実装。
// Java版はMojangのプロファイルAPI形式、統合版はGeyser系のXUID解決API形式を想定する。
type HTTPResolver struct {
	httpClient      *http.Client
	javaEndpoint    string
	bedrockEndpoint string
	logger          *slog.Logger
}

// NewHTTPResolver はHTTPResolverの新しいインスタンスを生成する。
func NewHTTPResolver(httpClient *http.Client, javaEndpoint, bedrockEndpoint string, logger *slog.Logger) *HTTPResolver {
	return &HTTPResolver{
		httpClient:      httpClient,
		javaEndpoint:    javaEndpoint,
		bedrockEndpoint: bedrockEndpoint,
		logger:          logger,
	}
}

// javaProfile はJava版プロファイルAPIのレスポンス。
type javaProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// bedrockProfile は統合版XUID解決APIのレスポンス。
type bedrockProfile struct {
	XUID     string `json:"xuid"`
	Gamertag string `json:"gamertag"`
}

// Resolve は表示名からプロファイルを解決する。
func (r *HTTPResolver) Resolve(ctx context.Context, platform model.Platform, displayName string) (*Profile, error) {
	var endpoint string
	switch platform {
	case model.PlatformJava:
		endpoint = r.javaEndpoint
	case model.PlatformBedrock:
		endpoint = r.bedrockEndpoint
	default:
		return nil, model.NewInvalidPlatformError(string(platform))
	}

	reqURL := endpoint + "/" + url.PathEscape(displayName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Error("プロファイルAPIの呼び出しに失敗しました",
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("プロファイルAPIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	// 204/404は「該当なし」として終端エラーを返す
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil, model.NewIdentityNotFoundError(displayName)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("プロファイルAPIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	switch platform {
	case model.PlatformJava:
		var p javaProfile
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
		}
		if p.ID == "" {
			return nil, model.NewIdentityNotFoundError(displayName)
		}
		return &Profile{UUID: p.ID, Name: p.Name}, nil
	default:
		var p bedrockProfile
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
		}
		if p.XUID == "" {
			return nil, model.NewIdentityNotFoundError(displayName)
		}
		return &Profile{UUID: p.XUID, Name: p.Gamertag}, nil
	}
}

// compile-time interface check
var _ Resolver = (*HTTPResolver)(nil)
