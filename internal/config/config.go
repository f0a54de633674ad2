// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 各コンポーネントには必要な値だけを構築時に渡す（暗黙のグローバル参照をしない）。
type Config struct {
	// Database
	DatabaseURL string

	// ゲームサーバーコンソールAPI
	ConsoleEndpoint string
	ConsoleAPIKey   string
	CommandTimeout  time.Duration

	// プロファイル解決API
	ProfileAPIJava    string
	ProfileAPIBedrock string

	// アカウントリンク
	MaxLinkedAccounts int           // ユーザーあたりのリンク上限
	IssueRatePerHour  int           // 認証コード発行の1時間あたりの上限
	VerifyGracePeriod time.Duration // 認証コードの有効期間
	ServerAccessLevel int           // サーバーアクセスに必要な会員レベル閾値

	// ディスパッチ
	DispatchQueueSize int
	SyncDispatch      bool // ローカル開発用。全コマンドを同期実行する。

	// ワーカー
	SweepInterval time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitIssue   int

	// Server
	ServerPort       string
	InternalAPIToken string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.ConsoleEndpoint = os.Getenv("CONSOLE_ENDPOINT")
	if cfg.ConsoleEndpoint == "" {
		missing = append(missing, "CONSOLE_ENDPOINT")
	}

	cfg.ConsoleAPIKey = os.Getenv("CONSOLE_API_KEY")
	if cfg.ConsoleAPIKey == "" {
		missing = append(missing, "CONSOLE_API_KEY")
	}

	cfg.InternalAPIToken = os.Getenv("INTERNAL_API_TOKEN")
	if cfg.InternalAPIToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CommandTimeout = getEnvDuration("COMMAND_TIMEOUT", 5*time.Second)
	cfg.ProfileAPIJava = getEnvString("PROFILE_API_JAVA", "https://api.mojang.com/users/profiles/minecraft")
	cfg.ProfileAPIBedrock = getEnvString("PROFILE_API_BEDROCK", "https://api.geysermc.org/v2/xbox/xuid")
	cfg.MaxLinkedAccounts = getEnvInt("MAX_LINKED_ACCOUNTS", 5)
	cfg.IssueRatePerHour = getEnvInt("ISSUE_RATE_PER_HOUR", 3)
	cfg.VerifyGracePeriod = getEnvDuration("VERIFY_GRACE_PERIOD", 10*time.Minute)
	cfg.ServerAccessLevel = getEnvInt("SERVER_ACCESS_LEVEL", 2)
	cfg.DispatchQueueSize = getEnvInt("DISPATCH_QUEUE_SIZE", 64)
	cfg.SyncDispatch = getEnvBool("SYNC_DISPATCH", false)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 5*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitIssue = getEnvInt("RATE_LIMIT_ISSUE", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
