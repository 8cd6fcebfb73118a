// Package config は通知サービスの設定を読み込む。
//
// .envファイル（任意）を環境変数に展開した後、環境変数と
// notification.yaml（任意）をviperで読み込み、デフォルト値で補完する。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config は通知サービス全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// GinMode はGinの動作モード（debug, release, test）。
	GinMode string
	// Database はデータベース接続設定。
	Database DatabaseConfig
	// JWTSecret はJWTトークンの検証に使う共有シークレット。
	JWTSecret string
	// EventStoreURL は監査イベントの送信先。空の場合は送信しない。
	EventStoreURL string
	// AllowedOrigins はCORSとWebSocketハンドシェイクで許可するオリジン。
	// 空の場合はすべてのオリジンを許可する。
	AllowedOrigins []string
	// Log はロガー設定。
	Log LogConfig
	// WebSocket はWebSocketセッションの設定。
	WebSocket WebSocketConfig
	// StatsSchedule は接続統計をログ出力するcronスケジュール。空の場合は無効。
	StatsSchedule string
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration
}

// DatabaseConfig はデータベース接続設定。
type DatabaseConfig struct {
	// Driver は "sqlite" または "pgx"。
	Driver string
	// DSN はドライバに渡す接続文字列。
	DSN string
}

// LogConfig はロガー設定。
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// WebSocketConfig はWebSocketセッションの設定。
type WebSocketConfig struct {
	// CommandRate は1セッションあたりの秒間コマンド数の上限。
	CommandRate float64
	// CommandBurst はレート制限のバースト数。
	CommandBurst int
	// SendBuffer はセッションごとの送信キューの長さ。
	SendBuffer int
}

// defaults は設定キーとデフォルト値の対応。キーは環境変数名の小文字。
var defaults = map[string]any{
	"port":             "8086",
	"gin_mode":         "release",
	"database_driver":  "sqlite",
	"database_dsn":     "/data/notification.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
	"jwt_secret":       "dev-secret-key",
	"eventstore_url":   "",
	"allowed_origins":  "",
	"log_level":        "info",
	"log_format":       "console",
	"log_file":         "",
	"ws_command_rate":  10.0,
	"ws_command_burst": 20,
	"ws_send_buffer":   64,
	"stats_schedule":   "@every 1m",
	"shutdown_timeout": "10s",
}

// Load は設定を読み込む。envFileが空の場合はカレントディレクトリの.envを使う。
// .envファイルや設定ファイルが存在しない場合はエラーにしない。
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envファイルの読み込みに失敗: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigName("notification")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/notification")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	cfg := &Config{
		Port:    v.GetString("port"),
		GinMode: v.GetString("gin_mode"),
		Database: DatabaseConfig{
			Driver: v.GetString("database_driver"),
			DSN:    v.GetString("database_dsn"),
		},
		JWTSecret:      v.GetString("jwt_secret"),
		EventStoreURL:  v.GetString("eventstore_url"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
			File:   v.GetString("log_file"),
		},
		WebSocket: WebSocketConfig{
			CommandRate:  v.GetFloat64("ws_command_rate"),
			CommandBurst: v.GetInt("ws_command_burst"),
			SendBuffer:   v.GetInt("ws_send_buffer"),
		},
		StatsSchedule:   v.GetString("stats_schedule"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は設定値の整合性を検証する。
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("未対応のデータベースドライバ: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("DATABASE_DSNが空です")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRETが空です")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFERは正の値が必要です: %d", c.WebSocket.SendBuffer)
	}
	return nil
}

// splitList はカンマ区切りの文字列をスライスに変換する。空要素は除外する。
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
