package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoad は環境変数と.envファイルからの設定読み込みを検証する。
// t.Setenvを使うため並列実行しない。
func TestLoad(t *testing.T) {
	t.Run("未設定の場合はデフォルト値が使われること", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}

		if cfg.Port != "8086" {
			t.Errorf("Port = %q, want %q", cfg.Port, "8086")
		}
		if cfg.Database.Driver != "sqlite" {
			t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite")
		}
		if cfg.WebSocket.SendBuffer != 64 {
			t.Errorf("WebSocket.SendBuffer = %d, want %d", cfg.WebSocket.SendBuffer, 64)
		}
		if cfg.ShutdownTimeout != 10*time.Second {
			t.Errorf("ShutdownTimeout = %v, want %v", cfg.ShutdownTimeout, 10*time.Second)
		}
		if len(cfg.AllowedOrigins) != 0 {
			t.Errorf("AllowedOrigins = %v, want empty", cfg.AllowedOrigins)
		}
	})

	t.Run("環境変数で上書きできること", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, https://dispozen.example ,")
		t.Setenv("WS_COMMAND_RATE", "2.5")
		t.Setenv("SHUTDOWN_TIMEOUT", "3s")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}

		if cfg.Port != "9090" {
			t.Errorf("Port = %q, want %q", cfg.Port, "9090")
		}
		if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://dispozen.example" {
			t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
		}
		if cfg.WebSocket.CommandRate != 2.5 {
			t.Errorf("WebSocket.CommandRate = %v, want 2.5", cfg.WebSocket.CommandRate)
		}
		if cfg.ShutdownTimeout != 3*time.Second {
			t.Errorf("ShutdownTimeout = %v, want 3s", cfg.ShutdownTimeout)
		}
	})

	t.Run(".envファイルの値が読み込まれること", func(t *testing.T) {
		// godotenvは既存の環境変数を上書きしないため、テスト後に消せるよう先に登録しておく
		t.Setenv("EVENTSTORE_URL", "")
		if err := os.Unsetenv("EVENTSTORE_URL"); err != nil {
			t.Fatalf("環境変数の削除に失敗: %v", err)
		}

		envFile := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(envFile, []byte("EVENTSTORE_URL=http://eventstore:8084\n"), 0o600); err != nil {
			t.Fatalf(".envファイルの作成に失敗: %v", err)
		}

		cfg, err := Load(envFile)
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.EventStoreURL != "http://eventstore:8084" {
			t.Errorf("EventStoreURL = %q, want %q", cfg.EventStoreURL, "http://eventstore:8084")
		}
	})

	t.Run("未対応のドライバはエラーになること", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "mysql")

		if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
			t.Fatal("Load()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("送信キュー長が0以下はエラーになること", func(t *testing.T) {
		t.Setenv("WS_SEND_BUFFER", "0")

		if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
			t.Fatal("Load()がエラーを返すべきだが、nilが返った")
		}
	})
}
