package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// TestParseLevel は文字列からログレベルへの変換を検証する。
func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" INFO ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"Error", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"", zerolog.InfoLevel},
		{"unknown", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestNew はロガー生成とファイル出力を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("ファイル出力を有効にするとJSONでログが書き込まれること", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "notification.log")
		l, closer := New(Config{Level: "debug", Format: "json", File: path})

		l.Info().Str("group", "user_1").Msg("テストログ")
		if err := closer.Close(); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ログファイルの読み込みに失敗: %v", err)
		}
		if !strings.Contains(string(data), `"group":"user_1"`) {
			t.Errorf("ログファイルにフィールドが含まれていない: %s", data)
		}
	})

	t.Run("レベル未満のログは出力されないこと", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "notification.log")
		l, closer := New(Config{Level: "warn", Format: "json", File: path})

		l.Info().Msg("出力されないログ")
		l.Warn().Msg("出力されるログ")
		_ = closer.Close()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ログファイルの読み込みに失敗: %v", err)
		}
		if strings.Contains(string(data), "出力されないログ") {
			t.Error("infoレベルのログが出力された")
		}
		if !strings.Contains(string(data), "出力されるログ") {
			t.Error("warnレベルのログが出力されていない")
		}
	})

	t.Run("ファイル未指定でもCloserが返ること", func(t *testing.T) {
		t.Parallel()

		_, closer := New(Config{})
		if closer == nil {
			t.Fatal("Closerがnil")
		}
		if err := closer.Close(); err != nil {
			t.Errorf("Close()でエラーが発生: %v", err)
		}
	})
}
