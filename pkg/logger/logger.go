// Package logger はzerologベースの構造化ロガーを構築する。
//
// コンソール向けの読みやすい出力とJSON出力を切り替えられ、
// ファイル出力を有効にした場合はlumberjackでローテーションする。
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config はロガーの設定。
type Config struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string
	// Format は標準出力の形式（console または json）。
	Format string
	// File はログファイルのパス。空の場合はファイルに出力しない。
	File string
	// MaxSizeMB はローテーション前のファイルサイズ上限（MB）。
	MaxSizeMB int
	// MaxBackups は保持する古いファイルの数。
	MaxBackups int
	// MaxAgeDays は古いファイルを保持する日数。
	MaxAgeDays int
}

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New は設定に従ってzerolog.Loggerを生成する。
// 戻り値のio.Closerはファイル出力を閉じるために使用する。ファイル出力がない場合も非nilを返す。
func New(cfg Config) (zerolog.Logger, io.Closer) {
	var stdout io.Writer = os.Stdout
	if !strings.EqualFold(cfg.Format, "json") {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
	}

	writers := []io.Writer{stdout}
	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(cfg.File); path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    positiveOr(cfg.MaxSizeMB, 100),
			MaxBackups: positiveOr(cfg.MaxBackups, 5),
			MaxAge:     positiveOr(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		writers = append(writers, lj)
		closer = lj
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
	return l, closer
}

// ParseLevel は文字列のログレベルをzerolog.Levelに変換する。
// 不明な値の場合はInfoLevelを返す。
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component はコンポーネント名を付与した子ロガーを返す。
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
