package db

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // "pgx"ドライバを登録する
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // "sqlite"ドライバを登録する

	"github.com/dispozen/notification-service/pkg/migration"
)

const (
	// DriverSQLite はmodernc.org/sqliteのドライバ名。
	DriverSQLite = "sqlite"
	// DriverPgx はpgxのdatabase/sqlドライバ名。
	DriverPgx = "pgx"
)

func init() {
	// sqlxの既定表にない"sqlite"を?プレースホルダとして登録する
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open はデータベースに接続し、未適用のマイグレーションを適用する。
func Open(ctx context.Context, driver, dsn string, log zerolog.Logger) (*sqlx.DB, error) {
	if driver != DriverSQLite && driver != DriverPgx {
		return nil, fmt.Errorf("未対応のドライバ: %q", driver)
	}

	sqlDB, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		// インメモリDBは接続ごとに別のDBになるため1接続に固定する
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	applied, err := migration.Run(sqlDB, Migrations, MigrationDir(driver), log)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	log.Info().Str("driver", driver).Int("applied", applied).Msg("データベースを初期化しました")
	return sqlDB, nil
}
