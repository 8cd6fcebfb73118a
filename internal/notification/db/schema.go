package db

import (
	"embed"
)

// Migrations は通知テーブルのマイグレーションSQL。ドライバごとにディレクトリを分けている。
//
//go:embed migrations
var Migrations embed.FS

// MigrationDir はドライバ名に対応するMigrations内のディレクトリを返す。
func MigrationDir(driver string) string {
	if driver == DriverPgx {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}
