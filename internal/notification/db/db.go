// Package db は通知テーブルへのクエリを提供する。
//
// sqlcの生成コードと同じ形（Queries / Querier / *Params）に揃えてあり、
// プレースホルダはsqlxのRebindで実行時のドライバに合わせて変換する。
package db

import (
	"github.com/jmoiron/sqlx"
)

// DBTX は*sqlx.DBと*sqlx.Txの両方が満たすインターフェース。
type DBTX interface {
	sqlx.ExtContext
}

// New はQueriesを生成する。
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries は通知テーブルに対するクエリを実行する。
type Queries struct {
	db DBTX
}

// WithTx はトランザクション内でクエリを実行するQueriesを返す。
func (q *Queries) WithTx(tx *sqlx.Tx) *Queries {
	return &Queries{db: tx}
}
