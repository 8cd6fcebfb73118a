// Package middleware は通知サービスのHTTP APIで使用するGinミドルウェアを提供する。
//
// JWTアクセストークンの検証（WebSocketハンドシェイク用のトークン抽出を含む）、
// zerologによるリクエストログとパニックリカバリ、CORS設定を含む。
package middleware
