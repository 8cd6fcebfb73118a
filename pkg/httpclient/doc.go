// Package httpclient は外部サービスへJSONを送るHTTPクライアントを提供する。
//
// 通知サービスが監査イベントをイベントストアへ送る際に使用する。
// 接続エラーと5xxは再試行し、4xxは即座に呼び出し元へ返す。
package httpclient
