// Package notification はリアルタイム通知サービスの内部実装を提供する。
//
// 認証済みユーザーごとにWebSocket接続を"user_{id}"グループへ登録し、
// パートナー申請や承認で作成された通知を受信者の全接続へプッシュする。
// 接続中のクライアントはコマンドで未読一覧の取得や既読化を行える。
// 同じ操作はREST APIからも行える。
package notification
