package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeNotification は通知エンティティを表す。
	AggregateTypeNotification AggregateType = "Notification"
	// AggregateTypeUser はユーザーエンティティを表す。一括既読のように複数の通知にまたがる操作に使う。
	AggregateTypeUser AggregateType = "User"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeNotificationCreated は通知が保存されたことを表す。
	TypeNotificationCreated Type = "NotificationCreated"
	// TypeNotificationPushed は通知が受信者の生存接続へプッシュされたことを表す。
	TypeNotificationPushed Type = "NotificationPushed"
	// TypeNotificationRead は通知1件が既読になったことを表す。
	TypeNotificationRead Type = "NotificationRead"
	// TypeAllNotificationsRead はユーザーの未読通知が一括で既読になったことを表す。
	TypeAllNotificationsRead Type = "AllNotificationsRead"
)

// Event は監査用に外部のイベントストアへ送る不変のレコード。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// NotificationCreatedData はNotificationCreatedイベントのデータ。
type NotificationCreatedData struct {
	// NotificationID は保存された通知のID。
	NotificationID int64 `json:"notification_id"`
	// RecipientID はプッシュ先のユーザーID。
	RecipientID string `json:"recipient_id"`
	// PartnerID は通知のパートナー側ユーザーID。
	PartnerID string `json:"partner_id"`
	// OrganizerID は通知の主催者側ユーザーID。
	OrganizerID string `json:"organizer_id"`
	// EventID は関連するイベントのID。
	EventID string `json:"event_id"`
	// NotificationType は通知の分類（request、acceptanceなど）。
	NotificationType string `json:"notification_type"`
}

// NotificationPushedData はNotificationPushedイベントのデータ。
type NotificationPushedData struct {
	// NotificationID はプッシュした通知のID。
	NotificationID int64 `json:"notification_id"`
	// RecipientID はプッシュ先のユーザーID。
	RecipientID string `json:"recipient_id"`
	// Connections は配送できた接続数。0の場合は保存のみ。
	Connections int `json:"connections"`
}

// NotificationReadData はNotificationReadイベントのデータ。
type NotificationReadData struct {
	// UserID は既読にしたユーザーのID。
	UserID string `json:"user_id"`
	// Via は操作経路（websocketまたはrest）。
	Via string `json:"via"`
}

// AllNotificationsReadData はAllNotificationsReadイベントのデータ。
type AllNotificationsReadData struct {
	// Count は既読にした件数。
	Count int64 `json:"count"`
	// Via は操作経路（websocketまたはrest）。
	Via string `json:"via"`
}
