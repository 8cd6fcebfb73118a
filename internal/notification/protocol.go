package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"

	notificationdb "github.com/dispozen/notification-service/internal/notification/db"
)

// CommandKind はクライアントから送られるコマンドの種類。
// 受け付けるコマンドはここに列挙したものに限られる。
type CommandKind int

const (
	// CommandUnknown は未知のtypeを表す。
	CommandUnknown CommandKind = iota
	// CommandPing は死活確認。
	CommandPing
	// CommandMarkAsRead は通知1件の既読化。
	CommandMarkAsRead
	// CommandMarkAllAsRead は未読通知の一括既読化。
	CommandMarkAllAsRead
	// CommandGetNotifications は未読通知の一覧取得。
	CommandGetNotifications
	// CommandGetAllNotifications は既読を含む通知の一覧取得。
	CommandGetAllNotifications
)

// commandTypes はワイヤ上のtype文字列とCommandKindの対応。
var commandTypes = map[string]CommandKind{
	"ping":                  CommandPing,
	"mark_as_read":          CommandMarkAsRead,
	"mark_all_as_read":      CommandMarkAllAsRead,
	"get_notifications":     CommandGetNotifications,
	"get_all_notifications": CommandGetAllNotifications,
}

// String はワイヤ上のtype文字列を返す。
func (k CommandKind) String() string {
	for name, kind := range commandTypes {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

const (
	// DefaultListLimit は一覧取得でlimitが省略された場合の件数。
	DefaultListLimit = 10
	// MaxListLimit は一覧取得で返す最大件数。
	MaxListLimit = 100
)

var (
	// ErrMalformedCommand はフレームがJSONオブジェクトとして解釈できないことを表す。
	ErrMalformedCommand = errors.New("malformed command")
	// ErrMissingNotificationID はmark_as_readにnotification_idがないことを表す。
	ErrMissingNotificationID = errors.New("notification_id is required")
)

// Command は解析済みのクライアントコマンド。
type Command struct {
	// Kind はコマンドの種類。
	Kind CommandKind
	// Type は受信したtype文字列そのもの。エラーメッセージに使う。
	Type string
	// NotificationID はmark_as_readの対象。
	NotificationID int64
	// Limit は一覧取得の件数。正規化済み。
	Limit int
}

// rawCommand はクライアントから受信するJSONの形。
type rawCommand struct {
	Type           string          `json:"type"`
	NotificationID json.RawMessage `json:"notification_id"`
	Limit          json.RawMessage `json:"limit"`
}

// ParseCommand はテキストフレームをCommandに変換する。
// JSONオブジェクトとして解釈できない場合はErrMalformedCommandを返す。
// mark_as_readでnotification_idが欠けている、または数値として解釈できない場合はErrMissingNotificationIDを返す。
func ParseCommand(frame []byte) (Command, error) {
	// nullや配列はUnmarshalが成功してしまうため先に弾く
	if trimmed := bytes.TrimSpace(frame); len(trimmed) == 0 || trimmed[0] != '{' {
		return Command{}, ErrMalformedCommand
	}
	var raw rawCommand
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Command{}, ErrMalformedCommand
	}

	cmd := Command{Kind: commandTypes[raw.Type], Type: raw.Type}
	switch cmd.Kind {
	case CommandMarkAsRead:
		id, ok := parseInt(raw.NotificationID)
		if !ok {
			return cmd, ErrMissingNotificationID
		}
		cmd.NotificationID = id
	case CommandGetNotifications, CommandGetAllNotifications:
		cmd.Limit = parseLimit(raw.Limit)
	case CommandUnknown, CommandPing, CommandMarkAllAsRead:
	}
	return cmd, nil
}

// parseInt はJSONの数値または数値文字列を整数として読む。
func parseInt(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v, true
		}
		if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
		return 0, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseLimit はlimitを読み、既定値と上限で補正する。
// int64に収まらない大きな数値も上限として扱う。
func parseLimit(raw json.RawMessage) int {
	if limit, ok := parseInt(raw); ok {
		if limit > MaxListLimit {
			return MaxListLimit
		}
		return normalizeLimit(int(limit))
	}
	var f float64
	if err := json.Unmarshal(bytes.TrimSpace(raw), &f); err == nil && f > MaxListLimit {
		return MaxListLimit
	}
	return DefaultListLimit
}

// normalizeLimit は一覧取得の件数を既定値と上限で補正する。
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// サーバーからクライアントへ送るイベントのtype。
const (
	EventConnectionEstablished  = "connection_established"
	EventPong                   = "pong"
	EventNotificationMarked     = "notification_marked"
	EventAllNotificationsMarked = "all_notifications_marked"
	EventNotificationsList      = "notifications_list"
	EventAllNotificationsList   = "all_notifications_list"
	EventNotification           = "notification"
	EventError                  = "error"
)

// クライアントに返すメッセージ文言。
const (
	messageConnected       = "Connected to notification service"
	messageConnectionAlive = "Connection alive"
	messageInvalidJSON     = "Invalid JSON format"
	messageInternalError   = "Internal server error"
	messageRateLimited     = "Rate limit exceeded"
)

// NotificationContent はクライアントに送る通知の射影。本文のみを含む。
type NotificationContent struct {
	Content string `json:"content"`
}

// ConnectionEstablishedEvent は接続確立時に送るイベント。
type ConnectionEstablishedEvent struct {
	Type          string                `json:"type"`
	Message       string                `json:"message"`
	UnreadCount   int64                 `json:"unread_count"`
	Notifications []NotificationContent `json:"notifications"`
}

// PongEvent はpingへの応答。
type PongEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NotificationMarkedEvent はmark_as_readへの応答。
type NotificationMarkedEvent struct {
	Type           string `json:"type"`
	NotificationID int64  `json:"notification_id"`
	Success        bool   `json:"success"`
	UnreadCount    int64  `json:"unread_count"`
}

// AllNotificationsMarkedEvent はmark_all_as_readへの応答。UnreadCountは常に0。
type AllNotificationsMarkedEvent struct {
	Type        string `json:"type"`
	Count       int64  `json:"count"`
	UnreadCount int64  `json:"unread_count"`
}

// NotificationsListEvent はget_notificationsへの応答。
type NotificationsListEvent struct {
	Type          string                `json:"type"`
	Notifications []NotificationContent `json:"notifications"`
	UnreadCount   int64                 `json:"unread_count"`
}

// AllNotificationsListEvent はget_all_notificationsへの応答。
type AllNotificationsListEvent struct {
	Type          string                `json:"type"`
	Notifications []NotificationContent `json:"notifications"`
}

// NotificationEvent はファンアウトでプッシュされる新着通知。
type NotificationEvent struct {
	Type string              `json:"type"`
	Data NotificationContent `json:"data"`
}

// ErrorEvent はコマンド処理の失敗を表す。接続は維持される。
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}

// toContents はDB行をクライアント向けの射影に変換する。空でも非nilのスライスを返す。
func toContents(rows []notificationdb.Notification) []NotificationContent {
	out := make([]NotificationContent, 0, len(rows))
	for _, n := range rows {
		out = append(out, NotificationContent{Content: n.Content})
	}
	return out
}
