package notification

import (
	"github.com/rs/zerolog"
)

// Payload はファンアウトで配る通知の内容。
type Payload struct {
	// ID は通知のID。ログ用でありクライアントには送らない。
	ID int64
	// Content は通知本文。
	Content string
}

// Notifier は受信者の生存接続へ通知をプッシュする。
// 送信元（リクエストハンドラやセッション）とソケットI/Oを切り離す。
type Notifier struct {
	hub *Hub
	log zerolog.Logger
}

// NewNotifier はNotifierを生成する。
func NewNotifier(hub *Hub, log zerolog.Logger) *Notifier {
	return &Notifier{hub: hub, log: log}
}

// Notify はuserIDの全接続にnotificationイベントを送る。
// 接続がない場合や一部の接続に配送できない場合もエラーを返さず、クライアントの受信も待たない。
// 戻り値の配送結果はログと監査に使う。
func (n *Notifier) Notify(userID string, p Payload) Delivery {
	group := GroupName(userID)
	d, err := n.hub.SendToGroup(group, NotificationEvent{
		Type: EventNotification,
		Data: NotificationContent{Content: p.Content},
	})
	if err != nil {
		n.log.Error().Err(err).Str("group", group).Int64("notification_id", p.ID).Msg("通知のプッシュに失敗")
		return d
	}
	switch {
	case d.Members == 0:
		n.log.Debug().Str("group", group).Int64("notification_id", p.ID).Msg("受信者の接続がないためプッシュをスキップしました")
	case d.Delivered == 0:
		n.log.Warn().Str("group", group).Int64("notification_id", p.ID).
			Int("full", d.Full).
			Int("closed", d.Closed).
			Msg("受信者の全接続でプッシュを破棄しました")
	default:
		n.log.Debug().Str("group", group).Int64("notification_id", p.ID).
			Int("connections", d.Delivered).
			Int("dropped", d.Full+d.Closed).
			Msg("通知をプッシュしました")
	}
	return d
}
