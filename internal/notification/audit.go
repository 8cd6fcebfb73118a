package notification

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dispozen/notification-service/pkg/event"
	"github.com/dispozen/notification-service/pkg/httpclient"
)

const (
	// auditEventsPath はイベントストアの追記API。
	auditEventsPath = "/api/v1/events"
	// auditDrainTimeout は停止時に残りのイベントを送り切るまでの待ち時間。
	auditDrainTimeout = 5 * time.Second

	viaWebSocket = "websocket"
	viaREST      = "rest"
)

// eventPoster はイベントストアへの送信手段。*httpclient.Clientが実装する。
type eventPoster interface {
	PostJSON(ctx context.Context, path string, body any, result any) error
}

// AuditLog は通知の保存・プッシュ・既読化をイベントストアへ非同期に送る。
// 送信はRunのゴルーチンだけが行い、記録側はブロックしない。
// nilのAuditLogはすべての記録を無視する。
type AuditLog struct {
	poster  eventPoster
	queue   chan *event.Event
	dropped atomic.Int64
	log     zerolog.Logger
}

// NewAuditLog はイベントストアのクライアントと送信キューの長さからAuditLogを生成する。
func NewAuditLog(client *httpclient.Client, size int, log zerolog.Logger) *AuditLog {
	return newAuditLog(client, size, log)
}

func newAuditLog(poster eventPoster, size int, log zerolog.Logger) *AuditLog {
	if size <= 0 {
		size = 256
	}
	return &AuditLog{
		poster: poster,
		queue:  make(chan *event.Event, size),
		log:    log,
	}
}

// Record はイベントを生成して送信キューに積む。キューが満杯なら破棄する。
func (a *AuditLog) Record(aggregateID string, aggregateType event.AggregateType, eventType event.Type, data any) {
	if a == nil {
		return
	}
	ev, err := event.New(aggregateID, aggregateType, eventType, data)
	if err != nil {
		a.log.Error().Err(err).Str("event_type", string(eventType)).Msg("監査イベントの生成に失敗")
		return
	}
	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
		a.log.Warn().Str("event_type", string(eventType)).Msg("監査キューが満杯のためイベントを破棄しました")
	}
}

// Dropped は破棄したイベント数を返す。
func (a *AuditLog) Dropped() int64 {
	if a == nil {
		return 0
	}
	return a.dropped.Load()
}

// Run はctxがキャンセルされるまでキューのイベントを送信する。
// 停止時はキューに残ったイベントを一定時間内で送り切ってから返る。
func (a *AuditLog) Run(ctx context.Context) error {
	if a == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case ev := <-a.queue:
			a.publish(ctx, ev)
		case <-ctx.Done():
			a.drain()
			return nil
		}
	}
}

// drain は停止時にキューの残りを送る。
func (a *AuditLog) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), auditDrainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-a.queue:
			a.publish(ctx, ev)
		default:
			return
		}
	}
}

func (a *AuditLog) publish(ctx context.Context, ev *event.Event) {
	if err := a.poster.PostJSON(ctx, auditEventsPath, ev, nil); err != nil {
		// 監査の失敗は通知の配信に影響させない
		a.log.Warn().Err(err).
			Str("event_type", string(ev.EventType)).
			Str("aggregate_id", ev.AggregateID).
			Msg("監査イベントの送信に失敗")
		return
	}
	a.log.Debug().Str("event_type", string(ev.EventType)).Str("aggregate_id", ev.AggregateID).Msg("監査イベントを送信しました")
}
