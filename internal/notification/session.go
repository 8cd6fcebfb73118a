package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	notificationdb "github.com/dispozen/notification-service/internal/notification/db"
	"github.com/dispozen/notification-service/pkg/event"
)

const (
	// writeWait は1フレームの書き込みに許す時間。
	writeWait = 10 * time.Second
	// pongWait はクライアントからのpongを待つ時間。
	pongWait = 60 * time.Second
	// pingPeriod はpingの送信間隔。pongWaitより短くする。
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize は受信フレームの最大サイズ。
	maxMessageSize = 4096
)

// State はセッションの状態。
type State int32

const (
	// StateConnecting はハンドシェイク中。
	StateConnecting State = iota
	// StateOpen はグループ参加済みでコマンドを処理できる状態。
	StateOpen
	// StateClosed は切断済み。以降の状態遷移はない。
	StateClosed
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// SessionConfig はセッションの設定。
type SessionConfig struct {
	// CommandRate は秒間コマンド数の上限。0以下の場合は制限しない。
	CommandRate float64
	// CommandBurst はレート制限のバースト数。
	CommandBurst int
	// SendBuffer は送信キューの長さ。
	SendBuffer int
}

// wsConn はセッションが使う*websocket.Connの操作。
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session は1本のWebSocket接続を表す。
// 受信ループ（Runを呼んだゴルーチン）と送信ループ（writePump）の2つのゴルーチンで動作し、
// ソケットへの書き込みは送信ループだけが行う。
type Session struct {
	id      string
	userID  string
	group   string
	conn    wsConn
	hub     *Hub
	queries notificationdb.Querier
	audit   *AuditLog
	limiter *rate.Limiter
	log     zerolog.Logger

	state atomic.Int32

	// send は送信待ちのフレーム。クローズ後も閉じない（Deliverとの競合を避けるため）。
	send chan []byte
	// done はクローズ時に閉じられる。
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	// ctx はセッション中のデータストアアクセスに使う。クローズでキャンセルされる。
	ctx    context.Context
	cancel context.CancelFunc
}

// newSession は認証済みユーザーのセッションを生成する。状態はStateConnecting。
func newSession(conn wsConn, userID string, hub *Hub, queries notificationdb.Querier, audit *AuditLog, cfg SessionConfig, log zerolog.Logger) *Session {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())

	bufSize := cfg.SendBuffer
	if bufSize <= 0 {
		bufSize = 64
	}

	var limiter *rate.Limiter
	if cfg.CommandRate > 0 {
		burst := cfg.CommandBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CommandRate), burst)
	}

	return &Session{
		id:         id,
		userID:     userID,
		group:      GroupName(userID),
		conn:       conn,
		hub:        hub,
		queries:    queries,
		audit:      audit,
		limiter:    limiter,
		log:        log.With().Str("session_id", id).Str("user_id", userID).Logger(),
		send:       make(chan []byte, bufSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ID はセッションIDを返す。
func (s *Session) ID() string { return s.id }

// UserID はセッションのユーザーIDを返す。
func (s *Session) UserID() string { return s.userID }

// State は現在の状態を返す。
func (s *Session) State() State { return State(s.state.Load()) }

// Run はセッションを開始し、接続が閉じるまでブロックする。
// ctxがキャンセルされた場合もセッションを閉じる。
func (s *Session) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	go s.writePump()

	s.open()
	s.readPump()
	s.Close()
	<-s.writerDone
}

// open はグループに参加し、未読通知と未読数をconnection_establishedで送る。
// 未読の取得に失敗しても接続は確立し、空の一覧と0件を送る。
func (s *Session) open() {
	s.hub.Join(s.group, s)
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		// 参加処理中に閉じられた
		s.hub.Leave(s.group, s)
		return
	}
	s.log.Info().Str("group", s.group).Msg("WebSocket接続を確立しました")

	ev := ConnectionEstablishedEvent{
		Type:          EventConnectionEstablished,
		Message:       messageConnected,
		Notifications: []NotificationContent{},
	}
	items, count, err := s.unread(DefaultListLimit)
	if err != nil {
		s.log.Warn().Err(err).Msg("接続時の未読通知の取得に失敗しました")
	} else {
		ev.Notifications = items
		ev.UnreadCount = count
	}
	s.reply(ev)
}

// Close はセッションを閉じてグループから外れる。何度呼んでもよく、参加前に呼んでもよい。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosed)))
		s.hub.Leave(s.group, s)
		s.cancel()
		close(s.done)
		if prev == StateOpen {
			s.log.Info().Str("group", s.group).Msg("WebSocket接続を切断しました")
		}
	})
}

// Deliver はファンアウトからのフレームを送信キューに積む。
// 閉じていればErrMemberClosed、キューが満杯ならErrSendQueueFullを返してフレームを破棄する。
func (s *Session) Deliver(frame []byte) error {
	if s.State() == StateClosed {
		return ErrMemberClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// reply はコマンドへの応答を送信キューに積む。キューが空くかセッションが閉じるまで待つ。
func (s *Session) reply(event any) {
	frame, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Msg("応答のシリアライズに失敗")
		return
	}
	select {
	case s.send <- frame:
	case <-s.done:
	}
}

// readPump はクライアントからのフレームを順に処理する。受信エラーで終了する。
func (s *Session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Warn().Err(err).Msg("WebSocketの受信エラー")
			}
			return
		}
		if s.State() == StateClosed {
			return
		}
		s.handleFrame(frame)
	}
}

// writePump は送信キューのフレームとpingを書き込む。終了時に接続を閉じる。
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug().Err(err).Msg("WebSocketへの書き込みに失敗")
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleFrame は1フレームを解析して処理する。どの失敗もセッションを閉じない。
func (s *Session) handleFrame(frame []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.reply(newErrorEvent(messageRateLimited))
		return
	}

	cmd, err := ParseCommand(frame)
	switch {
	case errors.Is(err, ErrMalformedCommand):
		s.reply(newErrorEvent(messageInvalidJSON))
		return
	case errors.Is(err, ErrMissingNotificationID):
		s.reply(newErrorEvent(err.Error()))
		return
	case err != nil:
		s.log.Error().Err(err).Msg("コマンドの解析に失敗")
		s.reply(newErrorEvent(messageInternalError))
		return
	}

	ev, err := s.dispatch(cmd)
	if err != nil {
		s.log.Error().Err(err).Str("command", cmd.Type).Msg("コマンドの処理に失敗")
		s.reply(newErrorEvent(messageInternalError))
		return
	}
	s.reply(ev)
}

// dispatch はコマンドを実行して応答イベントを返す。パニックはエラーとして返す。
func (s *Session) dispatch(cmd Command) (ev any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("コマンド処理中にパニック: %v", r)
		}
	}()

	switch cmd.Kind {
	case CommandPing:
		return PongEvent{Type: EventPong, Message: messageConnectionAlive}, nil
	case CommandMarkAsRead:
		return s.markAsRead(cmd.NotificationID)
	case CommandMarkAllAsRead:
		return s.markAllAsRead()
	case CommandGetNotifications:
		items, count, err := s.unread(cmd.Limit)
		if err != nil {
			return nil, err
		}
		return NotificationsListEvent{Type: EventNotificationsList, Notifications: items, UnreadCount: count}, nil
	case CommandGetAllNotifications:
		rows, err := s.queries.ListNotificationsByOwner(s.ctx, notificationdb.ListByOwnerParams{OwnerID: s.userID, Limit: cmd.Limit})
		if err != nil {
			return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
		}
		return AllNotificationsListEvent{Type: EventAllNotificationsList, Notifications: toContents(rows)}, nil
	case CommandUnknown:
		return newErrorEvent(fmt.Sprintf("Unknown message type: %s", cmd.Type)), nil
	}
	return nil, fmt.Errorf("未対応のコマンド種別: %d", cmd.Kind)
}

// markAsRead は所有者が一致する通知を既読にする。該当行がなければsuccess=falseを返す。
func (s *Session) markAsRead(id int64) (NotificationMarkedEvent, error) {
	rows, err := s.queries.MarkAsReadByOwner(s.ctx, notificationdb.MarkAsReadByOwnerParams{ID: id, OwnerID: s.userID})
	if err != nil {
		return NotificationMarkedEvent{}, fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	if rows == 0 {
		s.log.Debug().Int64("notification_id", id).Msg("通知が存在しないか所有者ではありません")
	} else {
		s.audit.Record(event.NotificationAggregateID(id), event.AggregateTypeNotification, event.TypeNotificationRead,
			event.NotificationReadData{UserID: s.userID, Via: viaWebSocket})
	}

	count, err := s.queries.CountUnreadNotificationsByOwner(s.ctx, s.userID)
	if err != nil {
		return NotificationMarkedEvent{}, fmt.Errorf("未読数の取得に失敗: %w", err)
	}
	return NotificationMarkedEvent{
		Type:           EventNotificationMarked,
		NotificationID: id,
		Success:        rows > 0,
		UnreadCount:    count,
	}, nil
}

// markAllAsRead はユーザーの未読通知を一括で既読にする。
func (s *Session) markAllAsRead() (AllNotificationsMarkedEvent, error) {
	count, err := s.queries.MarkAllAsReadByOwner(s.ctx, s.userID)
	if err != nil {
		return AllNotificationsMarkedEvent{}, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	s.log.Debug().Int64("count", count).Msg("全通知を既読にしました")
	if count > 0 {
		s.audit.Record(s.userID, event.AggregateTypeUser, event.TypeAllNotificationsRead,
			event.AllNotificationsReadData{Count: count, Via: viaWebSocket})
	}
	return AllNotificationsMarkedEvent{Type: EventAllNotificationsMarked, Count: count, UnreadCount: 0}, nil
}

// unread は未読通知（新しい順、limit件）と未読数を返す。
func (s *Session) unread(limit int) ([]NotificationContent, int64, error) {
	rows, err := s.queries.ListUnreadNotificationsByOwner(s.ctx, notificationdb.ListByOwnerParams{OwnerID: s.userID, Limit: limit})
	if err != nil {
		return nil, 0, fmt.Errorf("未読通知の取得に失敗: %w", err)
	}
	count, err := s.queries.CountUnreadNotificationsByOwner(s.ctx, s.userID)
	if err != nil {
		return nil, 0, fmt.Errorf("未読数の取得に失敗: %w", err)
	}
	return toContents(rows), count, nil
}
