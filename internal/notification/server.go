package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/dispozen/notification-service/internal/config"
	notificationdb "github.com/dispozen/notification-service/internal/notification/db"
	"github.com/dispozen/notification-service/pkg/event"
	"github.com/dispozen/notification-service/pkg/httpclient"
	"github.com/dispozen/notification-service/pkg/logger"
	"github.com/dispozen/notification-service/pkg/middleware"
)

// Server は通知サービスのHTTPサーバー。
// WebSocketセッション、REST API、内部の通知送信APIを提供する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はRunで起動するHTTPサーバー。
	httpServer *http.Server
	// cfg はサービス設定。
	cfg *config.Config
	// queries は通知テーブルへのクエリ。
	queries notificationdb.Querier
	// hub はユーザーごとの接続グループ。
	hub *Hub
	// notifier は生存接続への通知プッシュ。
	notifier *Notifier
	// audit はイベントストアへの監査イベント送信。EventStoreURLが空ならnil。
	audit *AuditLog
	// upgrader はWebSocketのハンドシェイクを行う。
	upgrader websocket.Upgrader
	// sessionCfg は新しいセッションに渡す設定。
	sessionCfg SessionConfig
	log        zerolog.Logger

	// ctx はセッションの親コンテキスト。Shutdownでキャンセルする。
	ctx    context.Context
	cancel context.CancelFunc
	// mu はctxのキャンセルとsessionsへのAddを直列化する。
	mu       sync.Mutex
	sessions sync.WaitGroup
}

// NewServer は新しい通知サーバーを生成する。
// dbはマイグレーション適用済みであること。
func NewServer(cfg *config.Config, db *sqlx.DB, log zerolog.Logger) *Server {
	return newServer(cfg, notificationdb.New(db), log)
}

func newServer(cfg *config.Config, queries notificationdb.Querier, log zerolog.Logger) *Server {
	gin.SetMode(cfg.GinMode)

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{middleware.AllowAllOrigins}
	}

	var audit *AuditLog
	if cfg.EventStoreURL != "" {
		client := httpclient.New(cfg.EventStoreURL, httpclient.WithTimeout(5*time.Second), httpclient.WithRetry(2, 200*time.Millisecond))
		audit = NewAuditLog(client, 256, logger.Component(log, "audit"))
	}

	hub := NewHub(logger.Component(log, "hub"))
	ctx, cancel := context.WithCancel(context.Background())

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(logger.Component(log, "http")))
	router.Use(middleware.CORS(allowedOrigins))

	s := &Server{
		router:   router,
		cfg:      cfg,
		queries:  queries,
		hub:      hub,
		notifier: NewNotifier(hub, logger.Component(log, "notifier")),
		audit:    audit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// ブラウザ以外のクライアントはOriginを送らない
				return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
			},
		},
		sessionCfg: SessionConfig{
			CommandRate:  cfg.WebSocket.CommandRate,
			CommandBurst: cfg.WebSocket.CommandBurst,
			SendBuffer:   cfg.WebSocket.SendBuffer,
		},
		log:    logger.Component(log, "server"),
		ctx:    ctx,
		cancel: cancel,
	}
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()

	return s
}

// Handler はルーティング済みのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub は接続グループを返す。
func (s *Server) Hub() *Hub {
	return s.hub
}

// Notifier は通知プッシュを返す。同一プロセス内の送信元から使う。
func (s *Server) Notifier() *Notifier {
	return s.notifier
}

// Audit は監査イベントの送信を返す。無効な場合はnil。
func (s *Server) Audit() *AuditLog {
	return s.audit
}

// Run はHTTPサーバーを起動する。Shutdownで停止した場合はnilを返す。
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("通知サービスを起動します")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーの実行に失敗: %w", err)
	}
	return nil
}

// Shutdown は新規接続の受付を止め、全セッションを閉じてから返る。
// ハイジャックされたWebSocket接続はhttp.Server.Shutdownの対象外のため、Hub経由で閉じる。
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.hub.CloseAll()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("セッションの終了待ちがタイムアウト: %w", ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// WebSocketはブラウザがヘッダーを付けられないため、?token=でも認証する
	s.router.GET("/ws/notifications", s.handleWebSocket())

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 未読数取得
			notifications.GET("/unread/count", s.handleUnreadCount())
			// 通知1件の取得
			notifications.GET("/:id", s.handleGet())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// 通知送信（内部API - 予約・承認処理から呼び出される）
		internal := api.Group("/internal")
		{
			internal.POST("/send", s.handleSend())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		groups, connections := s.hub.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     "notification",
			"groups":      groups,
			"connections": connections,
		})
	})
}

// handleWebSocket はトークンを検証してからWebSocketにアップグレードし、接続が閉じるまでセッションを実行する。
// 認証に失敗した場合はアップグレードせず401を、シャットダウン開始後は503を返す。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := middleware.Authenticate(c.Request, s.cfg.JWTSecret)
		if err != nil {
			s.log.Debug().Err(err).Msg("WebSocketハンドシェイクの認証に失敗")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "認証に失敗しました"})
			return
		}
		middleware.SetClaims(c, claims)

		if !s.beginSession() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "サービスを停止中です"})
			return
		}
		defer s.sessions.Done()

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgradeがエラーレスポンスを書き込み済み
			s.log.Warn().Err(err).Str("user_id", claims.UserID).Msg("WebSocketへのアップグレードに失敗")
			return
		}

		sess := newSession(conn, claims.UserID, s.hub, s.queries, s.audit, s.sessionCfg, logger.Component(s.log, "session"))
		sess.Run(s.ctx)
	}
}

// beginSession はシャットダウン前であればセッション数に1を加えてtrueを返す。
// Shutdownがsessionsを待ち始めた後にAddしないよう、キャンセルと同じロックの下で判定する。
func (s *Server) beginSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.sessions.Add(1)
	return true
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID int64 `json:"id"`
	// PartnerID はパートナー側のユーザーID。
	PartnerID string `json:"partner_id"`
	// OrganizerID は主催者側のユーザーID。
	OrganizerID string `json:"organizer_id"`
	// EventID は関連するイベントのID。
	EventID string `json:"event_id"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Content は通知本文。
	Content string `json:"content"`
	// NotificationType は通知の分類。
	NotificationType string `json:"notification_type"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toNotificationResponse はDB行をJSONレスポンスに変換する。
func toNotificationResponse(n notificationdb.Notification) notificationResponse {
	return notificationResponse{
		ID:               n.ID,
		PartnerID:        n.PartnerID,
		OrganizerID:      n.OrganizerID,
		EventID:          n.EventID,
		Title:            n.Title,
		Content:          n.Content,
		NotificationType: n.NotificationType,
		IsRead:           n.IsRead,
		CreatedAt:        n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// toNotificationResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []notificationdb.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// queryLimit は?limit=をWebSocketコマンドと同じ規則で正規化する。数値でない場合は既定値。
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(c.Query("limit"), "-") {
		return MaxListLimit
	}
	return normalizeLimit(limit)
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.queries.ListNotificationsByOwner(c.Request.Context(), notificationdb.ListByOwnerParams{
			OwnerID: userID,
			Limit:   queryLimit(c),
		})
		if err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("通知一覧取得エラー")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.queries.ListUnreadNotificationsByOwner(c.Request.Context(), notificationdb.ListByOwnerParams{
			OwnerID: userID,
			Limit:   queryLimit(c),
		})
		if err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("未読通知一覧取得エラー")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleUnreadCount は認証済みユーザーの未読数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := s.queries.CountUnreadNotificationsByOwner(c.Request.Context(), userID)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("未読数取得エラー")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読数の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"unread_count": count})
	}
}

// handleGet は指定された通知を返すハンドラ。
// 所有者でない通知は存在しない通知と同じく404を返す。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが不正です"})
			return
		}

		n, err := s.queries.GetNotificationByID(c.Request.Context(), notificationID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !n.OwnedBy(userID)) {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		if err != nil {
			s.log.Error().Err(err).Int64("notification_id", notificationID).Msg("通知取得エラー")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toNotificationResponse(n))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 所有者でない通知は存在しない通知と同じく404を返す。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが不正です"})
			return
		}

		rows, err := s.queries.MarkAsReadByOwner(c.Request.Context(), notificationdb.MarkAsReadByOwnerParams{
			ID:      notificationID,
			OwnerID: userID,
		})
		if err != nil {
			s.log.Error().Err(err).Int64("notification_id", notificationID).Msg("通知既読処理エラー")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			return
		}
		if rows == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		s.audit.Record(event.NotificationAggregateID(notificationID), event.AggregateTypeNotification, event.TypeNotificationRead,
			event.NotificationReadData{UserID: userID, Via: viaREST})

		count, err := s.queries.CountUnreadNotificationsByOwner(c.Request.Context(), userID)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("未読数取得エラー")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読数の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"notification_id": notificationID,
			"success":         true,
			"unread_count":    count,
		})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := s.queries.MarkAllAsReadByOwner(c.Request.Context(), userID)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("全通知既読処理エラー")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			return
		}
		if count > 0 {
			s.audit.Record(userID, event.AggregateTypeUser, event.TypeAllNotificationsRead,
				event.AllNotificationsReadData{Count: count, Via: viaREST})
		}

		c.JSON(http.StatusOK, gin.H{"count": count, "unread_count": 0})
	}
}

// 通知の受信者の役割。
const (
	recipientPartner   = "partner"
	recipientOrganizer = "organizer"
)

// sendRequest は通知送信リクエストのJSON構造。
type sendRequest struct {
	// RecipientRole はプッシュ先がpartner_idとorganizer_idのどちらかを表す。
	RecipientRole string `json:"recipient_role" binding:"required,oneof=partner organizer"`
	// PartnerID はパートナー側のユーザーID。
	PartnerID string `json:"partner_id" binding:"required"`
	// OrganizerID は主催者側のユーザーID。
	OrganizerID string `json:"organizer_id" binding:"required"`
	// EventID は関連するイベントのID。
	EventID string `json:"event_id" binding:"required"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Content は通知本文。クライアントへプッシュされる。
	Content string `json:"content" binding:"required"`
	// NotificationType は通知の分類（request、acceptanceなど）。
	NotificationType string `json:"notification_type" binding:"required"`
}

// recipient はプッシュ先のユーザーIDを返す。
func (r sendRequest) recipient() string {
	if r.RecipientRole == recipientOrganizer {
		return r.OrganizerID
	}
	return r.PartnerID
}

// handleSend は通知を保存し、受信者の生存接続へプッシュするハンドラ。
// 内部API（パートナー申請・承認の処理から呼び出される）。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		// 通知をデータベースに保存
		n, err := s.queries.CreateNotification(c.Request.Context(), notificationdb.CreateNotificationParams{
			PartnerID:        req.PartnerID,
			OrganizerID:      req.OrganizerID,
			EventID:          req.EventID,
			Title:            req.Title,
			Content:          req.Content,
			NotificationType: req.NotificationType,
		})
		if err != nil {
			s.log.Error().Err(err).Msg("通知作成エラー")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			return
		}

		recipient := req.recipient()
		aggregateID := event.NotificationAggregateID(n.ID)
		s.audit.Record(aggregateID, event.AggregateTypeNotification, event.TypeNotificationCreated, event.NotificationCreatedData{
			NotificationID:   n.ID,
			RecipientID:      recipient,
			PartnerID:        n.PartnerID,
			OrganizerID:      n.OrganizerID,
			EventID:          n.EventID,
			NotificationType: n.NotificationType,
		})

		// 保存済みの行が正なので、プッシュの成否はレスポンスに影響させない
		delivery := s.notifier.Notify(recipient, Payload{ID: n.ID, Content: n.Content})
		s.audit.Record(aggregateID, event.AggregateTypeNotification, event.TypeNotificationPushed, event.NotificationPushedData{
			NotificationID: n.ID,
			RecipientID:    recipient,
			Connections:    delivery.Delivered,
		})

		c.JSON(http.StatusCreated, gin.H{
			"id":      n.ID,
			"message": "通知を送信しました",
		})
	}
}
