package notification

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dispozen/notification-service/internal/config"
	notificationdb "github.com/dispozen/notification-service/internal/notification/db"
	"github.com/dispozen/notification-service/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// waitTimeout はイベント待ちの上限。
const waitTimeout = 3 * time.Second

// setupQueries は一時ファイルのSQLiteにスキーマを適用してQueriesを返す。
func setupQueries(t *testing.T) *notificationdb.Queries {
	t.Helper()

	sqlDB, err := notificationdb.Open(t.Context(), notificationdb.DriverSQLite, filepath.Join(t.TempDir(), "notification.db")+"?_pragma=busy_timeout(5000)", zerolog.Nop())
	if err != nil {
		t.Fatalf("データベースの初期化に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return notificationdb.New(sqlDB)
}

// createTestNotification はテスト用に通知をDBに直接挿入するヘルパー関数。
func createTestNotification(t *testing.T, q notificationdb.Querier, partnerID, organizerID, content string) notificationdb.Notification {
	t.Helper()

	n, err := q.CreateNotification(context.Background(), notificationdb.CreateNotificationParams{
		PartnerID:        partnerID,
		OrganizerID:      organizerID,
		EventID:          "event-1",
		Title:            "New Partnership Request",
		Content:          content,
		NotificationType: "request",
	})
	if err != nil {
		t.Fatalf("テスト用通知の作成に失敗: %v", err)
	}
	return n
}

// testConfig はテスト用のサービス設定を返す。
func testConfig() *config.Config {
	return &config.Config{
		Port:      "0",
		GinMode:   gin.TestMode,
		JWTSecret: testSecret,
		WebSocket: config.WebSocketConfig{
			CommandRate:  1000,
			CommandBurst: 1000,
			SendBuffer:   16,
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// testToken はuserIDのアクセストークンを生成する。
func testToken(t *testing.T, userID string) string {
	t.Helper()

	token, err := middleware.GenerateJWT(testSecret, userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("トークンの生成に失敗: %v", err)
	}
	return token
}

// faultyQuerier は一部のクエリを失敗させるQuerier。
type faultyQuerier struct {
	notificationdb.Querier
	// listErr はListUnreadNotificationsByOwnerが返すエラー。
	listErr error
	// panicOnAll はListNotificationsByOwnerでパニックさせる。
	panicOnAll bool
}

func (f faultyQuerier) ListUnreadNotificationsByOwner(ctx context.Context, arg notificationdb.ListByOwnerParams) ([]notificationdb.Notification, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Querier.ListUnreadNotificationsByOwner(ctx, arg)
}

func (f faultyQuerier) ListNotificationsByOwner(ctx context.Context, arg notificationdb.ListByOwnerParams) ([]notificationdb.Notification, error) {
	if f.panicOnAll {
		panic("テスト用パニック")
	}
	return f.Querier.ListNotificationsByOwner(ctx, arg)
}

// fakeConn はメモリ上で送受信するwsConn。
type fakeConn struct {
	// in はクライアントからサーバーへのフレーム。
	in chan []byte
	// out はサーバーからクライアントへのテキストフレーム。
	out chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-f.in:
		return websocket.TextMessage, frame, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

func (f *fakeConn) SetReadLimit(int64) {}

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// send はクライアントとしてJSONフレームを送る。
func (f *fakeConn) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case f.in <- []byte(frame):
	case <-time.After(waitTimeout):
		t.Fatalf("フレームの送信がタイムアウト: %s", frame)
	}
}

// next はサーバーから次のイベントを受け取る。
func (f *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case frame := <-f.out:
		var ev map[string]any
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("イベントのパースに失敗: %v (%s)", err, frame)
		}
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("イベントの受信がタイムアウト")
		return nil
	}
}

// contentsOf はnotifications配列のcontentを取り出す。
func contentsOf(t *testing.T, ev map[string]any) []string {
	t.Helper()
	items, ok := ev["notifications"].([]any)
	if !ok {
		t.Fatalf("notificationsが配列ではない: %v", ev)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		m, _ := item.(map[string]any)
		content, _ := m["content"].(string)
		out = append(out, content)
	}
	return out
}

// number はJSONの数値フィールドをint64で取り出す。
func number(t *testing.T, ev map[string]any, key string) int64 {
	t.Helper()
	v, ok := ev[key].(float64)
	if !ok {
		t.Fatalf("%sが数値ではない: %v", key, ev)
	}
	return int64(v)
}
