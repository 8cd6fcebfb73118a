package notification

import (
	"encoding/json"
	"errors"
	"testing"

	notificationdb "github.com/dispozen/notification-service/internal/notification/db"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   string
		want    Command
		wantErr error
	}{
		{name: "ping", frame: `{"type":"ping"}`, want: Command{Kind: CommandPing, Type: "ping"}},
		{name: "数値のnotification_id", frame: `{"type":"mark_as_read","notification_id":42}`, want: Command{Kind: CommandMarkAsRead, Type: "mark_as_read", NotificationID: 42}},
		{name: "数値文字列のnotification_id", frame: `{"type":"mark_as_read","notification_id":"7"}`, want: Command{Kind: CommandMarkAsRead, Type: "mark_as_read", NotificationID: 7}},
		{name: "整数値の浮動小数点", frame: `{"type":"mark_as_read","notification_id":3.0}`, want: Command{Kind: CommandMarkAsRead, Type: "mark_as_read", NotificationID: 3}},
		{name: "notification_idなし", frame: `{"type":"mark_as_read"}`, wantErr: ErrMissingNotificationID},
		{name: "notification_idがnull", frame: `{"type":"mark_as_read","notification_id":null}`, wantErr: ErrMissingNotificationID},
		{name: "notification_idが小数", frame: `{"type":"mark_as_read","notification_id":1.5}`, wantErr: ErrMissingNotificationID},
		{name: "notification_idが真偽値", frame: `{"type":"mark_as_read","notification_id":true}`, wantErr: ErrMissingNotificationID},
		{name: "mark_all_as_read", frame: `{"type":"mark_all_as_read"}`, want: Command{Kind: CommandMarkAllAsRead, Type: "mark_all_as_read"}},
		{name: "limit省略", frame: `{"type":"get_notifications"}`, want: Command{Kind: CommandGetNotifications, Type: "get_notifications", Limit: 10}},
		{name: "limit指定", frame: `{"type":"get_notifications","limit":25}`, want: Command{Kind: CommandGetNotifications, Type: "get_notifications", Limit: 25}},
		{name: "limitが0", frame: `{"type":"get_all_notifications","limit":0}`, want: Command{Kind: CommandGetAllNotifications, Type: "get_all_notifications", Limit: 10}},
		{name: "limitが上限超過", frame: `{"type":"get_all_notifications","limit":1000}`, want: Command{Kind: CommandGetAllNotifications, Type: "get_all_notifications", Limit: 100}},
		{name: "limitが文字列", frame: `{"type":"get_notifications","limit":"abc"}`, want: Command{Kind: CommandGetNotifications, Type: "get_notifications", Limit: 10}},
		{name: "未知のtype", frame: `{"type":"subscribe"}`, want: Command{Kind: CommandUnknown, Type: "subscribe"}},
		{name: "不正なJSON", frame: `not json`, wantErr: ErrMalformedCommand},
		{name: "typeが文字列でない", frame: `{"type":1}`, wantErr: ErrMalformedCommand},
		{name: "null", frame: `null`, wantErr: ErrMalformedCommand},
		{name: "配列", frame: `[{"type":"ping"}]`, wantErr: ErrMalformedCommand},
		{name: "文字列", frame: `"ping"`, wantErr: ErrMalformedCommand},
		{name: "空フレーム", frame: `  `, wantErr: ErrMalformedCommand},
		{name: "前後の空白は許容", frame: " \n{\"type\":\"ping\"}\n", want: Command{Kind: CommandPing, Type: "ping"}},
		{name: "limitがint64を超える", frame: `{"type":"get_notifications","limit":1e30}`, want: Command{Kind: CommandGetNotifications, Type: "get_notifications", Limit: 100}},
		{name: "limitがintに収まらない整数", frame: `{"type":"get_all_notifications","limit":9223372036854775807}`, want: Command{Kind: CommandGetAllNotifications, Type: "get_all_notifications", Limit: 100}},
		{name: "limitが負の大きな数値", frame: `{"type":"get_notifications","limit":-1e30}`, want: Command{Kind: CommandGetNotifications, Type: "get_notifications", Limit: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseCommand([]byte(tt.frame))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseCommand() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand()でエラーが発生: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCommandKindString(t *testing.T) {
	t.Parallel()

	for name, kind := range commandTypes {
		if got := kind.String(); got != name {
			t.Errorf("%d.String() = %q, want %q", kind, got, name)
		}
	}
	if got := CommandUnknown.String(); got != "unknown" {
		t.Errorf("CommandUnknown.String() = %q, want unknown", got)
	}
}

func TestEventsEncodeEmptyListsAsArrays(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NotificationsListEvent{Type: EventNotificationsList, Notifications: toContents(nil)})
	if err != nil {
		t.Fatalf("json.Marshal()でエラーが発生: %v", err)
	}
	want := `{"type":"notifications_list","notifications":[],"unread_count":0}`
	if string(raw) != want {
		t.Errorf("json = %s, want %s", raw, want)
	}
}

func TestToContentsProjectsOnlyContent(t *testing.T) {
	t.Parallel()

	got := toContents([]notificationdb.Notification{
		{ID: 1, Title: "New Partnership Request", Content: "Alice has sent you a request.", PartnerID: "p"},
	})
	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("json.Marshal()でエラーが発生: %v", err)
	}
	if want := `[{"content":"Alice has sent you a request."}]`; string(raw) != want {
		t.Errorf("json = %s, want %s", raw, want)
	}
}
