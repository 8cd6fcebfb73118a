package event

import (
	"encoding/json"
	"testing"
	"time"
)

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("NotificationCreatedDataでイベントを正常に生成できること", func(t *testing.T) {
		t.Parallel()

		data := NotificationCreatedData{
			NotificationID:   42,
			RecipientID:      "partner-1",
			PartnerID:        "partner-1",
			OrganizerID:      "organizer-1",
			EventID:          "event-1",
			NotificationType: "request",
		}

		before := time.Now().UTC()
		ev, err := New(NotificationAggregateID(42), AggregateTypeNotification, TypeNotificationCreated, data)
		after := time.Now().UTC()

		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if ev.ID == "" {
			t.Error("IDが空文字列")
		}
		if ev.AggregateID != "notification-42" {
			t.Errorf("AggregateID = %q, want %q", ev.AggregateID, "notification-42")
		}
		if ev.AggregateType != AggregateTypeNotification {
			t.Errorf("AggregateType = %q, want %q", ev.AggregateType, AggregateTypeNotification)
		}
		if ev.EventType != TypeNotificationCreated {
			t.Errorf("EventType = %q, want %q", ev.EventType, TypeNotificationCreated)
		}
		if ev.CreatedAt.Before(before) || ev.CreatedAt.After(after) {
			t.Errorf("CreatedAt = %v, 期待する範囲: [%v, %v]", ev.CreatedAt, before, after)
		}

		var decoded NotificationCreatedData
		if err := json.Unmarshal(ev.Data, &decoded); err != nil {
			t.Fatalf("Dataのデシリアライズに失敗: %v", err)
		}
		if decoded != data {
			t.Errorf("decoded = %+v, want %+v", decoded, data)
		}
	})

	t.Run("連続して生成したイベントのIDが異なること", func(t *testing.T) {
		t.Parallel()

		ids := make(map[string]struct{})
		for range 100 {
			ev, err := New("user-1", AggregateTypeUser, TypeAllNotificationsRead, AllNotificationsReadData{Count: 1, Via: "rest"})
			if err != nil {
				t.Fatalf("New()でエラーが発生: %v", err)
			}
			if _, dup := ids[ev.ID]; dup {
				t.Fatalf("IDが重複: %s", ev.ID)
			}
			ids[ev.ID] = struct{}{}
		}
	})

	t.Run("シリアライズ不可能なデータでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := New("x", AggregateTypeNotification, TypeNotificationRead, make(chan int)); err == nil {
			t.Fatal("New()がエラーを返すべきだが、nilが返った")
		}
	})
}

func TestNotificationAggregateID(t *testing.T) {
	t.Parallel()

	if got := NotificationAggregateID(123); got != "notification-123" {
		t.Errorf("NotificationAggregateID(123) = %q, want %q", got, "notification-123")
	}
}
