package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

const notificationColumns = `id, partner_id, organizer_id, event_id, title, content, notification_type, is_read, created_at`

const countUnreadNotificationsByOwner = `
SELECT COUNT(*) FROM notifications
WHERE is_read = FALSE AND (partner_id = ? OR organizer_id = ?)
`

// CountUnreadNotificationsByOwner はユーザーの未読通知数を返す。
func (q *Queries) CountUnreadNotificationsByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := sqlx.GetContext(ctx, q.db, &count, q.db.Rebind(countUnreadNotificationsByOwner), ownerID, ownerID)
	return count, err
}

const createNotification = `
INSERT INTO notifications (partner_id, organizer_id, event_id, title, content, notification_type, is_read, created_at)
VALUES (?, ?, ?, ?, ?, ?, FALSE, ?)
RETURNING ` + notificationColumns

// CreateNotificationParams はCreateNotificationの引数。
type CreateNotificationParams struct {
	PartnerID        string
	OrganizerID      string
	EventID          string
	Title            string
	Content          string
	NotificationType string
	// CreatedAt がゼロ値の場合は現在時刻（UTC）を使う。
	CreatedAt time.Time
}

// CreateNotification は未読の通知を1件作成し、作成した行を返す。
func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) (Notification, error) {
	createdAt := arg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var n Notification
	err := sqlx.GetContext(ctx, q.db, &n, q.db.Rebind(createNotification),
		arg.PartnerID,
		arg.OrganizerID,
		arg.EventID,
		arg.Title,
		arg.Content,
		arg.NotificationType,
		createdAt.UTC(),
	)
	return n, err
}

const getNotificationByID = `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`

// GetNotificationByID はIDで通知を取得する。所有者による絞り込みは行わない。
func (q *Queries) GetNotificationByID(ctx context.Context, id int64) (Notification, error) {
	var n Notification
	err := sqlx.GetContext(ctx, q.db, &n, q.db.Rebind(getNotificationByID), id)
	return n, err
}

// ListByOwnerParams は所有者単位の一覧取得の引数。
type ListByOwnerParams struct {
	OwnerID string
	Limit   int
}

const listNotificationsByOwner = `
SELECT ` + notificationColumns + ` FROM notifications
WHERE partner_id = ? OR organizer_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`

// ListNotificationsByOwner は既読・未読を問わずユーザーの通知を新しい順に返す。
func (q *Queries) ListNotificationsByOwner(ctx context.Context, arg ListByOwnerParams) ([]Notification, error) {
	items := []Notification{}
	err := sqlx.SelectContext(ctx, q.db, &items, q.db.Rebind(listNotificationsByOwner), arg.OwnerID, arg.OwnerID, arg.Limit)
	return items, err
}

const listUnreadNotificationsByOwner = `
SELECT ` + notificationColumns + ` FROM notifications
WHERE is_read = FALSE AND (partner_id = ? OR organizer_id = ?)
ORDER BY created_at DESC, id DESC
LIMIT ?
`

// ListUnreadNotificationsByOwner はユーザーの未読通知を新しい順に返す。
func (q *Queries) ListUnreadNotificationsByOwner(ctx context.Context, arg ListByOwnerParams) ([]Notification, error) {
	items := []Notification{}
	err := sqlx.SelectContext(ctx, q.db, &items, q.db.Rebind(listUnreadNotificationsByOwner), arg.OwnerID, arg.OwnerID, arg.Limit)
	return items, err
}

const markAllAsReadByOwner = `
UPDATE notifications SET is_read = TRUE
WHERE is_read = FALSE AND (partner_id = ? OR organizer_id = ?)
`

// MarkAllAsReadByOwner はユーザーの未読通知を1文で一括既読にし、更新件数を返す。
func (q *Queries) MarkAllAsReadByOwner(ctx context.Context, ownerID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.db.Rebind(markAllAsReadByOwner), ownerID, ownerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markAsReadByOwner = `
UPDATE notifications SET is_read = TRUE
WHERE id = ? AND (partner_id = ? OR organizer_id = ?)
`

// MarkAsReadByOwnerParams はMarkAsReadByOwnerの引数。
type MarkAsReadByOwnerParams struct {
	ID      int64
	OwnerID string
}

// MarkAsReadByOwner は所有者が一致する通知を既読にし、対象となった行数を返す。
// 既読済みの行も対象に数えるため、同じ通知に対する2回目の呼び出しも1を返す。
func (q *Queries) MarkAsReadByOwner(ctx context.Context, arg MarkAsReadByOwnerParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.db.Rebind(markAsReadByOwner), arg.ID, arg.OwnerID, arg.OwnerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
