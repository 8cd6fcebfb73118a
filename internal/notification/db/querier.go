package db

import (
	"context"
)

// Querier は通知ストアの操作を表すインターフェース。
// 所有者を受け取るクエリはすべて partner_id と organizer_id のOR条件で絞り込む。
type Querier interface {
	CountUnreadNotificationsByOwner(ctx context.Context, ownerID string) (int64, error)
	CreateNotification(ctx context.Context, arg CreateNotificationParams) (Notification, error)
	GetNotificationByID(ctx context.Context, id int64) (Notification, error)
	ListNotificationsByOwner(ctx context.Context, arg ListByOwnerParams) ([]Notification, error)
	ListUnreadNotificationsByOwner(ctx context.Context, arg ListByOwnerParams) ([]Notification, error)
	MarkAllAsReadByOwner(ctx context.Context, ownerID string) (int64, error)
	MarkAsReadByOwner(ctx context.Context, arg MarkAsReadByOwnerParams) (int64, error)
}

var _ Querier = (*Queries)(nil)
