package db

import (
	"time"
)

// Notification は notifications テーブルの1行。
type Notification struct {
	ID               int64     `db:"id" json:"id"`
	PartnerID        string    `db:"partner_id" json:"partner_id"`
	OrganizerID      string    `db:"organizer_id" json:"organizer_id"`
	EventID          string    `db:"event_id" json:"event_id"`
	Title            string    `db:"title" json:"title"`
	Content          string    `db:"content" json:"content"`
	NotificationType string    `db:"notification_type" json:"notification_type"`
	IsRead           bool      `db:"is_read" json:"is_read"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// OwnedBy はuserIDがpartner_idかorganizer_idのどちらかに一致するかを返す。
func (n Notification) OwnedBy(userID string) bool {
	return userID != "" && (n.PartnerID == userID || n.OrganizerID == userID)
}
