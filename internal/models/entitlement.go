package models

import "time"

// ExpirationRecord — единственный источник истины о праве доступа:
// пока expires_at в будущем, участник считается VIP.
// На пользователя существует не более одной записи (upsert по user_id).
type ExpirationRecord struct {
	ID        int64
	UserID    string
	ExpiresAt time.Time
}

// NotificationKind тип отправленного напоминания об истечении.
type NotificationKind string

// Виды напоминаний; запись в notifications_sent означает "уже отправлено".
const (
	NoticeThreeDays NotificationKind = "3days"
	NoticeOneDay    NotificationKind = "1day"
)

// PendingPaymentChannel — временный приватный канал, ожидающий оплату счёта.
// Удаляется при подтверждении платежа или по таймауту (10 минут).
type PendingPaymentChannel struct {
	UserID    string
	ChannelID string
	CreatedAt time.Time
}
