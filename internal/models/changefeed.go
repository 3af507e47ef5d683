package models

import "time"

// ChangeOp тип операции в ленте изменений.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// Имена отслеживаемых таблиц в payload ленты изменений.
const (
	TableExpirations = "expiration_records"
	TableUsers       = "registered_users"
)

// ChangeEvent — нормализованное событие ленты изменений (pg_notify).
// UserID может отсутствовать (прежде всего у DELETE): диспетчер обязан
// разрешить идентификатор по запасным путям или отбросить событие.
type ChangeEvent struct {
	Table     string     `json:"table"`
	Op        ChangeOp   `json:"op"`
	RecordID  int64      `json:"record_id"`
	UserID    string     `json:"user_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
