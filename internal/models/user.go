// Package models содержит доменные структуры бота: зарегистрированные
// пользователи, записи об истечении подписки, платежи и события ленты изменений.
// Все денежные суммы хранятся в целых сентаво, без плавающей точки.
package models

import "time"

// User представляет зарегистрированного участника сервера.
// UserID — стабильный идентификатор, выданный чат-платформой.
type User struct {
	ID           int64     // Внутренний идентификатор записи
	UserID       string    // Идентификатор участника на платформе
	Name         string    // Полное имя, указанное при регистрации
	Whatsapp     string    // Контактный номер в формате DDD9XXXXXXXX
	RegisteredAt time.Time // Дата регистрации
}

// RegistrationForm используется для приёма данных из модальной формы регистрации
// до их валидации и преобразования в User.
type RegistrationForm struct {
	Name     string `validate:"required,min=2"`
	Whatsapp string `validate:"required"`
}

// AccountSummary агрегирует данные аккаунта для панели "Consultar Saldo".
type AccountSummary struct {
	BalanceCents int64
	LastPayment  *PaymentRecord
	ExpiresAt    *time.Time
	DaysLeft     int
}
