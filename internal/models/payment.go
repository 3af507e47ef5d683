package models

import "time"

// PaymentRecord — подтверждённый платёж в истории пользователя.
// Reference уникален и служит ключом дедупликации вебхуков.
type PaymentRecord struct {
	ID          int64
	UserID      string
	Reference   string
	AmountCents int64
	PaidAt      time.Time
}

// PlanPrice — тарифный план: цена в сентаво и длительность в днях.
type PlanPrice struct {
	Code         string
	PriceCents   int64
	DurationDays int
}

// ApprovedPayment — нормализованное подтверждение платежа от провайдера,
// поступающее в сервис выверки из вебхука.
type ApprovedPayment struct {
	Reference        string // Ссылка провайдера, например "MP-123456"
	UserID           string // external_reference платежа
	AmountCents      int64
	PlanDurationDays int   // metadata.plan_duration
	BalanceUsedCents int64 // metadata.balance_used, 0 если не применялся
	ApprovedAt       time.Time
}
