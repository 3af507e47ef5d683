// Package metrics экспортирует счётчики Prometheus для жизненного цикла подписок.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemindersSent — отправленные напоминания об истечении, по виду.
	RemindersSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vipbot_reminders_sent_total",
		Help: "Expiration reminders sent, by kind.",
	}, []string{"kind"})

	// AutoRenewals — успешные автопродления с бонусного баланса.
	AutoRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vipbot_auto_renewals_total",
		Help: "Subscriptions renewed automatically from bonus balance.",
	})

	// Revocations — отозванные VIP-доступы.
	Revocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vipbot_revocations_total",
		Help: "VIP entitlements revoked after expiry.",
	})

	// WebhooksProcessed — обработанные вебхуки провайдера, по исходу.
	WebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vipbot_webhooks_processed_total",
		Help: "Payment provider webhooks processed, by outcome.",
	}, []string{"outcome"})
)
