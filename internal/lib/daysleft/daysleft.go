// Package daysleft считает целые дни до истечения подписки.
// Округление всегда вверх: ровно 24 часа до истечения — это 1 день,
// 24 часа и одна секунда — 2 дня.
package daysleft

import (
	"math"
	"time"
)

// Invalid возвращается для непригодной даты истечения вместо паники.
const Invalid = math.MinInt32

const day = 24 * time.Hour

// Count возвращает ceil((expiresAt - now) / 24h).
// Нулевое значение expiresAt считается непригодным.
func Count(expiresAt, now time.Time) int {
	if expiresAt.IsZero() {
		return Invalid
	}
	diff := expiresAt.Sub(now)
	if diff <= 0 {
		// Отрицательные значения тоже округляются к большему: -25ч => -1.
		return int(diff / day)
	}
	return int((diff + day - 1) / day)
}

// FromRaw разбирает дату истечения из сырого строкового представления
// (RFC 3339) и возвращает Count; для неразборчивой строки — Invalid.
func FromRaw(raw string, now time.Time) int {
	expiresAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return Invalid
	}
	return Count(expiresAt, now)
}
