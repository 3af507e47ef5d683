// Package brmoney форматирует денежные суммы для бразильской аудитории.
package brmoney

import "fmt"

// FormatCents печатает сумму в сентаво как реалы: 7500 -> "R$ 75,00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, cents/100, cents%100)
}
