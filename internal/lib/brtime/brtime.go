// Package brtime форматирует время для пользовательских сообщений
// в часовом поясе сообщества (São Paulo).
package brtime

import "time"

var location = func() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// Stamp возвращает дату и время вида "02/01/2006 às 15:04".
func Stamp(t time.Time) string {
	local := t.In(location)
	return local.Format("02/01/2006") + " às " + local.Format("15:04")
}

// Date возвращает только дату вида "02/01/2006".
func Date(t time.Time) string {
	return t.In(location).Format("02/01/2006")
}
