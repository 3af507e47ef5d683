// Package sl содержит вспомогательные функции для формирования
// единообразных структурированных полей slog по всему боту.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Op помечает запись лога именем операции вида "pkg.Func".
func Op(op string) slog.Attr {
	return slog.String("op", op)
}

// User добавляет идентификатор участника платформы.
func User(userID string) slog.Attr {
	return slog.String("user_id", userID)
}
