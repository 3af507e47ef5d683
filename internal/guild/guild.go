// Package guild — адаптер чат-платформы: роли, приватные каналы,
// сообщения с эмбедами. Сервисы зависят только от узких интерфейсов
// поверх этого адаптера, конкретная реализация — Discord.
package guild

import (
	"errors"
	"io"
)

// Ошибки-сигналы адаптера.
var (
	// ErrNotFound — участник, роль или канал не существуют (ушёл с сервера,
	// канал удалён). Для сущностей пользователя это терминальная очистка.
	ErrNotFound = errors.New("guild entity not found")
	// ErrHierarchy — высшая роль бота не выше целевой роли; мутация
	// невозможна, пока администратор не поправит иерархию.
	ErrHierarchy = errors.New("bot role position too low")
)

// Member — участник сервера.
type Member struct {
	UserID   string
	Username string
	RoleIDs  []string
}

// HasRole проверяет наличие роли у участника.
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// EmbedField поле эмбеда.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed — платформонезависимое структурированное сообщение.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
}

// File — вложение к сообщению (QR-код счёта).
type File struct {
	Name   string
	Reader io.Reader
}

// Цвета эмбедов, унаследованные от панели сообщества.
const (
	ColorInfo    = 0x00BFFF
	ColorWarning = 0xFFA500
	ColorUrgent  = 0xFF4500
	ColorError   = 0xFF0000
	ColorSuccess = 0x00FF00
	ColorGold    = 0xFFD700
	ColorRenewal = 0xFFC300
)
