// Package channels управляет временными приватными каналами: напоминания
// об истечении (живут 12 часов) и каналы оплаты (живут 10 минут).
// Таймеры самоудаления отменяемы: повторное использование канала снимает
// старый таймер вместо того, чтобы дать ему удалить канал из-под пользователя.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/moneysplash/community-bot/internal/guild"
	"github.com/moneysplash/community-bot/internal/lib/sl"
)

// Время жизни каналов.
const (
	NoticeTTL  = 12 * time.Hour
	PaymentTTL = 10 * time.Minute
)

// GuildAdapter — операции платформы, нужные менеджеру каналов.
type GuildAdapter interface {
	CreateMemberChannel(ctx context.Context, name, categoryID, userID string) (string, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	FindChannelByName(ctx context.Context, name string) (string, error)
}

var channelNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// NoticeChannelName возвращает детерминированное имя канала напоминания,
// по которому обнаруживается уже существующий канал.
func NoticeChannelName(username, suffix string) string {
	return "expiracao-" + strings.ToLower(username) + "-" + suffix
}

// PaymentChannelName возвращает имя канала оплаты пользователя.
func PaymentChannelName(username string) string {
	clean := channelNameSanitizer.ReplaceAllString(username, "")
	if len(clean) > 20 {
		clean = clean[:20]
	}
	return "pix-" + clean
}

// Manager владеет таймерами самоудаления. Все таймеры теряются при
// перезапуске процесса: осиротевшие каналы подчищаются вручную, это
// известное ограничение.
type Manager struct {
	guild GuildAdapter
	log   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewManager создаёт менеджер каналов.
func NewManager(g GuildAdapter, log *slog.Logger) *Manager {
	return &Manager{
		guild:  g,
		log:    log,
		timers: make(map[string]*time.Timer),
	}
}

// Ensure возвращает канал с данным именем, создавая его при отсутствии.
// Повторное использование существующего канала отменяет его таймер
// самоудаления: канал снова в работе.
func (m *Manager) Ensure(ctx context.Context, name, categoryID, userID string) (string, error) {
	const op = "channels.Ensure"

	channelID, err := m.guild.FindChannelByName(ctx, name)
	if err == nil {
		m.Cancel(channelID)
		return channelID, nil
	}
	if !errors.Is(err, guild.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	channelID, err = m.guild.CreateMemberChannel(ctx, name, categoryID, userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	m.log.Info("channel created", slog.String("name", name), sl.User(userID))
	return channelID, nil
}

// ScheduleDelete взводит (или перевзводит) таймер самоудаления канала.
// onDeleted вызывается после успешного удаления; может быть nil.
func (m *Manager) ScheduleDelete(channelID, reason string, after time.Duration, onDeleted func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.timers[channelID]; ok {
		old.Stop()
	}
	m.timers[channelID] = time.AfterFunc(after, func() {
		m.mu.Lock()
		delete(m.timers, channelID)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.guild.DeleteChannel(ctx, channelID, reason); err != nil {
			m.log.Error("failed to delete expired channel",
				slog.String("channel_id", channelID), sl.Err(err))
			return
		}
		m.log.Info("expired channel deleted", slog.String("channel_id", channelID))
		if onDeleted != nil {
			onDeleted()
		}
	})
}

// Cancel снимает таймер самоудаления, если он взведён.
func (m *Manager) Cancel(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[channelID]; ok {
		t.Stop()
		delete(m.timers, channelID)
	}
}

// DeleteNow немедленно удаляет канал и снимает его таймер.
func (m *Manager) DeleteNow(ctx context.Context, channelID, reason string) error {
	m.Cancel(channelID)
	return m.guild.DeleteChannel(ctx, channelID, reason)
}
