// Package entitlement реализует машину состояний платного доступа:
// по дате истечения решает — напомнить, автоматически продлить с
// бонусного баланса или отозвать VIP. Все три источника событий
// (лента изменений, периодический обход, вебхуки) сходятся сюда,
// поэтому решения одинаковы независимо от триггера.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/moneysplash/community-bot/internal/channels"
	"github.com/moneysplash/community-bot/internal/guild"
	"github.com/moneysplash/community-bot/internal/lib/brtime"
	"github.com/moneysplash/community-bot/internal/lib/daysleft"
	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/metrics"
	"github.com/moneysplash/community-bot/internal/models"
)

// Store — операции хранилища, нужные машине состояний.
type Store interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetPlanPrice(ctx context.Context, code string) (*models.PlanPrice, error)
	RenewFromBalance(ctx context.Context, userID string, costCents int64, newExpiresAt time.Time) error
	WasNotified(ctx context.Context, userID string, kind models.NotificationKind) (bool, error)
	MarkNotified(ctx context.Context, userID string, kind models.NotificationKind) error
	DeleteExpiration(ctx context.Context, userID string) error
	ClearNotifications(ctx context.Context, userID string) error
}

// GuildAdapter — операции чат-платформы, нужные машине состояний.
type GuildAdapter interface {
	Member(ctx context.Context, userID string) (*guild.Member, error)
	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	SendEmbed(ctx context.Context, channelID, content string, embed *guild.Embed) error
	SendDM(ctx context.Context, userID, content string, embed *guild.Embed) error
}

// ChannelManager — временные каналы с отменяемым самоудалением.
type ChannelManager interface {
	Ensure(ctx context.Context, name, categoryID, userID string) (string, error)
	ScheduleDelete(channelID, reason string, after time.Duration, onDeleted func())
}

// Config — идентификаторы ролей и каналов, которыми управляет движок.
type Config struct {
	VIPRoleID             string
	AwaitingRoleID        string
	RegisteredRoleID      string
	NotifyChannelID       string
	BotLogChannelID       string
	RemovalsChannelID     string
	ExpirationsCategoryID string
	WeeklyPlanCode        string
}

// Engine — машина состояний подписки одного сервера.
type Engine struct {
	store    Store
	guild    GuildAdapter
	channels ChannelManager
	cfg      Config
	log      *slog.Logger
}

// New создает новый экземпляр Engine.
func New(store Store, g GuildAdapter, ch ChannelManager, cfg Config, log *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		guild:    g,
		channels: ch,
		cfg:      cfg,
		log:      log,
	}
}

// Evaluate — единственная точка принятия решений. За один вызов
// срабатывает ровно одна ветка: напоминание за 3 дня, напоминание
// за 1 день, разрешение истечения или ничего.
//
// Участник, не найденный на сервере, означает терминальную очистку:
// запись об истечении и отметки напоминаний удаляются, поскольку
// право доступа отсутствующему участнику не обеспечить. Любая другая
// ошибка платформы оставляет состояние нетронутым — следующий цикл
// повторит попытку.
func (e *Engine) Evaluate(ctx context.Context, userID string, expiresAt time.Time, now time.Time) error {
	const op = "entitlement.Evaluate"
	log := e.log.With(sl.Op(op), sl.User(userID))

	member, err := e.guild.Member(ctx, userID)
	if err != nil {
		if errors.Is(err, guild.ErrNotFound) {
			log.Warn("member left the guild, purging entitlement records")
			e.cleanupRecords(ctx, userID, log)
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	days := daysleft.Count(expiresAt, now)
	if days == daysleft.Invalid {
		log.Warn("invalid expiration timestamp, skipping")
		return nil
	}

	switch {
	case days <= 0:
		return e.resolveExpiry(ctx, member, now)
	case days == 1:
		return e.sendNotice(ctx, member, models.NoticeOneDay, days, now)
	case days > 2 && days <= 3:
		return e.sendNotice(ctx, member, models.NoticeThreeDays, days, now)
	default:
		return nil
	}
}

// EnsureEntitledRoles идемпотентно приводит роли к состоянию "подписка
// активна": выдаёт VIP и снимает роль ожидания оплаты. Используется
// лентой изменений, когда новая дата истечения в будущем.
func (e *Engine) EnsureEntitledRoles(ctx context.Context, userID string) error {
	const op = "entitlement.EnsureEntitledRoles"
	log := e.log.With(sl.Op(op), sl.User(userID))

	if err := e.guild.AddRole(ctx, userID, e.cfg.VIPRoleID); err != nil {
		log.Error("failed to grant vip role", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := e.guild.RemoveRole(ctx, userID, e.cfg.AwaitingRoleID); err != nil {
		log.Error("failed to remove awaiting role", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func noticeSuffix(kind models.NotificationKind) string {
	if kind == models.NoticeOneDay {
		return "1dia"
	}
	return "3dias"
}

func noticeEmbed(kind models.NotificationKind, member *guild.Member, days int, now time.Time, public bool) *guild.Embed {
	title := "⚠️ Lembrete: 3 Dias para Expiração"
	color := guild.ColorWarning
	unit := fmt.Sprintf("%d dias", days)
	if kind == models.NoticeOneDay {
		title = "⏳ Lembrete: 1 Dia para Expiração"
		color = guild.ColorUrgent
		unit = "1 dia"
	}
	description := fmt.Sprintf("Sua assinatura VIP está prestes a expirar em %s! Renove agora acessando o canal de pagamentos.", unit)
	if public {
		description = fmt.Sprintf("A assinatura de <@%s> está prestes a expirar em %s!", member.UserID, unit)
	}
	return &guild.Embed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields: []guild.EmbedField{
			{Name: "👤 Usuário", Value: member.Username, Inline: true},
			{Name: "🆔 ID", Value: member.UserID, Inline: true},
			{Name: "🕒 Horário da Notificação", Value: brtime.Stamp(now), Inline: true},
		},
	}
}

// sendNotice отправляет напоминание, если оно ещё не отправлялось.
// Отметка ставится только после успешной доставки в приватный канал:
// сбой до неё оставляет напоминание на повтор в следующем цикле.
func (e *Engine) sendNotice(ctx context.Context, member *guild.Member, kind models.NotificationKind, days int, now time.Time) error {
	const op = "entitlement.sendNotice"
	log := e.log.With(sl.Op(op), sl.User(member.UserID), slog.String("kind", string(kind)))

	already, err := e.store.WasNotified(ctx, member.UserID, kind)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if already {
		return nil
	}

	name := channels.NoticeChannelName(member.Username, noticeSuffix(kind))
	channelID, err := e.channels.Ensure(ctx, name, e.cfg.ExpirationsCategoryID, member.UserID)
	if err != nil {
		log.Error("failed to ensure reminder channel", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	mention := fmt.Sprintf("<@%s>", member.UserID)
	if err := e.guild.SendEmbed(ctx, channelID, mention, noticeEmbed(kind, member, days, now, false)); err != nil {
		log.Error("failed to send reminder", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := e.store.MarkNotified(ctx, member.UserID, kind); err != nil {
		log.Error("failed to mark notification as sent", sl.Err(err))
	}
	e.channels.ScheduleDelete(channelID, "Notificação de expiração expirada (12h)", channels.NoticeTTL, nil)

	// Зеркало в публичный канал уведомлений; сбой не отменяет напоминание.
	if err := e.guild.SendEmbed(ctx, e.cfg.NotifyChannelID, mention, noticeEmbed(kind, member, days, now, true)); err != nil {
		log.Error("failed to mirror reminder to public channel", sl.Err(err))
	}

	metrics.RemindersSent.WithLabelValues(string(kind)).Inc()
	log.Info("expiration reminder sent", slog.Int("days_left", days))
	return nil
}

// cleanupRecords — терминальная очистка для отсутствующего участника.
func (e *Engine) cleanupRecords(ctx context.Context, userID string, log *slog.Logger) {
	if err := e.store.DeleteExpiration(ctx, userID); err != nil {
		log.Error("failed to delete expiration record", sl.Err(err))
	}
	if err := e.store.ClearNotifications(ctx, userID); err != nil {
		log.Error("failed to clear notification records", sl.Err(err))
	}
}
