// Package audit сверяет обладателей VIP-роли с записями об истечении.
// Участник с ролью, но без действующей записи — дрейф (роль выдали руками
// или запись потеряна): роль снимается и инцидент отправляется операторам.
// По умолчанию сверка выключена и включается конфигурацией.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/moneysplash/community-bot/internal/guild"
	"github.com/moneysplash/community-bot/internal/lib/brtime"
	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/models"
	"github.com/moneysplash/community-bot/internal/storage"
)

// Store читает записи об истечении.
type Store interface {
	GetExpiration(ctx context.Context, userID string) (*models.ExpirationRecord, error)
}

// GuildAdapter — операции платформы, нужные сверке.
type GuildAdapter interface {
	MembersWithRole(ctx context.Context, roleID string) ([]*guild.Member, error)
	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	SendEmbed(ctx context.Context, channelID, content string, embed *guild.Embed) error
}

// Config — роли и канал отчётов сверки.
type Config struct {
	VIPRoleID       string
	AwaitingRoleID  string
	BotLogChannelID string
}

// Auditor выполняет сверку ролей с записями.
type Auditor struct {
	store Store
	guild GuildAdapter
	cfg   Config
	log   *slog.Logger
}

// New создаёт новый Auditor.
func New(store Store, g GuildAdapter, cfg Config, log *slog.Logger) *Auditor {
	return &Auditor{store: store, guild: g, cfg: cfg, log: log}
}

// Schedule запускает периодическую сверку в фоне до отмены контекста.
// Первый проход — сразу при запуске.
func (a *Auditor) Schedule(ctx context.Context, interval time.Duration) {
	go func() {
		const op = "audit.Schedule"
		log := a.log.With(sl.Op(op))
		log.Info("security audit scheduled", slog.Duration("interval", interval))

		if err := a.RunOnce(ctx); err != nil {
			log.Error("audit sweep failed", sl.Err(err))
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info("security audit stopped")
				return
			case <-ticker.C:
				if err := a.RunOnce(ctx); err != nil {
					log.Error("audit sweep failed", sl.Err(err))
				}
			}
		}
	}()
}

// RunOnce выполняет один проход сверки. Ошибка по одному участнику не
// прерывает проход: остальные всё равно проверяются.
func (a *Auditor) RunOnce(ctx context.Context) error {
	const op = "audit.RunOnce"
	log := a.log.With(sl.Op(op))

	members, err := a.guild.MembersWithRole(ctx, a.cfg.VIPRoleID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()
	drifted := 0
	for _, member := range members {
		record, err := a.store.GetExpiration(ctx, member.UserID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Error("failed to read expiration record",
				sl.User(member.UserID), sl.Err(err))
			continue
		}
		if record != nil && record.ExpiresAt.After(now) {
			continue
		}

		// Роль есть, действующей записи нет: дрейф.
		drifted++
		reason := "sem registro de assinatura"
		if record != nil {
			reason = "registro de assinatura vencido"
		}
		if err := a.revokeDrifted(ctx, member, reason, now); err != nil {
			log.Error("failed to revoke drifted member",
				sl.User(member.UserID), sl.Err(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	log.Info("audit sweep finished",
		slog.Int("vip_members", len(members)), slog.Int("drifted", drifted))
	return nil
}

func (a *Auditor) revokeDrifted(ctx context.Context, member *guild.Member, reason string, now time.Time) error {
	const op = "audit.revokeDrifted"
	log := a.log.With(sl.Op(op), sl.User(member.UserID))

	if err := a.guild.RemoveRole(ctx, member.UserID, a.cfg.VIPRoleID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := a.guild.AddRole(ctx, member.UserID, a.cfg.AwaitingRoleID); err != nil {
		log.Error("failed to grant awaiting role", sl.Err(err))
	}
	log.Warn("vip role revoked by audit", slog.String("reason", reason))

	embed := &guild.Embed{
		Title:       "🛡️ Auditoria de Segurança",
		Description: "Cargo VIP removido: o usuário possuía o cargo sem uma assinatura válida.",
		Color:       guild.ColorError,
		Fields: []guild.EmbedField{
			{Name: "👤 Usuário", Value: member.Username, Inline: true},
			{Name: "🆔 ID", Value: member.UserID, Inline: true},
			{Name: "📋 Motivo", Value: reason, Inline: true},
			{Name: "🕒 Horário", Value: brtime.Stamp(now), Inline: true},
		},
	}
	if err := a.guild.SendEmbed(ctx, a.cfg.BotLogChannelID, "", embed); err != nil {
		log.Error("failed to report audit action", sl.Err(err))
	}
	return nil
}
