package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/moneysplash/community-bot/internal/channels"
	"github.com/moneysplash/community-bot/internal/guild"
	"github.com/moneysplash/community-bot/internal/lib/brmoney"
	"github.com/moneysplash/community-bot/internal/lib/brtime"
	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/metrics"
	"github.com/moneysplash/community-bot/internal/storage"
)

// resolveExpiry разрешает истёкшую подписку: автопродление с бонусного
// баланса, если его хватает на недельный план, иначе отзыв VIP.
// Ветки взаимоисключающие — за один вызов происходит ровно одно.
func (e *Engine) resolveExpiry(ctx context.Context, member *guild.Member, now time.Time) error {
	const op = "entitlement.resolveExpiry"
	log := e.log.With(sl.Op(op), sl.User(member.UserID))

	plan, err := e.store.GetPlanPrice(ctx, e.cfg.WeeklyPlanCode)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	balance, err := e.store.GetBalance(ctx, member.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if balance >= plan.PriceCents {
		return e.autoRenew(ctx, member, plan.PriceCents, plan.DurationDays, balance, now, log)
	}
	return e.revoke(ctx, member, now, log)
}

// autoRenew списывает стоимость плана и сдвигает дату истечения одной
// транзакцией. Конкурирующее списание между проверкой баланса и
// транзакцией не страшно: условный декремент откажет, участник
// останется истёкшим и будет отозван следующим циклом.
func (e *Engine) autoRenew(ctx context.Context, member *guild.Member, costCents int64, durationDays int, balance int64, now time.Time, log *slog.Logger) error {
	const op = "entitlement.autoRenew"

	newExpiresAt := now.AddDate(0, 0, durationDays)
	if err := e.store.RenewFromBalance(ctx, member.UserID, costCents, newExpiresAt); err != nil {
		if errors.Is(err, storage.ErrInsufficientBalance) {
			log.Warn("balance spent concurrently, renewal skipped")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.AutoRenewals.Inc()
	remaining := balance - costCents
	log.Info("subscription auto-renewed from balance",
		slog.Int64("cost_cents", costCents),
		slog.Int64("remaining_cents", remaining),
		slog.Time("new_expires_at", newExpiresAt))

	// Уведомления об успехе — только после фиксации транзакции,
	// их сбои продление не отменяют.
	opsEmbed := &guild.Embed{
		Title:       "🔄 Assinatura Renovada Automaticamente",
		Description: "A assinatura foi renovada com o saldo de bônus do usuário.",
		Color:       guild.ColorRenewal,
		Fields: []guild.EmbedField{
			{Name: "👤 Usuário", Value: member.Username, Inline: true},
			{Name: "🆔 ID", Value: member.UserID, Inline: true},
			{Name: "💰 Valor Debitado", Value: brmoney.FormatCents(costCents), Inline: true},
			{Name: "💵 Saldo Restante", Value: brmoney.FormatCents(remaining), Inline: true},
			{Name: "📅 Nova Expiração", Value: brtime.Stamp(newExpiresAt), Inline: true},
		},
	}
	if err := e.guild.SendEmbed(ctx, e.cfg.BotLogChannelID, "", opsEmbed); err != nil {
		log.Error("failed to log auto-renewal", sl.Err(err))
	}

	dmEmbed := &guild.Embed{
		Title:       "✅ Assinatura Renovada!",
		Description: "Sua assinatura VIP foi renovada automaticamente com seu saldo de bônus.",
		Color:       guild.ColorSuccess,
		Fields: []guild.EmbedField{
			{Name: "💰 Valor Debitado", Value: brmoney.FormatCents(costCents), Inline: true},
			{Name: "💵 Saldo Restante", Value: brmoney.FormatCents(remaining), Inline: true},
			{Name: "📅 Válida Até", Value: brtime.Stamp(newExpiresAt), Inline: true},
		},
	}
	if err := e.guild.SendDM(ctx, member.UserID, "", dmEmbed); err != nil {
		log.Error("failed to dm renewal confirmation", sl.Err(err))
	}
	return nil
}

// revoke отзывает VIP: смена ролей строго до удаления записей, чтобы
// при сбое платформы (в том числе иерархии ролей) запись уцелела и
// отзыв повторился следующим циклом.
func (e *Engine) revoke(ctx context.Context, member *guild.Member, now time.Time, log *slog.Logger) error {
	const op = "entitlement.revoke"

	if err := e.guild.RemoveRole(ctx, member.UserID, e.cfg.VIPRoleID); err != nil {
		log.Error("failed to remove vip role", sl.Err(err))
		e.reportRoleFailure(ctx, member, err, log)
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := e.guild.AddRole(ctx, member.UserID, e.cfg.AwaitingRoleID); err != nil {
		log.Error("failed to grant awaiting role", sl.Err(err))
		e.reportRoleFailure(ctx, member, err, log)
		return fmt.Errorf("%s: %w", op, err)
	}

	e.cleanupRecords(ctx, member.UserID, log)
	metrics.Revocations.Inc()
	log.Info("vip entitlement revoked")

	channelID, err := e.channels.Ensure(ctx,
		channels.NoticeChannelName(member.Username, "expirada"),
		e.cfg.ExpirationsCategoryID, member.UserID)
	if err != nil {
		log.Error("failed to ensure expiry channel", sl.Err(err))
		return nil
	}

	mention := fmt.Sprintf("<@%s>", member.UserID)
	expiredEmbed := &guild.Embed{
		Title:       "⏳ Assinatura Vencida",
		Description: "Sua assinatura VIP expirou e o acesso foi suspenso. Renove pelo painel de pagamentos para reativar.",
		Color:       guild.ColorError,
		Fields: []guild.EmbedField{
			{Name: "👤 Usuário", Value: member.Username, Inline: true},
			{Name: "🆔 ID", Value: member.UserID, Inline: true},
			{Name: "🕒 Horário", Value: brtime.Stamp(now), Inline: true},
		},
	}
	if err := e.guild.SendEmbed(ctx, channelID, mention, expiredEmbed); err != nil {
		log.Error("failed to send expiry notice", sl.Err(err))
	}
	e.channels.ScheduleDelete(channelID, "Notificação de expiração expirada (12h)", channels.NoticeTTL, nil)

	publicEmbed := &guild.Embed{
		Title:       "⏳ Assinatura Vencida",
		Description: fmt.Sprintf("A assinatura de <@%s> expirou.", member.UserID),
		Color:       guild.ColorError,
	}
	if err := e.guild.SendEmbed(ctx, e.cfg.NotifyChannelID, mention, publicEmbed); err != nil {
		log.Error("failed to mirror expiry notice", sl.Err(err))
	}
	return nil
}

// RevokeCancelled обрабатывает удаление записи об истечении извне
// (ручная отмена администратором): роли снимаются, но чистить записи
// уже нечего.
func (e *Engine) RevokeCancelled(ctx context.Context, userID string) error {
	const op = "entitlement.RevokeCancelled"
	log := e.log.With(sl.Op(op), sl.User(userID))

	member, err := e.guild.Member(ctx, userID)
	if err != nil {
		if errors.Is(err, guild.ErrNotFound) {
			log.Warn("member already left, nothing to revoke")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := e.guild.RemoveRole(ctx, userID, e.cfg.VIPRoleID); err != nil {
		log.Error("failed to remove vip role", sl.Err(err))
		e.reportRoleFailure(ctx, member, err, log)
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := e.guild.AddRole(ctx, userID, e.cfg.AwaitingRoleID); err != nil {
		log.Error("failed to grant awaiting role", sl.Err(err))
	}
	if err := e.store.ClearNotifications(ctx, userID); err != nil {
		log.Error("failed to clear notification records", sl.Err(err))
	}
	metrics.Revocations.Inc()
	log.Info("subscription cancelled, vip revoked")

	embed := &guild.Embed{
		Title:       "🚫 Assinatura Cancelada",
		Description: "A assinatura foi cancelada e o acesso VIP removido.",
		Color:       guild.ColorError,
		Fields: []guild.EmbedField{
			{Name: "👤 Usuário", Value: member.Username, Inline: true},
			{Name: "🆔 ID", Value: member.UserID, Inline: true},
			{Name: "🕒 Horário", Value: brtime.Stamp(time.Now()), Inline: true},
		},
	}
	if err := e.guild.SendEmbed(ctx, e.cfg.RemovalsChannelID, "", embed); err != nil {
		log.Error("failed to log cancellation", sl.Err(err))
	}
	return nil
}

// PurgeDeletedUser обрабатывает удаление регистрации: снимает все
// управляемые роли и чистит записи. Каждая роль снимается независимо —
// частичный сбой не мешает снять остальные.
func (e *Engine) PurgeDeletedUser(ctx context.Context, userID string) error {
	const op = "entitlement.PurgeDeletedUser"
	log := e.log.With(sl.Op(op), sl.User(userID))

	member, err := e.guild.Member(ctx, userID)
	if err != nil {
		if errors.Is(err, guild.ErrNotFound) {
			log.Warn("member already left, purging records only")
			e.cleanupRecords(ctx, userID, log)
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, roleID := range []string{e.cfg.RegisteredRoleID, e.cfg.VIPRoleID, e.cfg.AwaitingRoleID} {
		if err := e.guild.RemoveRole(ctx, userID, roleID); err != nil {
			log.Error("failed to remove role",
				slog.String("role_id", roleID), sl.Err(err))
		}
	}
	e.cleanupRecords(ctx, userID, log)
	log.Info("deleted user purged")

	embed := &guild.Embed{
		Title:       "🚫 Usuário Excluído",
		Description: "O registro do usuário foi excluído e todas as permissões foram removidas.",
		Color:       guild.ColorError,
		Fields: []guild.EmbedField{
			{Name: "👤 Usuário", Value: member.Username, Inline: true},
			{Name: "🆔 ID", Value: member.UserID, Inline: true},
			{Name: "🕒 Horário", Value: brtime.Stamp(time.Now()), Inline: true},
		},
	}
	if err := e.guild.SendEmbed(ctx, e.cfg.RemovalsChannelID, "", embed); err != nil {
		log.Error("failed to log user removal", sl.Err(err))
	}
	return nil
}

// reportRoleFailure сообщает операторам о сбое смены ролей; особенно
// важно для ErrHierarchy — его чинят только руками, подняв роль бота.
func (e *Engine) reportRoleFailure(ctx context.Context, member *guild.Member, cause error, log *slog.Logger) {
	description := "Falha ao atualizar os cargos do usuário. A revogação será repetida no próximo ciclo."
	if errors.Is(cause, guild.ErrHierarchy) {
		description = "O cargo do bot está abaixo do cargo alvo na hierarquia. Mova o cargo do bot para cima e a revogação será repetida automaticamente."
	}
	embed := &guild.Embed{
		Title:       "⚠️ Falha na Troca de Cargos",
		Description: description,
		Color:       guild.ColorError,
		Fields: []guild.EmbedField{
			{Name: "👤 Usuário", Value: member.Username, Inline: true},
			{Name: "🆔 ID", Value: member.UserID, Inline: true},
			{Name: "❗ Erro", Value: cause.Error(), Inline: false},
		},
	}
	if err := e.guild.SendEmbed(ctx, e.cfg.BotLogChannelID, "", embed); err != nil {
		log.Error("failed to report role failure", sl.Err(err))
	}
}
