// Package payment создаёт PIX-счета и выверяет подтверждения платежей
// из вебхуков провайдера: продление подписки, роли, история, списание
// использованного бонусного баланса.
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/moneysplash/community-bot/internal/channels"
	"github.com/moneysplash/community-bot/internal/guild"
	"github.com/moneysplash/community-bot/internal/lib/brmoney"
	"github.com/moneysplash/community-bot/internal/lib/brtime"
	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/metrics"
	"github.com/moneysplash/community-bot/internal/models"
	"github.com/moneysplash/community-bot/internal/paymentprovider"
	"github.com/moneysplash/community-bot/internal/storage"
)

// Минимальная сумма счёта: провайдер не принимает платежи дешевле.
const minChargeCents = 100

// referencePrefix превращает идентификатор платежа провайдера в
// уникальную ссылку истории, по которой дедуплицируются вебхуки.
const referencePrefix = "MP-"

// Store — операции хранилища, нужные платёжному сервису.
type Store interface {
	GetPlanPrice(ctx context.Context, code string) (*models.PlanPrice, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	DecrementBalance(ctx context.Context, userID string, amountCents int64) error
	HasPaymentReference(ctx context.Context, reference string) (bool, error)
	ApplyPayment(ctx context.Context, rec models.PaymentRecord, durationDays int) (time.Time, error)
	UpsertPendingChannel(ctx context.Context, userID, channelID string) error
	GetPendingChannel(ctx context.Context, userID string) (*models.PendingPaymentChannel, error)
	DeletePendingChannel(ctx context.Context, userID string) error
}

// Provider — платёжный провайдер.
type Provider interface {
	CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest, idempotencyKey string) (*paymentprovider.CreatePaymentResponse, error)
	GetPayment(ctx context.Context, paymentID string) (*paymentprovider.Payment, error)
}

// GuildAdapter — операции платформы, нужные платёжному сервису.
type GuildAdapter interface {
	Member(ctx context.Context, userID string) (*guild.Member, error)
	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	SendEmbed(ctx context.Context, channelID, content string, embed *guild.Embed) error
	SendEmbedWithFile(ctx context.Context, channelID, content string, embed *guild.Embed, file *guild.File) error
	SendDM(ctx context.Context, userID, content string, embed *guild.Embed) error
}

// ChannelManager — временные каналы оплаты.
type ChannelManager interface {
	Ensure(ctx context.Context, name, categoryID, userID string) (string, error)
	ScheduleDelete(channelID, reason string, after time.Duration, onDeleted func())
	DeleteNow(ctx context.Context, channelID, reason string) error
}

// Config — параметры платёжного сервиса.
type Config struct {
	VIPRoleID            string
	AwaitingRoleID       string
	PaymentsCategoryID   string
	PaymentsLogChannelID string
	NotificationURL      string
	WeeklyPlanCode       string
}

// Service — платёжный сервис.
type Service struct {
	store    Store
	provider Provider
	guild    GuildAdapter
	channels ChannelManager
	cfg      Config
	log      *slog.Logger
}

// New создаёт новый платёжный сервис.
func New(store Store, provider Provider, g GuildAdapter, ch ChannelManager, cfg Config, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		provider: provider,
		guild:    g,
		channels: ch,
		cfg:      cfg,
		log:      log,
	}
}

func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

func amountToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreatePix выставляет PIX-счёт на недельный план с учётом бонусного
// баланса и открывает приватный канал оплаты с QR-кодом. Канал живёт
// 10 минут: неоплаченный счёт сгорает вместе с ним.
func (s *Service) CreatePix(ctx context.Context, userID, username string) (string, error) {
	const op = "payment.CreatePix"
	log := s.log.With(sl.Op(op), sl.User(userID))

	plan, err := s.store.GetPlanPrice(ctx, s.cfg.WeeklyPlanCode)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	// Баланс уменьшает сумму счёта, но не ниже минимума провайдера.
	// Списание зарезервированной части происходит при подтверждении.
	chargeCents := plan.PriceCents
	balanceUsedCents := int64(0)
	if balance > 0 {
		chargeCents = plan.PriceCents - balance
		if chargeCents < minChargeCents {
			chargeCents = minChargeCents
		}
		balanceUsedCents = plan.PriceCents - chargeCents
	}

	resp, err := s.provider.CreatePayment(ctx, paymentprovider.CreatePaymentRequest{
		TransactionAmount: centsToAmount(chargeCents),
		Description:       "Assinatura VIP Semanal",
		PaymentMethodID:   "pix",
		Payer:             paymentprovider.Payer{Email: fmt.Sprintf("user-%s@splash.services", userID)},
		ExternalReference: userID,
		NotificationURL:   s.cfg.NotificationURL,
		Metadata: paymentprovider.PaymentMetadata{
			BalanceUsed:  centsToAmount(balanceUsedCents),
			PlanDuration: plan.DurationDays,
		},
	}, uuid.NewString())
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	channelID, err := s.channels.Ensure(ctx,
		channels.PaymentChannelName(username), s.cfg.PaymentsCategoryID, userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.UpsertPendingChannel(ctx, userID, channelID); err != nil {
		log.Error("failed to persist pending channel", sl.Err(err))
	}

	embed := &guild.Embed{
		Title:       "💳 Pagamento PIX Automatizado",
		Description: "Escaneie o QR Code abaixo ou use o código copia e cola para pagar. O canal se autodestrói em 10 minutos.",
		Color:       guild.ColorGold,
		Fields: []guild.EmbedField{
			{Name: "💰 Valor", Value: brmoney.FormatCents(chargeCents), Inline: true},
			{Name: "📅 Duração", Value: fmt.Sprintf("%d dias", plan.DurationDays), Inline: true},
		},
		Footer: "Após o pagamento, seu acesso é liberado automaticamente.",
	}
	if balanceUsedCents > 0 {
		embed.Fields = append(embed.Fields, guild.EmbedField{
			Name: "💵 Desconto do Saldo", Value: brmoney.FormatCents(balanceUsedCents), Inline: true,
		})
	}
	mention := fmt.Sprintf("<@%s>", userID)

	qr := resp.PointOfInteraction.TransactionData
	var file *guild.File
	if qr.QRCodeBase64 != "" {
		if png, err := base64.StdEncoding.DecodeString(qr.QRCodeBase64); err == nil {
			file = &guild.File{Name: "qrcode.png", Reader: bytes.NewReader(png)}
		} else {
			log.Warn("failed to decode qr code image", sl.Err(err))
		}
	}
	if err := s.guild.SendEmbedWithFile(ctx, channelID, mention, embed, file); err != nil {
		// Канал без счёта бесполезен: сносим, чтобы не висел пустым.
		if derr := s.channels.DeleteNow(ctx, channelID, "Falha ao enviar cobrança"); derr != nil {
			log.Error("failed to remove broken payment channel", sl.Err(derr))
		}
		if derr := s.store.DeletePendingChannel(ctx, userID); derr != nil {
			log.Error("failed to clear pending channel record", sl.Err(derr))
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if qr.QRCode != "" {
		codeEmbed := &guild.Embed{
			Title:       "📋 PIX Copia e Cola",
			Description: "```" + qr.QRCode + "```",
			Color:       guild.ColorInfo,
		}
		if err := s.guild.SendEmbed(ctx, channelID, "", codeEmbed); err != nil {
			log.Error("failed to send copy-paste code", sl.Err(err))
		}
	}

	s.channels.ScheduleDelete(channelID, "Canal de pagamento expirado (10min)", channels.PaymentTTL, func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.DeletePendingChannel(cleanupCtx, userID); err != nil {
			log.Error("failed to clear pending channel record", sl.Err(err))
		}
	})

	log.Info("pix invoice created",
		slog.Int64("payment_id", resp.ID),
		slog.Int64("charge_cents", chargeCents),
		slog.Int64("balance_used_cents", balanceUsedCents))
	return channelID, nil
}

// ProcessWebhook забирает платёж по идентификатору из вебхука и, если он
// оплачен, проводит его через выверку. Неоплаченные статусы игнорируются:
// провайдер пришлёт ещё один вебхук при смене статуса.
func (s *Service) ProcessWebhook(ctx context.Context, paymentID string) error {
	const op = "payment.ProcessWebhook"
	log := s.log.With(sl.Op(op), slog.String("payment_id", paymentID))

	p, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		metrics.WebhooksProcessed.WithLabelValues("fetch_error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	if p.Status != "approved" {
		metrics.WebhooksProcessed.WithLabelValues("ignored").Inc()
		log.Info("webhook ignored, payment not approved", slog.String("status", p.Status))
		return nil
	}

	approvedAt := time.Now()
	if t, err := time.Parse(time.RFC3339, p.DateApproved); err == nil {
		approvedAt = t
	}

	return s.HandleApprovedPayment(ctx, models.ApprovedPayment{
		Reference:        fmt.Sprintf("%s%d", referencePrefix, p.ID),
		UserID:           p.ExternalReference,
		AmountCents:      amountToCents(p.TransactionAmount),
		PlanDurationDays: p.Metadata.PlanDuration,
		BalanceUsedCents: amountToCents(p.Metadata.BalanceUsed),
		ApprovedAt:       approvedAt,
	})
}

// HandleApprovedPayment выверяет подтверждённый платёж. Повтор вебхука
// с уже обработанной ссылкой — no-op. Строка истории и продление
// фиксируются одной транзакцией: конкурирующая доставка того же платежа
// упирается в уникальную ссылку до того, как успеет продлить подписку.
// Продление отсчитывается от максимума из текущего момента и действующей
// даты истечения: досрочная оплата прибавляет дни, а не сбрасывает их.
func (s *Service) HandleApprovedPayment(ctx context.Context, p models.ApprovedPayment) error {
	const op = "payment.HandleApprovedPayment"
	log := s.log.With(sl.Op(op), sl.User(p.UserID), slog.String("reference", p.Reference))

	seen, err := s.store.HasPaymentReference(ctx, p.Reference)
	if err != nil {
		metrics.WebhooksProcessed.WithLabelValues("error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	if seen {
		metrics.WebhooksProcessed.WithLabelValues("duplicate").Inc()
		log.Info("payment already processed, skipping")
		return nil
	}

	durationDays := p.PlanDurationDays
	if durationDays <= 0 {
		plan, err := s.store.GetPlanPrice(ctx, s.cfg.WeeklyPlanCode)
		if err != nil {
			metrics.WebhooksProcessed.WithLabelValues("error").Inc()
			return fmt.Errorf("%s: %w", op, err)
		}
		durationDays = plan.DurationDays
	}

	newExpiresAt, err := s.store.ApplyPayment(ctx, models.PaymentRecord{
		UserID:      p.UserID,
		Reference:   p.Reference,
		AmountCents: p.AmountCents,
		PaidAt:      p.ApprovedAt,
	}, durationDays)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Конкурирующий вебхук успел первым.
			metrics.WebhooksProcessed.WithLabelValues("duplicate").Inc()
			log.Info("payment recorded concurrently, skipping")
			return nil
		}
		metrics.WebhooksProcessed.WithLabelValues("error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	// Роли — независимо друг от друга: сбой одной не блокирует другую,
	// дрейф доберёт лента изменений по свежей записи об истечении.
	if err := s.guild.AddRole(ctx, p.UserID, s.cfg.VIPRoleID); err != nil {
		log.Error("failed to grant vip role", sl.Err(err))
	}
	if err := s.guild.RemoveRole(ctx, p.UserID, s.cfg.AwaitingRoleID); err != nil {
		log.Error("failed to remove awaiting role", sl.Err(err))
	}

	if p.BalanceUsedCents > 0 {
		if err := s.store.DecrementBalance(ctx, p.UserID, p.BalanceUsedCents); err != nil {
			log.Error("failed to deduct used balance", sl.Err(err))
		}
	}

	s.confirm(ctx, p, newExpiresAt, log)
	metrics.WebhooksProcessed.WithLabelValues("approved").Inc()
	log.Info("payment reconciled",
		slog.Int64("amount_cents", p.AmountCents),
		slog.Time("new_expires_at", newExpiresAt))
	return nil
}

// confirm доставляет подтверждение пользователю и операторам; все
// отправки best-effort — платёж уже проведён.
func (s *Service) confirm(ctx context.Context, p models.ApprovedPayment, newExpiresAt time.Time, log *slog.Logger) {
	userEmbed := &guild.Embed{
		Title:       "✅ Assinatura Renovada!",
		Description: "Pagamento confirmado! Seu acesso VIP está ativo.",
		Color:       guild.ColorSuccess,
		Fields: []guild.EmbedField{
			{Name: "💰 Valor Pago", Value: brmoney.FormatCents(p.AmountCents), Inline: true},
			{Name: "📅 Válida Até", Value: brtime.Stamp(newExpiresAt), Inline: true},
		},
	}
	mention := fmt.Sprintf("<@%s>", p.UserID)

	delivered := false
	if pending, err := s.store.GetPendingChannel(ctx, p.UserID); err == nil {
		if err := s.guild.SendEmbed(ctx, pending.ChannelID, mention, userEmbed); err == nil {
			delivered = true
		}
		if err := s.store.DeletePendingChannel(ctx, p.UserID); err != nil {
			log.Error("failed to clear pending channel record", sl.Err(err))
		}
		s.channels.ScheduleDelete(pending.ChannelID, "Pagamento confirmado", time.Minute, nil)
	}
	if !delivered {
		if err := s.guild.SendDM(ctx, p.UserID, "", userEmbed); err != nil {
			log.Error("failed to dm payment confirmation", sl.Err(err))
		}
	}

	username := p.UserID
	if member, err := s.guild.Member(ctx, p.UserID); err == nil {
		username = member.Username
	}
	opsEmbed := &guild.Embed{
		Title:       "💰 Pagamento Confirmado",
		Description: "PIX aprovado e assinatura atualizada.",
		Color:       guild.ColorSuccess,
		Fields: []guild.EmbedField{
			{Name: "👤 Usuário", Value: username, Inline: true},
			{Name: "🆔 ID", Value: p.UserID, Inline: true},
			{Name: "💰 Valor", Value: brmoney.FormatCents(p.AmountCents), Inline: true},
			{Name: "🔖 Referência", Value: p.Reference, Inline: true},
			{Name: "📅 Nova Expiração", Value: brtime.Stamp(newExpiresAt), Inline: true},
		},
	}
	if p.BalanceUsedCents > 0 {
		opsEmbed.Fields = append(opsEmbed.Fields, guild.EmbedField{
			Name: "💵 Saldo Utilizado", Value: brmoney.FormatCents(p.BalanceUsedCents), Inline: true,
		})
	}
	if err := s.guild.SendEmbed(ctx, s.cfg.PaymentsLogChannelID, "", opsEmbed); err != nil {
		log.Error("failed to log payment", sl.Err(err))
	}
}
