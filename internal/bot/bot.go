// Package bot — пользовательский интерфейс в Discord: закреплённые
// панели с кнопками, модальные формы и эфемерные ответы.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/moneysplash/community-bot/internal/config"
	"github.com/moneysplash/community-bot/internal/guild"
	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/models"
)

// Идентификаторы компонентов интерфейса.
const (
	buttonOpenRegistration = "abrir_formulario"
	buttonBuySubscription  = "assinar_vip"
	buttonRedeemCoupon     = "resgatar_cupom"
	buttonCheckBalance     = "consultar_saldo"
	modalRegistration      = "formulario_registro"
	modalCoupon            = "formulario_cupom"
	fieldName              = "campo_nome"
	fieldWhatsapp          = "campo_whatsapp"
	fieldCoupon            = "campo_cupom"
)

// Заголовки панелей; по ним существующие сообщения находятся при рестарте.
const (
	registrationPanelTitle = "📝 Registro de Cliente"
	clientPanelTitle       = "📥 Painel de Cliente - Assinatura VIP"
)

// Accounts — операции сервиса аккаунтов, нужные интерфейсу.
type Accounts interface {
	Register(ctx context.Context, userID, username string, form models.RegistrationForm) error
	RedeemCoupon(ctx context.Context, userID, username, code string) (int64, error)
	Summary(ctx context.Context, userID string) (*models.AccountSummary, error)
}

// Payments — операции платёжного сервиса, нужные интерфейсу.
type Payments interface {
	CreatePix(ctx context.Context, userID, username string) (string, error)
}

// Bot владеет интеракциями и панелями.
type Bot struct {
	s        *discordgo.Session
	accounts Accounts
	payments Payments
	cfg      config.Discord
	log      *slog.Logger
}

// New создаёт интерфейс бота поверх открытой сессии.
func New(s *discordgo.Session, accounts Accounts, payments Payments, cfg config.Discord, log *slog.Logger) *Bot {
	return &Bot{
		s:        s,
		accounts: accounts,
		payments: payments,
		cfg:      cfg,
		log:      log,
	}
}

// Setup вешает обработчик интеракций и приводит панели к актуальному
// виду. Панели идемпотентны: существующее сообщение редактируется,
// отсутствующее создаётся и закрепляется.
func (b *Bot) Setup(ctx context.Context) error {
	const op = "bot.Setup"

	b.s.AddHandler(b.onInteraction)

	if err := b.upsertPanel(ctx, b.cfg.RegisterChannelID, registrationPanel()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := b.upsertPanel(ctx, b.cfg.PanelChannelID, clientPanel()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	b.log.Info("interface panels ready")
	return nil
}

type panel struct {
	embed      *discordgo.MessageEmbed
	components []discordgo.MessageComponent
}

func registrationPanel() panel {
	return panel{
		embed: &discordgo.MessageEmbed{
			Title:       registrationPanelTitle,
			Description: "Clique no botão abaixo para se registrar e liberar o acesso aos canais da comunidade.",
			Color:       guild.ColorInfo,
		},
		components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Registrar",
					Style:    discordgo.PrimaryButton,
					CustomID: buttonOpenRegistration,
					Emoji:    &discordgo.ComponentEmoji{Name: "📝"},
				},
			}},
		},
	}
}

func clientPanel() panel {
	return panel{
		embed: &discordgo.MessageEmbed{
			Title: clientPanelTitle,
			Description: "Gerencie sua assinatura VIP:\n\n" +
				"💳 **Assinar VIP** — gera um PIX para ativar ou renovar\n" +
				"🎟️ **Resgatar Cupom** — credita bônus no seu saldo\n" +
				"💵 **Consultar Saldo** — mostra saldo, validade e último pagamento",
			Color: guild.ColorGold,
		},
		components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Assinar VIP",
					Style:    discordgo.SuccessButton,
					CustomID: buttonBuySubscription,
					Emoji:    &discordgo.ComponentEmoji{Name: "💳"},
				},
				discordgo.Button{
					Label:    "Resgatar Cupom",
					Style:    discordgo.SecondaryButton,
					CustomID: buttonRedeemCoupon,
					Emoji:    &discordgo.ComponentEmoji{Name: "🎟️"},
				},
				discordgo.Button{
					Label:    "Consultar Saldo",
					Style:    discordgo.SecondaryButton,
					CustomID: buttonCheckBalance,
					Emoji:    &discordgo.ComponentEmoji{Name: "💵"},
				},
			}},
		},
	}
}

func (b *Bot) upsertPanel(ctx context.Context, channelID string, p panel) error {
	const op = "bot.upsertPanel"
	log := b.log.With(sl.Op(op), slog.String("channel_id", channelID))

	messages, err := b.s.ChannelMessages(channelID, 10, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, msg := range messages {
		if msg.Author == nil || msg.Author.ID != b.s.State.User.ID {
			continue
		}
		if len(msg.Embeds) == 0 || msg.Embeds[0].Title != p.embed.Title {
			continue
		}
		_, err := b.s.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         msg.ID,
			Channel:    channelID,
			Embeds:     &[]*discordgo.MessageEmbed{p.embed},
			Components: &p.components,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		log.Info("panel updated", slog.String("title", p.embed.Title))
		return nil
	}

	msg, err := b.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embed:      p.embed,
		Components: p.components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := b.s.ChannelMessagePin(channelID, msg.ID, discordgo.WithContext(ctx)); err != nil {
		log.Error("failed to pin panel message", sl.Err(err))
	}
	log.Info("panel created", slog.String("title", p.embed.Title))
	return nil
}

// interactionTimeout ограничивает обработку одной интеракции; Discord
// ждёт ответ не дольше нескольких секунд.
const interactionTimeout = 10 * time.Second
