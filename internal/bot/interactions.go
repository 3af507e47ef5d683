package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/moneysplash/community-bot/internal/guild"
	"github.com/moneysplash/community-bot/internal/lib/brmoney"
	"github.com/moneysplash/community-bot/internal/lib/brtime"
	"github.com/moneysplash/community-bot/internal/lib/daysleft"
	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/models"
	"github.com/moneysplash/community-bot/internal/services/account"
)

func (b *Bot) onInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		b.onComponent(ctx, i)
	case discordgo.InteractionModalSubmit:
		b.onModalSubmit(ctx, i)
	}
}

func interactionUser(i *discordgo.InteractionCreate) (userID, username string) {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID, i.Member.User.Username
	}
	if i.User != nil {
		return i.User.ID, i.User.Username
	}
	return "", ""
}

func (b *Bot) onComponent(ctx context.Context, i *discordgo.InteractionCreate) {
	const op = "bot.onComponent"
	userID, username := interactionUser(i)
	customID := i.MessageComponentData().CustomID
	log := b.log.With(sl.Op(op), sl.User(userID), slog.String("component", customID))

	switch customID {
	case buttonOpenRegistration:
		b.openRegistrationModal(ctx, i, log)
	case buttonBuySubscription:
		b.startPixPurchase(ctx, i, userID, username, log)
	case buttonRedeemCoupon:
		b.openCouponModal(ctx, i, log)
	case buttonCheckBalance:
		b.showBalance(ctx, i, userID, log)
	default:
		log.Warn("unknown component interaction")
	}
}

func (b *Bot) onModalSubmit(ctx context.Context, i *discordgo.InteractionCreate) {
	const op = "bot.onModalSubmit"
	userID, username := interactionUser(i)
	data := i.ModalSubmitData()
	log := b.log.With(sl.Op(op), sl.User(userID), slog.String("modal", data.CustomID))

	switch data.CustomID {
	case modalRegistration:
		b.submitRegistration(ctx, i, userID, username, data, log)
	case modalCoupon:
		b.submitCoupon(ctx, i, userID, username, data, log)
	default:
		log.Warn("unknown modal submission")
	}
}

func modalValue(data discordgo.ModalSubmitInteractionData, fieldID string) string {
	for _, row := range data.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, component := range actionsRow.Components {
			input, ok := component.(*discordgo.TextInput)
			if ok && input.CustomID == fieldID {
				return input.Value
			}
		}
	}
	return ""
}

func (b *Bot) respondEphemeral(ctx context.Context, i *discordgo.InteractionCreate, content string, embed *discordgo.MessageEmbed, log *slog.Logger) {
	data := &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}
	if embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{embed}
	}
	err := b.s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
	if err != nil {
		log.Error("failed to respond to interaction", sl.Err(err))
	}
}

func (b *Bot) openRegistrationModal(ctx context.Context, i *discordgo.InteractionCreate, log *slog.Logger) {
	err := b.s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: modalRegistration,
			Title:    "Registro de Cliente",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    fieldName,
						Label:       "Nome completo",
						Style:       discordgo.TextInputShort,
						Placeholder: "João da Silva",
						Required:    true,
						MinLength:   2,
						MaxLength:   100,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    fieldWhatsapp,
						Label:       "WhatsApp (DDD + número)",
						Style:       discordgo.TextInputShort,
						Placeholder: "11987654321",
						Required:    true,
						MinLength:   11,
						MaxLength:   11,
					},
				}},
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		log.Error("failed to open registration modal", sl.Err(err))
	}
}

func (b *Bot) submitRegistration(ctx context.Context, i *discordgo.InteractionCreate, userID, username string, data discordgo.ModalSubmitInteractionData, log *slog.Logger) {
	form := models.RegistrationForm{
		Name:     modalValue(data, fieldName),
		Whatsapp: modalValue(data, fieldWhatsapp),
	}

	err := b.accounts.Register(ctx, userID, username, form)
	switch {
	case err == nil:
		b.respondEphemeral(ctx, i, "✅ Registro concluído! Seu acesso foi liberado.", nil, log)
	case errors.Is(err, account.ErrAlreadyRegistered):
		b.respondEphemeral(ctx, i, "⚠️ Você já está registrado.", nil, log)
	case errors.Is(err, account.ErrInvalidPhone):
		b.respondEphemeral(ctx, i, "❌ Número de WhatsApp inválido. Use o formato DDD + 9 + número, ex.: 11987654321.", nil, log)
	case errors.Is(err, account.ErrInvalidForm):
		b.respondEphemeral(ctx, i, "❌ Formulário inválido. Verifique os campos e tente novamente.", nil, log)
	default:
		log.Error("registration failed", sl.Err(err))
		b.respondEphemeral(ctx, i, "❌ Não foi possível concluir o registro. Tente novamente em instantes.", nil, log)
	}
}

func (b *Bot) startPixPurchase(ctx context.Context, i *discordgo.InteractionCreate, userID, username string, log *slog.Logger) {
	channelID, err := b.payments.CreatePix(ctx, userID, username)
	if err != nil {
		log.Error("failed to create pix invoice", sl.Err(err))
		b.respondEphemeral(ctx, i, "❌ Não foi possível gerar o PIX agora. Tente novamente em instantes.", nil, log)
		return
	}
	b.respondEphemeral(ctx, i,
		fmt.Sprintf("💳 PIX gerado! Acesse <#%s> para pagar. O canal se autodestrói em 10 minutos.", channelID),
		nil, log)
}

func (b *Bot) openCouponModal(ctx context.Context, i *discordgo.InteractionCreate, log *slog.Logger) {
	err := b.s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: modalCoupon,
			Title:    "Resgatar Cupom",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    fieldCoupon,
						Label:       "Código do cupom",
						Style:       discordgo.TextInputShort,
						Placeholder: "CUPOM123",
						Required:    true,
						MaxLength:   32,
					},
				}},
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		log.Error("failed to open coupon modal", sl.Err(err))
	}
}

func (b *Bot) submitCoupon(ctx context.Context, i *discordgo.InteractionCreate, userID, username string, data discordgo.ModalSubmitInteractionData, log *slog.Logger) {
	code := modalValue(data, fieldCoupon)

	bonus, err := b.accounts.RedeemCoupon(ctx, userID, username, code)
	switch {
	case err == nil:
		b.respondEphemeral(ctx, i,
			fmt.Sprintf("🎟️ Cupom aplicado! %s creditados no seu saldo.", brmoney.FormatCents(bonus)), nil, log)
	case errors.Is(err, account.ErrCouponUnknown):
		b.respondEphemeral(ctx, i, "❌ Cupom inválido.", nil, log)
	case errors.Is(err, account.ErrCouponAlreadyUsed):
		b.respondEphemeral(ctx, i, "⚠️ Você já utilizou este cupom.", nil, log)
	default:
		log.Error("coupon redemption failed", sl.Err(err))
		b.respondEphemeral(ctx, i, "❌ Não foi possível aplicar o cupom. Tente novamente em instantes.", nil, log)
	}
}

func (b *Bot) showBalance(ctx context.Context, i *discordgo.InteractionCreate, userID string, log *slog.Logger) {
	summary, err := b.accounts.Summary(ctx, userID)
	if err != nil {
		log.Error("failed to build account summary", sl.Err(err))
		b.respondEphemeral(ctx, i, "❌ Não foi possível consultar seu saldo agora.", nil, log)
		return
	}

	embed := &discordgo.MessageEmbed{
		Title: "💵 Seu Saldo",
		Color: guild.ColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "💰 Saldo de Bônus", Value: brmoney.FormatCents(summary.BalanceCents), Inline: true},
		},
	}
	if summary.ExpiresAt != nil {
		validity := brtime.Stamp(*summary.ExpiresAt)
		if summary.DaysLeft != daysleft.Invalid && summary.DaysLeft > 0 {
			validity += fmt.Sprintf(" (%d dias restantes)", summary.DaysLeft)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "📅 Assinatura Válida Até", Value: validity, Inline: true,
		})
	} else {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "📅 Assinatura", Value: "Nenhuma assinatura ativa", Inline: true,
		})
	}
	if summary.LastPayment != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "🧾 Último Pagamento",
			Value: fmt.Sprintf("%s em %s",
				brmoney.FormatCents(summary.LastPayment.AmountCents),
				brtime.Date(summary.LastPayment.PaidAt)),
			Inline: true,
		})
	}
	b.respondEphemeral(ctx, i, "", embed, log)
}
