package guild

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Discord реализует операции адаптера поверх сессии discordgo.
// Сессия должна быть открыта до использования: иерархические проверки
// опираются на s.State.User.
type Discord struct {
	s       *discordgo.Session
	guildID string
}

// NewDiscord создаёт адаптер для одного сервера.
func NewDiscord(s *discordgo.Session, guildID string) *Discord {
	return &Discord{s: s, guildID: guildID}
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) &&
		restErr.Response != nil &&
		restErr.Response.StatusCode == http.StatusNotFound
}

// Member возвращает участника сервера; ErrNotFound, если он ушёл.
func (d *Discord) Member(ctx context.Context, userID string) (*Member, error) {
	const op = "guild.Member"

	m, err := d.s.GuildMember(d.guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Member{
		UserID:   m.User.ID,
		Username: m.User.Username,
		RoleIDs:  m.Roles,
	}, nil
}

// checkHierarchy убеждается, что высшая роль бота выше целевой роли.
func (d *Discord) checkHierarchy(ctx context.Context, roleID string) error {
	const op = "guild.checkHierarchy"

	roles, err := d.s.GuildRoles(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	positions := make(map[string]int, len(roles))
	for _, r := range roles {
		positions[r.ID] = r.Position
	}

	target, ok := positions[roleID]
	if !ok {
		return fmt.Errorf("%s: role %s: %w", op, roleID, ErrNotFound)
	}

	botMember, err := d.s.GuildMember(d.guildID, d.s.State.User.ID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	highest := -1
	for _, id := range botMember.Roles {
		if pos, ok := positions[id]; ok && pos > highest {
			highest = pos
		}
	}

	if highest <= target {
		return fmt.Errorf("%s: role %s: %w", op, roleID, ErrHierarchy)
	}
	return nil
}

// AddRole выдаёт роль участнику после проверки иерархии. Идемпотентна.
func (d *Discord) AddRole(ctx context.Context, userID, roleID string) error {
	const op = "guild.AddRole"

	if err := d.checkHierarchy(ctx, roleID); err != nil {
		return err
	}
	if err := d.s.GuildMemberRoleAdd(d.guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RemoveRole снимает роль с участника после проверки иерархии. Идемпотентна.
func (d *Discord) RemoveRole(ctx context.Context, userID, roleID string) error {
	const op = "guild.RemoveRole"

	if err := d.checkHierarchy(ctx, roleID); err != nil {
		return err
	}
	if err := d.s.GuildMemberRoleRemove(d.guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreateMemberChannel создаёт текстовый канал в категории, видимый только
// участнику и боту: everyone — запрет просмотра, участник — просмотр,
// отправка и история, бот — то же плюс управление каналом.
func (d *Discord) CreateMemberChannel(ctx context.Context, name, categoryID, userID string) (string, error) {
	const op = "guild.CreateMemberChannel"

	memberAllow := int64(discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionReadMessageHistory)
	botAllow := memberAllow | int64(discordgo.PermissionManageChannels)

	ch, err := d.s.GuildChannelCreateComplex(d.guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: categoryID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{
				ID:   d.guildID,
				Type: discordgo.PermissionOverwriteTypeRole,
				Deny: int64(discordgo.PermissionViewChannel),
			},
			{
				ID:    userID,
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: memberAllow,
			},
			{
				ID:    d.s.State.User.ID,
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: botAllow,
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return ch.ID, nil
}

// DeleteChannel удаляет канал с причиной для журнала аудита.
func (d *Discord) DeleteChannel(ctx context.Context, channelID, reason string) error {
	const op = "guild.DeleteChannel"

	_, err := d.s.ChannelDelete(channelID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		if isNotFound(err) {
			// Канал уже удалён — цель достигнута.
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindChannelByName ищет существующий канал по точному имени.
func (d *Discord) FindChannelByName(ctx context.Context, name string) (string, error) {
	const op = "guild.FindChannelByName"

	channels, err := d.s.GuildChannels(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	for _, ch := range channels {
		if ch.Name == name {
			return ch.ID, nil
		}
	}
	return "", fmt.Errorf("%s: %q: %w", op, name, ErrNotFound)
}

func toDiscordEmbed(e *Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if e.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	return embed
}

// SendEmbed отправляет сообщение с эмбедом в канал.
func (d *Discord) SendEmbed(ctx context.Context, channelID, content string, embed *Embed) error {
	const op = "guild.SendEmbed"

	_, err := d.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Embed:   toDiscordEmbed(embed),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendEmbedWithFile отправляет эмбед с вложением (QR-код оплаты).
func (d *Discord) SendEmbedWithFile(ctx context.Context, channelID, content string, embed *Embed, file *File) error {
	const op = "guild.SendEmbedWithFile"

	msg := &discordgo.MessageSend{
		Content: content,
		Embed:   toDiscordEmbed(embed),
	}
	if file != nil {
		msg.Files = []*discordgo.File{{Name: file.Name, Reader: file.Reader}}
		msg.Embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + file.Name}
	}
	if _, err := d.s.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendDM отправляет личное сообщение участнику.
func (d *Discord) SendDM(ctx context.Context, userID, content string, embed *Embed) error {
	const op = "guild.SendDM"

	ch, err := d.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return d.SendEmbed(ctx, ch.ID, content, embed)
}

// MembersWithRole перечисляет участников с данной ролью, постранично
// обходя весь список участников сервера.
func (d *Discord) MembersWithRole(ctx context.Context, roleID string) ([]*Member, error) {
	const op = "guild.MembersWithRole"

	var result []*Member
	after := ""
	for {
		page, err := d.s.GuildMembers(d.guildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(page) == 0 {
			return result, nil
		}
		for _, m := range page {
			for _, id := range m.Roles {
				if id == roleID {
					result = append(result, &Member{
						UserID:   m.User.ID,
						Username: m.User.Username,
						RoleIDs:  m.Roles,
					})
					break
				}
			}
		}
		after = page[len(page)-1].User.ID
	}
}
