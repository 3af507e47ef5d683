// Package account — регистрация участников, бонусные купоны и сводка
// аккаунта для панели.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/go-playground/validator"

	"github.com/moneysplash/community-bot/internal/guild"
	"github.com/moneysplash/community-bot/internal/lib/brmoney"
	"github.com/moneysplash/community-bot/internal/lib/brtime"
	"github.com/moneysplash/community-bot/internal/lib/daysleft"
	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/models"
	"github.com/moneysplash/community-bot/internal/storage"
)

// Ошибки-сигналы сервиса; интеракции бота переводят их в ответы пользователю.
var (
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrInvalidPhone      = errors.New("invalid whatsapp number")
	ErrInvalidForm       = errors.New("invalid registration form")
	ErrCouponUnknown     = errors.New("unknown coupon code")
	ErrCouponAlreadyUsed = errors.New("coupon already used")
)

// Бразильский мобильный номер: DDD + 9 + восемь цифр.
var phonePattern = regexp.MustCompile(`^\d{2}9\d{8}$`)

const summaryTTL = time.Minute

// Store — операции хранилища, нужные сервису аккаунтов.
type Store interface {
	CreateUser(ctx context.Context, user models.User) (int64, error)
	EnsureBalance(ctx context.Context, userID string) error
	GetBalance(ctx context.Context, userID string) (int64, error)
	IncrementBalance(ctx context.Context, userID string, amountCents int64) error
	GetExpiration(ctx context.Context, userID string) (*models.ExpirationRecord, error)
	LastPayment(ctx context.Context, userID string) (*models.PaymentRecord, error)
	CouponUsed(ctx context.Context, userID, coupon string) (bool, error)
	InsertCouponUsage(ctx context.Context, userID, coupon string) error
}

// Cache — кэш сводок аккаунтов.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// GuildAdapter — операции платформы, нужные сервису аккаунтов.
type GuildAdapter interface {
	AddRole(ctx context.Context, userID, roleID string) error
	SendEmbed(ctx context.Context, channelID, content string, embed *guild.Embed) error
}

// Config — роли, каналы и параметры купона.
type Config struct {
	RegisteredRoleID   string
	WhatsappChannelID  string
	CouponLogChannelID string
	CouponCode         string
	CouponBonusCents   int64
}

// Service — сервис аккаунтов.
type Service struct {
	store    Store
	cache    Cache
	guild    GuildAdapter
	cfg      Config
	log      *slog.Logger
	validate *validator.Validate
}

// New создаёт новый сервис аккаунтов.
func New(store Store, cache Cache, g GuildAdapter, cfg Config, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		guild:    g,
		cfg:      cfg,
		log:      log,
		validate: validator.New(),
	}
}

func summaryKey(userID string) string {
	return "account:summary:" + userID
}

// Register обрабатывает форму регистрации: валидация, запись,
// нулевой баланс, роль зарегистрированного и отчёт операторам.
func (s *Service) Register(ctx context.Context, userID, username string, form models.RegistrationForm) error {
	const op = "account.Register"
	log := s.log.With(sl.Op(op), sl.User(userID))

	if err := s.validate.Struct(form); err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidForm)
	}
	if !phonePattern.MatchString(form.Whatsapp) {
		return fmt.Errorf("%s: %w", op, ErrInvalidPhone)
	}

	now := time.Now()
	if _, err := s.store.CreateUser(ctx, models.User{
		UserID:       userID,
		Name:         form.Name,
		Whatsapp:     form.Whatsapp,
		RegisteredAt: now,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return fmt.Errorf("%s: %w", op, ErrAlreadyRegistered)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.EnsureBalance(ctx, userID); err != nil {
		log.Error("failed to create balance record", sl.Err(err))
	}

	if err := s.guild.AddRole(ctx, userID, s.cfg.RegisteredRoleID); err != nil {
		log.Error("failed to grant registered role", sl.Err(err))
	}

	embed := &guild.Embed{
		Title:       "📝 Novo Registro",
		Description: "Um novo cliente se registrou no servidor.",
		Color:       guild.ColorInfo,
		Fields: []guild.EmbedField{
			{Name: "👤 Usuário", Value: username, Inline: true},
			{Name: "🆔 ID", Value: userID, Inline: true},
			{Name: "📛 Nome", Value: form.Name, Inline: true},
			{Name: "📱 WhatsApp", Value: form.Whatsapp, Inline: true},
			{Name: "🕒 Registrado em", Value: brtime.Stamp(now), Inline: true},
		},
	}
	if err := s.guild.SendEmbed(ctx, s.cfg.WhatsappChannelID, "", embed); err != nil {
		log.Error("failed to report registration", sl.Err(err))
	}

	log.Info("user registered", slog.String("name", form.Name))
	return nil
}

// RedeemCoupon применяет бонусный купон. Купон строго одноразовый
// для каждого пользователя: запись об использовании вставляется до
// начисления, повторная вставка упирается в первичный ключ.
func (s *Service) RedeemCoupon(ctx context.Context, userID, username, code string) (int64, error) {
	const op = "account.RedeemCoupon"
	log := s.log.With(sl.Op(op), sl.User(userID))

	if code != s.cfg.CouponCode {
		return 0, fmt.Errorf("%s: %w", op, ErrCouponUnknown)
	}

	used, err := s.store.CouponUsed(ctx, userID, code)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if used {
		return 0, fmt.Errorf("%s: %w", op, ErrCouponAlreadyUsed)
	}

	if err := s.store.InsertCouponUsage(ctx, userID, code); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return 0, fmt.Errorf("%s: %w", op, ErrCouponAlreadyUsed)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.IncrementBalance(ctx, userID, s.cfg.CouponBonusCents); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.cache.Invalidate(ctx, summaryKey(userID)); err != nil {
		log.Error("failed to invalidate summary cache", sl.Err(err))
	}

	embed := &guild.Embed{
		Title:       "🎟️ Cupom de Bônus Utilizado",
		Description: "Um cupom foi resgatado e o saldo creditado.",
		Color:       guild.ColorGold,
		Fields: []guild.EmbedField{
			{Name: "👤 Usuário", Value: username, Inline: true},
			{Name: "🆔 ID", Value: userID, Inline: true},
			{Name: "🎫 Cupom", Value: code, Inline: true},
			{Name: "💰 Bônus", Value: brmoney.FormatCents(s.cfg.CouponBonusCents), Inline: true},
		},
	}
	if err := s.guild.SendEmbed(ctx, s.cfg.CouponLogChannelID, "", embed); err != nil {
		log.Error("failed to report coupon usage", sl.Err(err))
	}

	log.Info("coupon redeemed",
		slog.String("coupon", code), slog.Int64("bonus_cents", s.cfg.CouponBonusCents))
	return s.cfg.CouponBonusCents, nil
}

// Summary собирает сводку аккаунта для панели. Сводка кэшируется на
// минуту: панель дёргают часто, а данные меняются редко.
func (s *Service) Summary(ctx context.Context, userID string) (*models.AccountSummary, error) {
	const op = "account.Summary"
	log := s.log.With(sl.Op(op), sl.User(userID))

	var cached models.AccountSummary
	found, err := s.cache.Get(ctx, summaryKey(userID), &cached)
	if err != nil {
		log.Error("summary cache read failed", sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	summary := models.AccountSummary{
		BalanceCents: balance,
		DaysLeft:     daysleft.Invalid,
	}
	if last, err := s.store.LastPayment(ctx, userID); err == nil {
		summary.LastPayment = last
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rec, err := s.store.GetExpiration(ctx, userID); err == nil {
		summary.ExpiresAt = &rec.ExpiresAt
		summary.DaysLeft = daysleft.Count(rec.ExpiresAt, time.Now())
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.cache.Set(ctx, summaryKey(userID), summary, summaryTTL); err != nil {
		log.Error("summary cache write failed", sl.Err(err))
	}
	return &summary, nil
}
