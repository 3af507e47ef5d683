// Package communitybot собирает приложение: хранилище, кэш, сессия
// Discord, сервисы жизненного цикла подписок и HTTP-сервер вебхуков.
package communitybot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi"

	"github.com/moneysplash/community-bot/internal/bot"
	"github.com/moneysplash/community-bot/internal/cache"
	"github.com/moneysplash/community-bot/internal/channels"
	"github.com/moneysplash/community-bot/internal/config"
	"github.com/moneysplash/community-bot/internal/guild"
	"github.com/moneysplash/community-bot/internal/migrations"
	"github.com/moneysplash/community-bot/internal/models"
	"github.com/moneysplash/community-bot/internal/paymentprovider"
	accountservice "github.com/moneysplash/community-bot/internal/services/account"
	auditservice "github.com/moneysplash/community-bot/internal/services/audit"
	changefeedservice "github.com/moneysplash/community-bot/internal/services/changefeed"
	entitlementservice "github.com/moneysplash/community-bot/internal/services/entitlement"
	paymentservice "github.com/moneysplash/community-bot/internal/services/payment"
	scannerservice "github.com/moneysplash/community-bot/internal/services/scanner"
	"github.com/moneysplash/community-bot/internal/storage"
)

// weeklyPlanCode — код недельного тарифа в plan_prices.
const weeklyPlanCode = "weekly"

type App struct {
	server     *http.Server
	session    *discordgo.Session
	db         *storage.Storage
	feed       *storage.ChangeFeed
	dispatcher *changefeedservice.Dispatcher
	scanner    *scannerservice.Scanner
	auditor    *auditservice.Auditor
	cfg        *config.Config
	logger     *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "communitybot.New"

	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.UpsertPlanPrice(ctx, models.PlanPrice{
		Code:         weeklyPlanCode,
		PriceCents:   cfg.Plans.WeeklyPriceCents,
		DurationDays: cfg.Plans.WeeklyDurationDays,
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages
	if err = session.Open(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	adapter := guild.NewDiscord(session, cfg.Discord.GuildID)
	manager := channels.NewManager(adapter, logger)

	engine := entitlementservice.New(db, adapter, manager, entitlementservice.Config{
		VIPRoleID:             cfg.Discord.VIPRoleID,
		AwaitingRoleID:        cfg.Discord.AwaitingRoleID,
		RegisteredRoleID:      cfg.Discord.RegisteredRoleID,
		NotifyChannelID:       cfg.Discord.NotifyChannelID,
		BotLogChannelID:       cfg.Discord.BotLogChannelID,
		RemovalsChannelID:     cfg.Discord.RemovalsChannelID,
		ExpirationsCategoryID: cfg.Discord.ExpirationsCategoryID,
		WeeklyPlanCode:        weeklyPlanCode,
	}, logger)

	feed := db.NewChangeFeed(logger)
	dispatcher := changefeedservice.New(feed, db, engine, logger)
	scanner := scannerservice.New(db, engine, logger)
	auditor := auditservice.New(db, adapter, auditservice.Config{
		VIPRoleID:       cfg.Discord.VIPRoleID,
		AwaitingRoleID:  cfg.Discord.AwaitingRoleID,
		BotLogChannelID: cfg.Discord.BotLogChannelID,
	}, logger)

	provider := paymentprovider.NewClient(cfg.MercadoPago.AccessToken)
	payments := paymentservice.New(db, provider, adapter, manager, paymentservice.Config{
		VIPRoleID:            cfg.Discord.VIPRoleID,
		AwaitingRoleID:       cfg.Discord.AwaitingRoleID,
		PaymentsCategoryID:   cfg.Discord.PaymentsCategoryID,
		PaymentsLogChannelID: cfg.Discord.PaymentsLogChannelID,
		NotificationURL:      cfg.MercadoPago.PublicBaseURL + "/webhook/pix",
		WeeklyPlanCode:       weeklyPlanCode,
	}, logger)

	accounts := accountservice.New(db, cacheRedis, adapter, accountservice.Config{
		RegisteredRoleID:   cfg.Discord.RegisteredRoleID,
		WhatsappChannelID:  cfg.Discord.WhatsappChannelID,
		CouponLogChannelID: cfg.Discord.CouponLogChannelID,
		CouponCode:         cfg.Plans.CouponCode,
		CouponBonusCents:   cfg.Plans.CouponBonusCents,
	}, logger)

	ui := bot.New(session, accounts, payments, cfg.Discord, logger)
	if err = ui.Setup(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, payments, cfg.MercadoPago.WebhookSecret)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:     srv,
		session:    session,
		db:         db,
		feed:       feed,
		dispatcher: dispatcher,
		scanner:    scanner,
		auditor:    auditor,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run запускает фоновые контуры и HTTP-сервер и блокирует до отмены
// контекста или фатальной ошибки сервера.
func (a *App) Run(ctx context.Context) error {
	go a.feed.Run(ctx)
	go a.dispatcher.Run(ctx)
	a.scanner.Start(ctx)
	if a.cfg.Audit.Enabled {
		a.auditor.Schedule(ctx, a.cfg.Audit.Interval)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.scanner.Stop()
		if cerr := a.session.Close(); cerr != nil {
			a.logger.Error("failed to close discord session", slog.Any("err", cerr))
		}
		if cerr := a.db.DB.Close(); cerr != nil {
			a.logger.Error("failed to close storage", slog.Any("err", cerr))
		}
		return err
	}
}
