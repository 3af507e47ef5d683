package communitybot

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moneysplash/community-bot/internal/http/handlers/pixwebhook"
	"github.com/moneysplash/community-bot/internal/http/middlewarectx"
	paymentservice "github.com/moneysplash/community-bot/internal/services/payment"
)

// RegisterRoutes регистрирует маршруты HTTP-сервера бота.
func RegisterRoutes(r chi.Router, logger *slog.Logger, payments *paymentservice.Service, webhookSecret string) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(logger))
		r.Post("/webhook/pix", pixwebhook.New(logger, payments, webhookSecret).ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())
}
