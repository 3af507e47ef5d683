// Package pixwebhook принимает уведомления Mercado Pago о платежах.
package pixwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/metrics"
)

type Service interface {
	ProcessWebhook(ctx context.Context, paymentID string) error
}

type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string // Секрет для проверки подписи x-signature
}

func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
	}
}

// Тело уведомления; используется, когда идентификатор не пришёл в query.
type Payload struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Проверка подписи x-signature: "ts=...,v1=...", где v1 — HMAC-SHA256
// от манифеста "id:{data.id};request-id:{x-request-id};ts:{ts};".
func (h *Handler) verifySignature(r *http.Request, dataID string) bool {
	signature := r.Header.Get("x-signature")
	if signature == "" {
		return false
	}

	var ts, v1 string
	for _, part := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	manifest := "id:" + dataID + ";request-id:" + r.Header.Get("x-request-id") + ";ts:" + ts + ";"
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(v1))
}

// ServeHTTP отвечает 200 сразу после валидации и обрабатывает платёж в
// фоне: провайдер считает медленный ответ сбоем доставки и ретраит,
// плодя дубликаты.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.pixwebhook"
	log := h.log.With(slog.String("op", op))

	eventType := r.URL.Query().Get("type")
	dataID := r.URL.Query().Get("data.id")

	// Нечитаемое или некорректное тело подтверждается сразу: провайдер
	// ретраит всё, что не 2xx, а такое событие не распарсится никогда.
	if dataID == "" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			metrics.WebhooksProcessed.WithLabelValues("ignored").Inc()
			log.Error("failed to read webhook body", sl.Err(err))
			w.WriteHeader(http.StatusOK)
			return
		}
		defer r.Body.Close()

		var payload Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			metrics.WebhooksProcessed.WithLabelValues("ignored").Inc()
			log.Error("failed to unmarshal webhook payload", sl.Err(err))
			w.WriteHeader(http.StatusOK)
			return
		}
		eventType = payload.Type
		dataID = payload.Data.ID
	}

	if eventType != "payment" || dataID == "" {
		metrics.WebhooksProcessed.WithLabelValues("ignored").Inc()
		log.Info("ignored webhook event", slog.String("type", eventType))
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.webhookSecret != "" && !h.verifySignature(r, dataID) {
		metrics.WebhooksProcessed.WithLabelValues("bad_signature").Inc()
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	log.Info("webhook accepted", slog.String("payment_id", dataID))
	w.WriteHeader(http.StatusOK)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.service.ProcessWebhook(ctx, dataID); err != nil {
			log.Error("failed to process webhook",
				slog.String("payment_id", dataID), sl.Err(err))
		}
	}()
}
