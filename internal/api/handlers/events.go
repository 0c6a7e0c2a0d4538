package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	apierrors "github.com/bigkaa/claimiq/internal/api/errors"
)

// maxEventBody — предел тела уведомления (уведомление содержит только ключи объектов).
const maxEventBody = 1 << 20

// EventHandler — обработка уведомления S3.
type EventHandler interface {
	Handle(ctx context.Context, ev events.S3Event) error
}

// EventsHandler — POST /events/s3, webhook уведомлений MinIO.
type EventsHandler struct {
	handler EventHandler
	token   string
	logger  *slog.Logger
}

// NewEventsHandler создаёт webhook. Пустой token отключает проверку Authorization.
func NewEventsHandler(handler EventHandler, token string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		handler: handler,
		token:   token,
		logger:  logger.With(slog.String("component", "events_webhook")),
	}
}

// ReceiveS3Event принимает уведомление. 5xx — MinIO повторит доставку.
func (h *EventsHandler) ReceiveS3Event(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && !h.authorized(r) {
		apierrors.Unauthorized(w, "Неверный токен webhook")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEventBody)
	var ev events.S3Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		apierrors.ValidationError(w, "Некорректное уведомление S3: "+err.Error())
		return
	}

	if err := h.handler.Handle(r.Context(), ev); err != nil {
		h.logger.Error("Уведомление обработано с ошибками, ожидается повтор",
			slog.Int("records", len(ev.Records)),
			slog.String("error", err.Error()),
		)
		apierrors.StoreUnavailable(w, "Событие не обработано, повторите доставку")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventsHandler) authorized(r *http.Request) bool {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}
