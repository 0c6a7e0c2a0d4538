// Пакет s3events — доставка уведомлений S3 (Lambda или webhook MinIO)
// в обработчик завершения загрузки.
package s3events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/bigkaa/claimiq/internal/service"
)

// Processor — обработка одного события создания объекта.
type Processor interface {
	Process(ctx context.Context, ev service.ObjectCreated) (service.CompletionOutcome, error)
}

// ObjectsCreated извлекает события ObjectCreated:* из уведомления.
// Ключ в уведомлении URL-кодирован (пробел — '+').
func ObjectsCreated(ev events.S3Event) ([]service.ObjectCreated, error) {
	var (
		out  []service.ObjectCreated
		errs []error
	)
	for _, rec := range ev.Records {
		name := rec.EventName
		if !strings.HasPrefix(name, "ObjectCreated:") && !strings.HasPrefix(name, "s3:ObjectCreated:") {
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			errs = append(errs, fmt.Errorf("некорректный ключ %q: %w", rec.S3.Object.Key, err))
			continue
		}
		out = append(out, service.ObjectCreated{
			Bucket:    rec.S3.Bucket.Name,
			Key:       key,
			Size:      rec.S3.Object.Size,
			EventTime: rec.EventTime,
		})
	}
	return out, errors.Join(errs...)
}

// Handler передаёт записи уведомления обработчику.
type Handler struct {
	proc   Processor
	logger *slog.Logger
}

// NewHandler создаёт обработчик уведомлений.
func NewHandler(proc Processor, logger *slog.Logger) *Handler {
	return &Handler{
		proc:   proc,
		logger: logger.With(slog.String("component", "s3events")),
	}
}

// Handle обрабатывает все записи. Ошибка хотя бы одной записи возвращается,
// чтобы доставка была повторена; остальные записи к тому моменту уже
// обработаны идемпотентно.
func (h *Handler) Handle(ctx context.Context, ev events.S3Event) error {
	objects, parseErr := ObjectsCreated(ev)
	if parseErr != nil {
		// Ключ, который нельзя декодировать, не станет корректным при повторе.
		h.logger.Warn("Пропущены записи уведомления", slog.String("error", parseErr.Error()))
	}

	var errs []error
	for _, obj := range objects {
		outcome, err := h.proc.Process(ctx, obj)
		if err != nil {
			h.logger.Error("Ошибка обработки события",
				slog.String("bucket", obj.Bucket),
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s/%s: %w", obj.Bucket, obj.Key, err))
			continue
		}
		h.logger.Debug("Событие обработано",
			slog.String("key", obj.Key),
			slog.String("outcome", string(outcome)),
		)
	}
	return errors.Join(errs...)
}
