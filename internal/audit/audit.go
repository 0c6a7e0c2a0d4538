// Пакет audit — журнал аудита приёма претензий. Записи только добавляются;
// хранилище выбирается конфигурацией (PostgreSQL или DynamoDB).
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/claimiq/internal/domain/model"
)

// Sink — хранилище записей аудита.
type Sink interface {
	Append(ctx context.Context, e *model.AuditEntry) error
}

// Logger дополняет записи идентификатором и временем и пишет их в Sink.
// Ошибка записи логируется и возвращается; решение о её критичности
// принимает вызывающий.
type Logger struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewLogger создаёт журнал аудита поверх sink.
func NewLogger(sink Sink, logger *slog.Logger) *Logger {
	return &Logger{
		sink:   sink,
		logger: logger.With(slog.String("component", "audit")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record добавляет запись в журнал.
func (l *Logger) Record(ctx context.Context, e model.AuditEntry) error {
	if e.AuditID == "" {
		e.AuditID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}

	if err := l.sink.Append(ctx, &e); err != nil {
		l.logger.Error("Ошибка записи в журнал аудита",
			slog.String("claim_id", e.ClaimID),
			slog.String("tenant_id", e.TenantID),
			slog.String("action", e.Action),
			slog.String("outcome", string(e.Outcome)),
			slog.String("error", err.Error()),
		)
		return err
	}

	l.logger.Debug("Запись аудита добавлена",
		slog.String("audit_id", e.AuditID),
		slog.String("claim_id", e.ClaimID),
		slog.String("action", e.Action),
		slog.String("outcome", string(e.Outcome)),
	)
	return nil
}

// ErrorText возвращает указатель на текст ошибки для AuditEntry.ErrorMessage.
func ErrorText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
