// Пакет workflow — запуск внешнего процесса восстановления (recovery workflow)
// после приёма претензии. Реализации: AWS Step Functions, HTTP-оркестратор,
// пустой запуск для окружений без оркестратора.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// TriggerSourceCompletion — запуск из обработчика завершения загрузки.
const TriggerSourceCompletion = "COMPLETION_EVENT"

// Request — полезная нагрузка запуска.
type Request struct {
	ClaimID          string    `json:"claimId"`
	TenantID         string    `json:"tenantId"`
	HospitalID       string    `json:"hospitalId"`
	StorageBucket    string    `json:"storageBucket"`
	StorageKey       string    `json:"storageKey"`
	FileHash         string    `json:"fileHash"`
	FileSize         int64     `json:"fileSize"`
	ContentType      string    `json:"contentType"`
	OriginalFilename string    `json:"originalFilename"`
	TriggerSource    string    `json:"triggerSource"`
	TriggeredAt      time.Time `json:"triggeredAt"`
}

// Execution — результат запуска.
type Execution struct {
	// ID — идентификатор запуска у оркестратора (ARN или id)
	ID string
	// AlreadyStarted — запуск для претензии уже существовал
	AlreadyStarted bool
}

// Trigger — запуск workflow. Реализации идемпотентны по ClaimID.
type Trigger interface {
	Start(ctx context.Context, req Request) (Execution, error)
}

// PermanentError — ошибка, повтор которой не имеет смысла.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent сообщает, что ошибка не исправится повтором.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// NoopTrigger только логирует запуск.
type NoopTrigger struct {
	logger *slog.Logger
}

// NewNoopTrigger создаёт пустой запуск.
func NewNoopTrigger(logger *slog.Logger) *NoopTrigger {
	return &NoopTrigger{logger: logger.With(slog.String("component", "workflow"))}
}

// Start реализует Trigger.
func (n *NoopTrigger) Start(_ context.Context, req Request) (Execution, error) {
	n.logger.Info("Оркестратор не настроен, запуск workflow пропущен",
		slog.String("claim_id", req.ClaimID),
		slog.String("tenant_id", req.TenantID),
	)
	return Execution{ID: "noop:" + req.ClaimID}, nil
}

var _ Trigger = (*NoopTrigger)(nil)
