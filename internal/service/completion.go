package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bigkaa/claimiq/internal/audit"
	"github.com/bigkaa/claimiq/internal/domain/claimstate"
	"github.com/bigkaa/claimiq/internal/domain/model"
	"github.com/bigkaa/claimiq/internal/repository"
	"github.com/bigkaa/claimiq/internal/storage/fingerprint"
	"github.com/bigkaa/claimiq/internal/storage/objectkey"
	"github.com/bigkaa/claimiq/internal/storage/objectstore"
	"github.com/bigkaa/claimiq/internal/workflow"
)

// ObjectReader — чтение загруженного объекта.
type ObjectReader interface {
	Head(ctx context.Context, bucket, key string) (*objectstore.ObjectInfo, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// ObjectCreated — уведомление о создании объекта в бакете.
type ObjectCreated struct {
	Bucket    string
	Key       string
	Size      int64
	EventTime time.Time
}

// CompletionOutcome — итог обработки события.
type CompletionOutcome string

const (
	// OutcomeIgnored — объект не относится к претензии или его контекст недостоверен.
	OutcomeIgnored CompletionOutcome = "ignored"
	// OutcomeAccepted — претензия переведена в NEW.
	OutcomeAccepted CompletionOutcome = "accepted"
	// OutcomeReplayed — повторная доставка, запись не изменилась.
	OutcomeReplayed CompletionOutcome = "replayed"
	// OutcomeManualReview — претензия переведена на ручную проверку.
	OutcomeManualReview CompletionOutcome = "manual_review"
)

// CompletionService — обработчик завершения загрузки.
type CompletionService struct {
	claims  repository.ClaimRepository
	objects ObjectReader
	trigger workflow.Trigger
	audit   AuditRecorder
	maxSize int64
	logger  *slog.Logger
	now     func() time.Time
}

// NewCompletionService создаёт обработчик завершения загрузки.
// maxSize — предел размера объекта; больший объект уходит на ручную проверку.
func NewCompletionService(
	claims repository.ClaimRepository,
	objects ObjectReader,
	trigger workflow.Trigger,
	auditLog AuditRecorder,
	maxSize int64,
	logger *slog.Logger,
) *CompletionService {
	return &CompletionService{
		claims:  claims,
		objects: objects,
		trigger: trigger,
		audit:   auditLog,
		maxSize: maxSize,
		logger:  logger.With(slog.String("component", "completion_processor")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process обрабатывает одно событие создания объекта.
// Ошибка означает, что доставку нужно повторить.
func (s *CompletionService) Process(ctx context.Context, ev ObjectCreated) (CompletionOutcome, error) {
	outcome, err := s.process(ctx, ev)
	if err != nil {
		completionsTotal.WithLabelValues("error").Inc()
		return outcome, err
	}
	completionsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

func (s *CompletionService) process(ctx context.Context, ev ObjectCreated) (CompletionOutcome, error) {
	info, err := s.objects.Head(ctx, ev.Bucket, ev.Key)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			s.logger.Warn("Объект из события отсутствует",
				slog.String("bucket", ev.Bucket),
				slog.String("key", ev.Key),
			)
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("%w: чтение метаданных %s/%s: %w", ErrPersistence, ev.Bucket, ev.Key, err)
	}

	tags, err := objectkey.ParseMetadata(info.Metadata)
	if err != nil {
		if errors.Is(err, objectkey.ErrNoClaimID) {
			s.logger.Debug("Объект не относится к претензии",
				slog.String("bucket", ev.Bucket),
				slog.String("key", ev.Key),
			)
			return OutcomeIgnored, nil
		}
		s.logger.Warn("Некорректные метаданные объекта, событие пропущено",
			slog.String("bucket", ev.Bucket),
			slog.String("key", ev.Key),
			slog.String("error", err.Error()),
		)
		return OutcomeIgnored, nil
	}

	if err := objectkey.VerifyKey(ev.Key, tags); err != nil {
		s.logger.Warn("Ключ объекта не согласован с метаданными, событие пропущено",
			slog.String("bucket", ev.Bucket),
			slog.String("key", ev.Key),
			slog.String("error", err.Error()),
		)
		return OutcomeIgnored, nil
	}

	log := s.logger.With(
		slog.Any("tenant", tags.Tenant),
		slog.String("claim_id", tags.ClaimID),
	)

	sum, err := s.fingerprint(ctx, ev.Bucket, ev.Key)
	if err != nil {
		if !unrecoverable(err) || ctx.Err() != nil {
			log.Warn("Ошибка чтения объекта, ожидается повторная доставка",
				slog.String("key", ev.Key),
				slog.String("error", err.Error()),
			)
			return "", fmt.Errorf("%w: чтение объекта %s/%s: %w", ErrPersistence, ev.Bucket, ev.Key, err)
		}
		return s.manualReview(ctx, log, tags, err)
	}

	won, err := s.claims.CompleteUpload(ctx, tags.Tenant.TenantID(), tags.Tenant.HospitalID(), tags.ClaimID,
		repository.UploadResult{
			FileHash:   sum.Hash,
			FileSize:   sum.Size,
			UploadedAt: s.now(),
		})
	if err != nil {
		log.Warn("Ошибка записи результата загрузки, ожидается повторная доставка",
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if !won {
		return s.replay(ctx, log, tags, ev.Key, sum)
	}

	log.Info("Загрузка принята",
		slog.String("file_hash", sum.Hash),
		slog.Int64("file_size", sum.Size),
	)
	_ = s.audit.Record(ctx, model.AuditEntry{
		ClaimID:   tags.ClaimID,
		TenantID:  tags.Tenant.TenantID(),
		AgentType: model.AgentCompletionProcessor,
		Action:    model.ActionUploadCompleted,
		Outcome:   model.AuditSuccess,
		Detail: map[string]any{
			"hospital_id": tags.Tenant.HospitalID(),
			"storage_key": ev.Key,
			"file_hash":   sum.Hash,
			"file_size":   sum.Size,
		},
	})

	s.startWorkflow(ctx, log, workflow.Request{
		ClaimID:          tags.ClaimID,
		TenantID:         tags.Tenant.TenantID(),
		HospitalID:       tags.Tenant.HospitalID(),
		StorageBucket:    ev.Bucket,
		StorageKey:       ev.Key,
		FileHash:         sum.Hash,
		FileSize:         sum.Size,
		ContentType:      info.ContentType,
		OriginalFilename: tags.OriginalFilename,
		TriggerSource:    workflow.TriggerSourceCompletion,
		TriggeredAt:      s.now(),
	})

	return OutcomeAccepted, nil
}

func (s *CompletionService) fingerprint(ctx context.Context, bucket, key string) (fingerprint.Result, error) {
	body, err := s.objects.Open(ctx, bucket, key)
	if err != nil {
		return fingerprint.Result{}, err
	}
	defer body.Close()

	sum, err := fingerprint.Compute(ctx, body, s.maxSize)
	completionBytesTotal.Add(float64(sum.Size))
	return sum, err
}

// unrecoverable — повтор доставки не изменит результат: объект больше
// предела или удалён после HEAD. Остальные ошибки чтения временные.
func unrecoverable(err error) bool {
	return errors.Is(err, fingerprint.ErrTooLarge) || errors.Is(err, objectstore.ErrObjectNotFound)
}

// replay обрабатывает повторную доставку. Если объект принятой претензии
// перезаписан (тот же ключ, другой отпечаток), претензия уходит на ручную
// проверку: workflow прочитал бы не те байты, что записаны в отпечатке.
func (s *CompletionService) replay(ctx context.Context, log *slog.Logger, tags objectkey.Tags, key string, sum fingerprint.Result) (CompletionOutcome, error) {
	detail := map[string]any{
		"hospital_id": tags.Tenant.HospitalID(),
		"file_hash":   sum.Hash,
		"file_size":   sum.Size,
	}

	c, err := s.claims.GetByID(ctx, tags.Tenant.TenantID(), tags.ClaimID)
	if err == nil {
		detail["current_status"] = string(c.Status)
		if stored := c.Fingerprint(); stored != "" && stored != sum.Hash {
			detail["stored_hash"] = stored
		}
		if overwritten(c, tags, key, sum) {
			return s.contentChanged(ctx, log, c, sum)
		}
	}

	log.Warn("Повторное событие завершения, запись не изменена",
		slog.String("file_hash", sum.Hash),
	)
	_ = s.audit.Record(ctx, model.AuditEntry{
		ClaimID:   tags.ClaimID,
		TenantID:  tags.Tenant.TenantID(),
		AgentType: model.AgentCompletionProcessor,
		Action:    model.ActionUploadCompletionReplayed,
		Outcome:   model.AuditWarning,
		Detail:    detail,
	})
	return OutcomeReplayed, nil
}

// overwritten — объект принятой претензии той же больницы заменён другим содержимым.
func overwritten(c *model.Claim, tags objectkey.Tags, key string, sum fingerprint.Result) bool {
	return c.HospitalID == tags.Tenant.HospitalID() &&
		c.S3Key == key &&
		c.FileHash != nil && *c.FileHash != sum.Hash &&
		c.Status != claimstate.StatusManualReview
}

func (s *CompletionService) contentChanged(ctx context.Context, log *slog.Logger, c *model.Claim, sum fingerprint.Result) (CompletionOutcome, error) {
	reason := fmt.Sprintf("содержимое объекта изменено после приёма: записан %s, получен %s", *c.FileHash, sum.Hash)
	log.Error("Объект принятой претензии перезаписан",
		slog.String("status", string(c.Status)),
		slog.String("stored_hash", *c.FileHash),
		slog.String("file_hash", sum.Hash),
	)

	moved, err := s.claims.Transition(ctx, c.TenantID, c.ClaimID, c.Status, claimstate.StatusManualReview, &reason)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !moved {
		// Статус изменился между чтением и записью; следующая доставка увидит новый.
		return "", fmt.Errorf("%w: претензия %s сменила статус %s", ErrTransitionLost, c.ClaimID, c.Status)
	}

	_ = s.audit.Record(ctx, model.AuditEntry{
		ClaimID:      c.ClaimID,
		TenantID:     c.TenantID,
		AgentType:    model.AgentCompletionProcessor,
		Action:       model.ActionUploadCompletionFailed,
		Outcome:      model.AuditError,
		ErrorMessage: &reason,
		Detail: map[string]any{
			"hospital_id": c.HospitalID,
			"from_status": string(c.Status),
			"stored_hash": *c.FileHash,
			"file_hash":   sum.Hash,
			"file_size":   sum.Size,
			"storage_key": c.S3Key,
		},
	})
	return OutcomeManualReview, nil
}

func (s *CompletionService) startWorkflow(ctx context.Context, log *slog.Logger, req workflow.Request) {
	exec, err := s.trigger.Start(ctx, req)
	if err != nil {
		workflowTriggersTotal.WithLabelValues("failed").Inc()
		log.Error("Ошибка запуска workflow",
			slog.Bool("permanent", workflow.IsPermanent(err)),
			slog.String("error", err.Error()),
		)
		_ = s.audit.Record(ctx, model.AuditEntry{
			ClaimID:      req.ClaimID,
			TenantID:     req.TenantID,
			AgentType:    model.AgentCompletionProcessor,
			Action:       model.ActionWorkflowTrigger,
			Outcome:      model.AuditError,
			ErrorMessage: audit.ErrorText(err),
			Detail:       map[string]any{"trigger_source": req.TriggerSource},
		})
		return
	}

	result := "started"
	if exec.AlreadyStarted {
		result = "already_started"
	}
	workflowTriggersTotal.WithLabelValues(result).Inc()
	log.Info("Workflow запущен",
		slog.String("execution_id", exec.ID),
		slog.Bool("already_started", exec.AlreadyStarted),
	)
	_ = s.audit.Record(ctx, model.AuditEntry{
		ClaimID:   req.ClaimID,
		TenantID:  req.TenantID,
		AgentType: model.AgentCompletionProcessor,
		Action:    model.ActionWorkflowTrigger,
		Outcome:   model.AuditSuccess,
		Detail: map[string]any{
			"execution_id":    exec.ID,
			"already_started": exec.AlreadyStarted,
			"trigger_source":  req.TriggerSource,
		},
	})
}

// manualReview переводит претензию UPLOAD_PENDING → MANUAL_REVIEW_REQUIRED
// по неустранимой причине.
// Если запись не удалась, возвращается ошибка и доставка повторяется.
func (s *CompletionService) manualReview(ctx context.Context, log *slog.Logger, tags objectkey.Tags, cause error) (CompletionOutcome, error) {
	reason := cause.Error()
	switch {
	case errors.Is(cause, fingerprint.ErrTooLarge):
		reason = fmt.Sprintf("размер объекта превышает допустимый (%d байт)", s.maxSize)
	case errors.Is(cause, objectstore.ErrObjectNotFound):
		reason = "объект удалён до проверки содержимого"
	}

	moved, err := s.claims.Transition(ctx, tags.Tenant.TenantID(), tags.ClaimID,
		claimstate.StatusUploadPending, claimstate.StatusManualReview, &reason)
	if err != nil {
		log.Error("Не удалось перевести претензию на ручную проверку",
			slog.String("cause", reason),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %w (исходная ошибка: %s)", ErrUnrecoverable, err, reason)
	}

	if !moved {
		log.Warn("Претензия уже не ожидает загрузки, ручная проверка не назначена",
			slog.String("cause", reason),
		)
		_ = s.audit.Record(ctx, model.AuditEntry{
			ClaimID:      tags.ClaimID,
			TenantID:     tags.Tenant.TenantID(),
			AgentType:    model.AgentCompletionProcessor,
			Action:       model.ActionUploadCompletionReplayed,
			Outcome:      model.AuditWarning,
			ErrorMessage: &reason,
		})
		return OutcomeReplayed, nil
	}

	log.Error("Претензия переведена на ручную проверку", slog.String("cause", reason))
	_ = s.audit.Record(ctx, model.AuditEntry{
		ClaimID:      tags.ClaimID,
		TenantID:     tags.Tenant.TenantID(),
		AgentType:    model.AgentCompletionProcessor,
		Action:       model.ActionUploadCompletionFailed,
		Outcome:      model.AuditError,
		ErrorMessage: &reason,
		Detail:       map[string]any{"hospital_id": tags.Tenant.HospitalID()},
	})
	return OutcomeManualReview, nil
}
