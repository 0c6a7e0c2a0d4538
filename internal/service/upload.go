package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/claimiq/internal/domain/admission"
	"github.com/bigkaa/claimiq/internal/domain/model"
	"github.com/bigkaa/claimiq/internal/domain/tenant"
	"github.com/bigkaa/claimiq/internal/repository"
	"github.com/bigkaa/claimiq/internal/storage/objectkey"
	"github.com/bigkaa/claimiq/internal/storage/objectstore"
)

// UploadPresigner — выдача presigned PUT.
type UploadPresigner interface {
	Bucket() string
	PresignPut(ctx context.Context, key, contentType string, meta map[string]string, ttl time.Duration) (*objectstore.PresignedPut, error)
}

// AuditRecorder — запись в журнал аудита.
type AuditRecorder interface {
	Record(ctx context.Context, e model.AuditEntry) error
}

// UploadRequest — параметры запроса на загрузку.
type UploadRequest struct {
	Filename    string
	ContentType string
	FileSize    int64
	// FileHash — заявленный SHA-256 (необязательный)
	FileHash string

	RequestID string
	SourceIP  string
	UserAgent string
}

// UploadDecision — результат запроса: *IssuedUpload или *DuplicateUpload.
type UploadDecision interface {
	isUploadDecision()
}

// IssuedUpload — выдано разрешение на загрузку, создана претензия UPLOAD_PENDING.
type IssuedUpload struct {
	ClaimID     string
	UploadID    string
	StorageKey  string
	ContentType string
	MaxFileSize int64
	Grant       *objectstore.PresignedPut
	ExpiresIn   time.Duration
}

// DuplicateUpload — файл с тем же отпечатком уже принят в этом tenant.
type DuplicateUpload struct {
	ExistingClaimID string
	FileHash        string
}

func (*IssuedUpload) isUploadDecision()    {}
func (*DuplicateUpload) isUploadDecision() {}

// UploadService — обработчик запросов на загрузку.
type UploadService struct {
	claims     repository.ClaimRepository
	store      UploadPresigner
	duplicates *DuplicateDetector
	audit      AuditRecorder
	policy     *admission.Policy
	presignTTL time.Duration
	logger     *slog.Logger
	newID      func() string
}

// NewUploadService создаёт сервис приёма запросов на загрузку.
func NewUploadService(
	claims repository.ClaimRepository,
	store UploadPresigner,
	duplicates *DuplicateDetector,
	auditLog AuditRecorder,
	policy *admission.Policy,
	presignTTL time.Duration,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		claims:     claims,
		store:      store,
		duplicates: duplicates,
		audit:      auditLog,
		policy:     policy,
		presignTTL: presignTTL,
		logger:     logger.With(slog.String("component", "upload_service")),
		newID:      uuid.NewString,
	}
}

// RequestUpload проверяет файл, ищет дубликат в tenant и выдаёт
// presigned PUT вместе с placeholder-претензией.
func (s *UploadService) RequestUpload(ctx context.Context, tc tenant.Context, req UploadRequest) (UploadDecision, error) {
	if tc.IsZero() {
		return nil, fmt.Errorf("%w: контекст tenant не задан", ErrValidation)
	}

	admitted, err := s.policy.Check(admission.Request{
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Size:        req.FileSize,
		Fingerprint: req.FileHash,
	})
	if err != nil {
		uploadDecisionsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if dup, err := s.findDuplicate(ctx, tc, admitted.Fingerprint); err != nil || dup != nil {
		return decisionOf(dup), err
	}

	claimID := s.newID()
	uploadID := s.newID()
	key := objectkey.Build(tc, claimID, uploadID, admitted.Extension)

	grant, err := s.store.PresignPut(ctx, key, admitted.ContentType,
		objectkey.Metadata(tc, claimID, uploadID, admitted.Filename), s.presignTTL)
	if err != nil {
		uploadDecisionsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("Ошибка подписи URL загрузки",
			slog.Any("tenant", tc),
			slog.String("claim_id", claimID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	claim := &model.Claim{
		ClaimID:          claimID,
		TenantID:         tc.TenantID(),
		HospitalID:       tc.HospitalID(),
		OriginalFilename: admitted.Filename,
		ContentType:      admitted.ContentType,
		DeclaredSize:     admitted.Size,
		DeclaredHash:     optional(admitted.Fingerprint),
		S3Bucket:         s.store.Bucket(),
		S3Key:            key,
		UploadID:         uploadID,
		UploadedBy:       optional(tc.UserID()),
		SourceIP:         optional(clip(req.SourceIP, 64)),
		UserAgent:        optional(clip(req.UserAgent, 512)),
		RequestID:        optional(clip(req.RequestID, 128)),
	}

	if err := s.claims.CreatePending(ctx, claim); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			// Параллельный запрос с тем же отпечатком успел раньше.
			if dup, lookupErr := s.findDuplicate(ctx, tc, admitted.Fingerprint); lookupErr != nil || dup != nil {
				return decisionOf(dup), lookupErr
			}
			uploadDecisionsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		case errors.Is(err, repository.ErrUnknownScope):
			uploadDecisionsTotal.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %s", ErrUnknownScope, tc)
		default:
			uploadDecisionsTotal.WithLabelValues("failed").Inc()
			s.logger.Error("Ошибка создания претензии",
				slog.Any("tenant", tc),
				slog.String("claim_id", claimID),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	s.duplicates.Remember(tc.TenantID(), admitted.Fingerprint, claimID)

	_ = s.audit.Record(ctx, model.AuditEntry{
		ClaimID:   claimID,
		TenantID:  tc.TenantID(),
		AgentType: model.AgentUploadHandler,
		Action:    model.ActionUploadGrantIssued,
		Outcome:   model.AuditSuccess,
		Detail: map[string]any{
			"hospital_id":   tc.HospitalID(),
			"upload_id":     uploadID,
			"storage_key":   key,
			"content_type":  admitted.ContentType,
			"declared_size": admitted.Size,
			"user_id":       tc.UserID(),
		},
	})

	uploadDecisionsTotal.WithLabelValues("issued").Inc()
	s.logger.Info("Выдано разрешение на загрузку",
		slog.Any("tenant", tc),
		slog.String("claim_id", claimID),
		slog.String("upload_id", uploadID),
		slog.String("content_type", admitted.ContentType),
		slog.Int64("declared_size", admitted.Size),
	)

	return &IssuedUpload{
		ClaimID:     claimID,
		UploadID:    uploadID,
		StorageKey:  key,
		ContentType: admitted.ContentType,
		MaxFileSize: s.policy.MaxSize(),
		Grant:       grant,
		ExpiresIn:   s.presignTTL,
	}, nil
}

// findDuplicate возвращает nil, nil, если дубликата нет.
func (s *UploadService) findDuplicate(ctx context.Context, tc tenant.Context, fingerprint string) (*DuplicateUpload, error) {
	existing, found, err := s.duplicates.Check(ctx, tc.TenantID(), fingerprint)
	if err != nil {
		uploadDecisionsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("Ошибка проверки дубликата",
			slog.Any("tenant", tc),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if !found {
		return nil, nil
	}

	uploadDecisionsTotal.WithLabelValues("duplicate").Inc()
	s.logger.Info("Файл уже загружен",
		slog.Any("tenant", tc),
		slog.String("existing_claim_id", existing),
	)
	return &DuplicateUpload{ExistingClaimID: existing, FileHash: fingerprint}, nil
}

// decisionOf не даёт typed nil попасть в интерфейс.
func decisionOf(d *DuplicateUpload) UploadDecision {
	if d == nil {
		return nil
	}
	return d
}

// GetUploadStatus возвращает претензию tenant. Чужая или неизвестная
// претензия — ErrNotFound.
func (s *UploadService) GetUploadStatus(ctx context.Context, tc tenant.Context, claimID string) (*model.Claim, error) {
	return getClaim(ctx, s.claims, tc, claimID)
}

func getClaim(ctx context.Context, claims repository.ClaimRepository, tc tenant.Context, claimID string) (*model.Claim, error) {
	if tc.IsZero() {
		return nil, ErrNotFound
	}
	if _, err := uuid.Parse(claimID); err != nil {
		return nil, ErrNotFound
	}

	c, err := claims.GetByID(ctx, tc.TenantID(), claimID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return c, nil
}

// clip обрезает строку до n байт (размеры колонок claims) и удаляет
// некорректные последовательности UTF-8, которые отверг бы PostgreSQL.
func clip(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.ToValidUTF8(s, "")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
