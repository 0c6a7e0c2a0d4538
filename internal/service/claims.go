package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/claimiq/internal/domain/claimstate"
	"github.com/bigkaa/claimiq/internal/domain/model"
	"github.com/bigkaa/claimiq/internal/domain/tenant"
	"github.com/bigkaa/claimiq/internal/repository"
)

// AuditReader — чтение журнала аудита претензии.
type AuditReader interface {
	ListByClaim(ctx context.Context, tenantID, claimID string) ([]*model.AuditEntry, error)
}

// ClaimService — чтение претензий tenant и внешние переходы статусов.
type ClaimService struct {
	claims repository.ClaimRepository
	audit  AuditRecorder
	trail  AuditReader
	logger *slog.Logger
}

// NewClaimService создаёт сервис претензий. trail может быть nil,
// если журнал аудита хранится вне PostgreSQL.
func NewClaimService(claims repository.ClaimRepository, auditLog AuditRecorder, trail AuditReader, logger *slog.Logger) *ClaimService {
	return &ClaimService{
		claims: claims,
		audit:  auditLog,
		trail:  trail,
		logger: logger.With(slog.String("component", "claim_service")),
	}
}

// ListParams — параметры списка претензий.
type ListParams struct {
	Status     *claimstate.Status
	HospitalID *string
	Limit      int
	Offset     int
}

// ListResult — страница претензий.
type ListResult struct {
	Claims []*model.Claim
	Total  int
}

// List возвращает претензии tenant вызывающего.
func (s *ClaimService) List(ctx context.Context, tc tenant.Context, params ListParams) (*ListResult, error) {
	if tc.IsZero() {
		return nil, fmt.Errorf("%w: контекст tenant не задан", ErrValidation)
	}
	filters := repository.ClaimListFilters{Status: params.Status, HospitalID: params.HospitalID}

	claims, err := s.claims.List(ctx, tc.TenantID(), filters, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	total, err := s.claims.Count(ctx, tc.TenantID(), filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return &ListResult{Claims: claims, Total: total}, nil
}

// Get возвращает претензию tenant.
func (s *ClaimService) Get(ctx context.Context, tc tenant.Context, claimID string) (*model.Claim, error) {
	return getClaim(ctx, s.claims, tc, claimID)
}

// TransitionRequest — запрос перехода статуса.
type TransitionRequest struct {
	From   claimstate.Status
	To     claimstate.Status
	Reason *string
}

// Transition выполняет условный переход from → to. Недопустимый переход
// (в том числе любой выход из UPLOAD_PENDING) — *claimstate.TransitionError;
// претензия в другом статусе — ErrTransitionLost. Reason попадает в журнал
// аудита и в error_message только для FAILED и MANUAL_REVIEW_REQUIRED.
func (s *ClaimService) Transition(ctx context.Context, tc tenant.Context, claimID string, req TransitionRequest) (*model.Claim, error) {
	if _, err := getClaim(ctx, s.claims, tc, claimID); err != nil {
		return nil, err
	}
	if err := claimstate.ValidateExternal(req.From, req.To); err != nil {
		transitionsTotal.WithLabelValues(string(req.To), "invalid").Inc()
		return nil, err
	}

	moved, err := s.claims.Transition(ctx, tc.TenantID(), claimID, req.From, req.To, req.Reason)
	if err != nil {
		var te *claimstate.TransitionError
		if errors.As(err, &te) {
			transitionsTotal.WithLabelValues(string(req.To), "invalid").Inc()
			return nil, err
		}
		transitionsTotal.WithLabelValues(string(req.To), "error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	current, err := getClaim(ctx, s.claims, tc, claimID)
	if err != nil {
		return nil, err
	}

	if !moved {
		transitionsTotal.WithLabelValues(string(req.To), "lost").Inc()
		return current, fmt.Errorf("%w: ожидался %s, текущий %s", ErrTransitionLost, req.From, current.Status)
	}

	transitionsTotal.WithLabelValues(string(req.To), "ok").Inc()
	s.logger.Info("Статус претензии изменён",
		slog.Any("tenant", tc),
		slog.String("claim_id", claimID),
		slog.String("from", string(req.From)),
		slog.String("to", string(req.To)),
	)
	detail := map[string]any{
		"from":    string(req.From),
		"to":      string(req.To),
		"user_id": tc.UserID(),
	}
	if req.Reason != nil {
		detail["reason"] = *req.Reason
	}
	_ = s.audit.Record(ctx, model.AuditEntry{
		ClaimID:   claimID,
		TenantID:  tc.TenantID(),
		AgentType: model.AgentClaimsAPI,
		Action:    model.ActionStatusTransition,
		Outcome:   model.AuditSuccess,
		Detail:    detail,
	})
	return current, nil
}

// AuditTrail возвращает журнал аудита претензии tenant.
func (s *ClaimService) AuditTrail(ctx context.Context, tc tenant.Context, claimID string) ([]*model.AuditEntry, error) {
	if s.trail == nil {
		return nil, ErrAuditUnavailable
	}
	if _, err := getClaim(ctx, s.claims, tc, claimID); err != nil {
		return nil, err
	}

	entries, err := s.trail.ListByClaim(ctx, tc.TenantID(), claimID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return entries, nil
}
