package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/claimiq/internal/api/errors"
	"github.com/bigkaa/claimiq/internal/api/middleware"
	"github.com/bigkaa/claimiq/internal/domain/claimstate"
	"github.com/bigkaa/claimiq/internal/domain/model"
	"github.com/bigkaa/claimiq/internal/domain/tenant"
	"github.com/bigkaa/claimiq/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ClaimService — операции с претензиями, используемые обработчиком.
type ClaimService interface {
	List(ctx context.Context, tc tenant.Context, params service.ListParams) (*service.ListResult, error)
	Get(ctx context.Context, tc tenant.Context, claimID string) (*model.Claim, error)
	Transition(ctx context.Context, tc tenant.Context, claimID string, req service.TransitionRequest) (*model.Claim, error)
	AuditTrail(ctx context.Context, tc tenant.Context, claimID string) ([]*model.AuditEntry, error)
}

// ClaimsHandler — /api/v1/claims.
type ClaimsHandler struct {
	svc    ClaimService
	logger *slog.Logger
}

// NewClaimsHandler создаёт обработчик претензий.
func NewClaimsHandler(svc ClaimService, logger *slog.Logger) *ClaimsHandler {
	return &ClaimsHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "claims_handler")),
	}
}

type claimListResponse struct {
	Items  []claimResponse `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type transitionRequestBody struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Reason *string `json:"reason,omitempty"`
}

type auditEntryResponse struct {
	AuditID      string         `json:"auditId"`
	AgentType    string         `json:"agentType"`
	Action       string         `json:"action"`
	Outcome      string         `json:"outcome"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// List — GET /api/v1/claims?status=&hospitalId=&limit=&offset=.
func (h *ClaimsHandler) List(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Контекст tenant не определён")
		return
	}

	params, err := parseListParams(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	res, err := h.svc.List(r.Context(), tc, params)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	items := make([]claimResponse, 0, len(res.Claims))
	for _, c := range res.Claims {
		items = append(items, toClaimResponse(c))
	}
	writeJSON(w, http.StatusOK, claimListResponse{
		Items:  items,
		Total:  res.Total,
		Limit:  params.Limit,
		Offset: params.Offset,
	})
}

func parseListParams(r *http.Request) (service.ListParams, error) {
	q := r.URL.Query()
	params := service.ListParams{Limit: defaultListLimit}

	if v := q.Get("status"); v != "" {
		s, err := claimstate.ParseStatus(v)
		if err != nil {
			return params, err
		}
		params.Status = &s
	}
	if v := q.Get("hospitalId"); v != "" {
		if !tenant.ValidID(v) {
			return params, fmt.Errorf("некорректный hospitalId: %q", v)
		}
		params.HospitalID = &v
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			return params, fmt.Errorf("limit должен быть в диапазоне 1-%d", maxListLimit)
		}
		params.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return params, errors.New("offset должен быть неотрицательным числом")
		}
		params.Offset = n
	}
	return params, nil
}

// Get — GET /api/v1/claims/{claimId}.
func (h *ClaimsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Контекст tenant не определён")
		return
	}

	c, err := h.svc.Get(r.Context(), tc, chi.URLParam(r, "claimId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimResponse(c))
}

// Transition — POST /api/v1/claims/{claimId}/transitions.
func (h *ClaimsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Контекст tenant не определён")
		return
	}

	var body transitionRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	from, err := claimstate.ParseStatus(body.From)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	to, err := claimstate.ParseStatus(body.To)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	c, err := h.svc.Transition(r.Context(), tc, chi.URLParam(r, "claimId"), service.TransitionRequest{
		From:   from,
		To:     to,
		Reason: body.Reason,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimResponse(c))
}

// AuditTrail — GET /api/v1/claims/{claimId}/audit.
func (h *ClaimsHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Контекст tenant не определён")
		return
	}

	entries, err := h.svc.AuditTrail(r.Context(), tc, chi.URLParam(r, "claimId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	items := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, auditEntryResponse{
			AuditID:      e.AuditID,
			AgentType:    e.AgentType,
			Action:       e.Action,
			Outcome:      string(e.Outcome),
			ErrorMessage: e.ErrorMessage,
			Detail:       e.Detail,
			CreatedAt:    e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
