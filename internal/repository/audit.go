package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bigkaa/claimiq/internal/domain/model"
)

// AuditRepository — журнал аудита в таблице claim_audit_log (только добавление).
type AuditRepository interface {
	// Append добавляет запись. Повтор с тем же audit_id — ErrConflict.
	Append(ctx context.Context, e *model.AuditEntry) error
	// ListByClaim возвращает записи претензии tenant в хронологическом порядке.
	ListByClaim(ctx context.Context, tenantID, claimID string) ([]*model.AuditEntry, error)
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Append(ctx context.Context, e *model.AuditEntry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("ошибка сериализации detail: %w", err)
	}
	if e.Detail == nil {
		detail = []byte("{}")
	}

	query := `
		INSERT INTO claim_audit_log (audit_id, claim_id, tenant_id, agent_type, action,
			outcome, error_message, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		e.AuditID, e.ClaimID, e.TenantID, e.AgentType, e.Action,
		string(e.Outcome), e.ErrorMessage, detail, e.CreatedAt,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return fmt.Errorf("%w: запись аудита %s", ErrConflict, e.AuditID)
		}
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByClaim(ctx context.Context, tenantID, claimID string) ([]*model.AuditEntry, error) {
	query := `
		SELECT audit_id::text, claim_id::text, tenant_id, agent_type, action, outcome,
			error_message, detail, created_at
		FROM claim_audit_log
		WHERE tenant_id = $1 AND claim_id = $2
		ORDER BY created_at, audit_id`

	rows, err := r.db.Query(ctx, query, tenantID, claimID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEntry
	for rows.Next() {
		e := &model.AuditEntry{}
		var outcome string
		var detail []byte
		if err := rows.Scan(&e.AuditID, &e.ClaimID, &e.TenantID, &e.AgentType, &e.Action,
			&outcome, &e.ErrorMessage, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		e.Outcome = model.AuditOutcome(outcome)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("ошибка разбора detail: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
