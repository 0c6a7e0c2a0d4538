package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/claimiq/internal/domain/claimstate"
	"github.com/bigkaa/claimiq/internal/domain/model"
)

// ConstraintDeclaredHash — уникальность заявленного отпечатка в пределах tenant.
const ConstraintDeclaredHash = "uq_claims_tenant_declared_hash"

// ClaimRepository — доступ к таблице claims. Все методы чтения и записи
// принимают tenant id; претензия другого tenant неотличима от отсутствующей.
type ClaimRepository interface {
	// CreatePending вставляет placeholder в статусе UPLOAD_PENDING.
	CreatePending(ctx context.Context, c *model.Claim) error
	// GetByID возвращает претензию tenant по id.
	GetByID(ctx context.Context, tenantID, claimID string) (*model.Claim, error)
	// FindByFingerprint ищет претензию tenant с тем же отпечатком
	// (вычисленным или заявленным). Претензии на ручной проверке не учитываются.
	FindByFingerprint(ctx context.Context, tenantID, fingerprint string) (claimID string, err error)
	// List возвращает претензии tenant с фильтрацией.
	List(ctx context.Context, tenantID string, filters ClaimListFilters, limit, offset int) ([]*model.Claim, error)
	// Count возвращает количество претензий tenant с фильтрацией.
	Count(ctx context.Context, tenantID string, filters ClaimListFilters) (int, error)
	// CompleteUpload выполняет условный переход UPLOAD_PENDING → NEW.
	// false — строка не найдена в ожидаемом состоянии (повтор или чужой tenant).
	CompleteUpload(ctx context.Context, tenantID, hospitalID, claimID string, res UploadResult) (bool, error)
	// Transition выполняет условный переход from → to с проверкой по автомату.
	// errorMessage сохраняется только для FAILED и MANUAL_REVIEW_REQUIRED.
	Transition(ctx context.Context, tenantID, claimID string, from, to claimstate.Status, errorMessage *string) (bool, error)
}

// UploadResult — данные, вычисленные по загруженному объекту.
type UploadResult struct {
	FileHash   string
	FileSize   int64
	UploadedAt time.Time
}

// ClaimListFilters — фильтры списка претензий (tenant задаётся отдельно).
type ClaimListFilters struct {
	Status     *claimstate.Status
	HospitalID *string
}

type claimRepo struct {
	db DBTX
}

// NewClaimRepository создаёт репозиторий претензий.
func NewClaimRepository(db DBTX) ClaimRepository {
	return &claimRepo{db: db}
}

const claimColumns = `claim_id::text, tenant_id, hospital_id, status, original_filename, content_type,
	declared_size, declared_hash, file_hash, file_size, s3_bucket, s3_key, upload_id::text,
	uploaded_by, source_ip, user_agent, request_id, error_message,
	uploaded_at, created_at, updated_at`

func (r *claimRepo) CreatePending(ctx context.Context, c *model.Claim) error {
	if c.TenantID == "" || c.HospitalID == "" {
		return fmt.Errorf("placeholder без tenant/больницы недопустим")
	}

	query := `
		INSERT INTO claims (claim_id, tenant_id, hospital_id, status, original_filename,
			content_type, declared_size, declared_hash, s3_bucket, s3_key, upload_id,
			uploaded_by, source_ip, user_agent, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	c.Status = claimstate.StatusUploadPending
	err := r.db.QueryRow(ctx, query,
		c.ClaimID, c.TenantID, c.HospitalID, string(c.Status), c.OriginalFilename,
		c.ContentType, c.DeclaredSize, c.DeclaredHash, c.S3Bucket, c.S3Key, c.UploadID,
		c.UploadedBy, c.SourceIP, c.UserAgent, c.RequestID,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if constraint, ok := isUniqueViolation(err); ok {
			return fmt.Errorf("%w: %s", ErrConflict, constraint)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s/%s", ErrUnknownScope, c.TenantID, c.HospitalID)
		}
		return fmt.Errorf("ошибка создания претензии: %w", err)
	}
	return nil
}

func (r *claimRepo) GetByID(ctx context.Context, tenantID, claimID string) (*model.Claim, error) {
	query := `SELECT ` + claimColumns + `
		FROM claims
		WHERE tenant_id = $1 AND claim_id = $2`

	c, err := scanClaim(r.db.QueryRow(ctx, query, tenantID, claimID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения претензии: %w", err)
	}
	return c, nil
}

func (r *claimRepo) FindByFingerprint(ctx context.Context, tenantID, fingerprint string) (string, error) {
	query := `
		SELECT claim_id::text
		FROM claims
		WHERE tenant_id = $1
			AND (file_hash = $2 OR declared_hash = $2)
			AND status <> 'MANUAL_REVIEW_REQUIRED'
		ORDER BY created_at
		LIMIT 1`

	var claimID string
	if err := r.db.QueryRow(ctx, query, tenantID, fingerprint).Scan(&claimID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка поиска по отпечатку: %w", err)
	}
	return claimID, nil
}

// buildClaimWhere строит WHERE с обязательным условием tenant_id = $1.
func buildClaimWhere(tenantID string, filters ClaimListFilters) (string, []any) {
	where := "WHERE tenant_id = $1"
	args := []any{tenantID}

	if filters.Status != nil {
		args = append(args, string(*filters.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filters.HospitalID != nil {
		args = append(args, *filters.HospitalID)
		where += fmt.Sprintf(" AND hospital_id = $%d", len(args))
	}
	return where, args
}

func (r *claimRepo) List(ctx context.Context, tenantID string, filters ClaimListFilters, limit, offset int) ([]*model.Claim, error) {
	where, args := buildClaimWhere(tenantID, filters)
	argNum := len(args) + 1

	query := fmt.Sprintf(`SELECT %s
		FROM claims
		%s
		ORDER BY created_at DESC, claim_id
		LIMIT $%d OFFSET $%d`, claimColumns, where, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка претензий: %w", err)
	}
	defer rows.Close()

	var result []*model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования претензии: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *claimRepo) Count(ctx context.Context, tenantID string, filters ClaimListFilters) (int, error) {
	where, args := buildClaimWhere(tenantID, filters)

	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM claims "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта претензий: %w", err)
	}
	return count, nil
}

func (r *claimRepo) CompleteUpload(ctx context.Context, tenantID, hospitalID, claimID string, res UploadResult) (bool, error) {
	query := `
		UPDATE claims
		SET status = 'NEW', file_hash = $4, file_size = $5, uploaded_at = $6, error_message = NULL
		WHERE claim_id = $1 AND tenant_id = $2 AND hospital_id = $3 AND status = 'UPLOAD_PENDING'`

	tag, err := r.db.Exec(ctx, query, claimID, tenantID, hospitalID, res.FileHash, res.FileSize, res.UploadedAt)
	if err != nil {
		return false, fmt.Errorf("ошибка перехода UPLOAD_PENDING → NEW: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *claimRepo) Transition(ctx context.Context, tenantID, claimID string, from, to claimstate.Status, errorMessage *string) (bool, error) {
	if err := claimstate.Validate(from, to); err != nil {
		return false, err
	}
	// Сообщение хранится только у FAILED и MANUAL_REVIEW_REQUIRED, иначе очищается.
	if !claimstate.CarriesError(to) {
		errorMessage = nil
	}

	query := `
		UPDATE claims
		SET status = $4, error_message = $5
		WHERE claim_id = $1 AND tenant_id = $2 AND status = $3`

	tag, err := r.db.Exec(ctx, query, claimID, tenantID, string(from), string(to), errorMessage)
	if err != nil {
		return false, fmt.Errorf("ошибка перехода %s → %s: %w", from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// scanClaim читает строку в порядке claimColumns.
func scanClaim(row pgx.Row) (*model.Claim, error) {
	c := &model.Claim{}
	var status string
	err := row.Scan(
		&c.ClaimID, &c.TenantID, &c.HospitalID, &status, &c.OriginalFilename, &c.ContentType,
		&c.DeclaredSize, &c.DeclaredHash, &c.FileHash, &c.FileSize, &c.S3Bucket, &c.S3Key, &c.UploadID,
		&c.UploadedBy, &c.SourceIP, &c.UserAgent, &c.RequestID, &c.ErrorMessage,
		&c.UploadedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = claimstate.Status(status)
	return c, nil
}
