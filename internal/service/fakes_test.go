package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/claimiq/internal/domain/claimstate"
	"github.com/bigkaa/claimiq/internal/domain/model"
	"github.com/bigkaa/claimiq/internal/repository"
	"github.com/bigkaa/claimiq/internal/storage/objectstore"
	"github.com/bigkaa/claimiq/internal/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memClaims — репозиторий претензий в памяти с теми же правилами
// изоляции, что и SQL-реализация.
type memClaims struct {
	mu        sync.Mutex
	claims    map[string]*model.Claim
	hospitals map[string]bool // tenant|hospital

	createErr     error
	completeErr   error
	transitionErr error
	findErr       error
	findCalls     int
}

func newMemClaims() *memClaims {
	return &memClaims{
		claims: make(map[string]*model.Claim),
		hospitals: map[string]bool{
			"acme|h1":  true,
			"acme|h2":  true,
			"other|h1": true,
		},
	}
}

func (m *memClaims) CreatePending(_ context.Context, c *model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if !m.hospitals[c.TenantID+"|"+c.HospitalID] {
		return repository.ErrUnknownScope
	}
	if c.DeclaredHash != nil {
		for _, existing := range m.claims {
			if existing.TenantID == c.TenantID && existing.DeclaredHash != nil &&
				*existing.DeclaredHash == *c.DeclaredHash &&
				existing.Status != claimstate.StatusManualReview {
				return repository.ErrConflict
			}
		}
	}
	c.Status = claimstate.StatusUploadPending
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	stored := *c
	m.claims[c.ClaimID] = &stored
	return nil
}

func (m *memClaims) GetByID(_ context.Context, tenantID, claimID string) (*model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[claimID]
	if !ok || c.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memClaims) FindByFingerprint(_ context.Context, tenantID, fp string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return "", m.findErr
	}
	for _, c := range m.claims {
		if c.TenantID != tenantID || c.Status == claimstate.StatusManualReview {
			continue
		}
		if (c.FileHash != nil && *c.FileHash == fp) || (c.DeclaredHash != nil && *c.DeclaredHash == fp) {
			return c.ClaimID, nil
		}
	}
	return "", repository.ErrNotFound
}

func (m *memClaims) List(_ context.Context, tenantID string, f repository.ClaimListFilters, limit, offset int) ([]*model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Claim
	for _, c := range m.claims {
		if c.TenantID != tenantID {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.HospitalID != nil && c.HospitalID != *f.HospitalID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimID < out[j].ClaimID })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memClaims) Count(ctx context.Context, tenantID string, f repository.ClaimListFilters) (int, error) {
	all, err := m.List(ctx, tenantID, f, 1<<30, 0)
	return len(all), err
}

func (m *memClaims) CompleteUpload(_ context.Context, tenantID, hospitalID, claimID string, res repository.UploadResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return false, m.completeErr
	}
	c, ok := m.claims[claimID]
	if !ok || c.TenantID != tenantID || c.HospitalID != hospitalID || c.Status != claimstate.StatusUploadPending {
		return false, nil
	}
	c.Status = claimstate.StatusNew
	hash, size, at := res.FileHash, res.FileSize, res.UploadedAt
	c.FileHash, c.FileSize, c.UploadedAt = &hash, &size, &at
	c.ErrorMessage = nil
	return true, nil
}

func (m *memClaims) Transition(_ context.Context, tenantID, claimID string, from, to claimstate.Status, msg *string) (bool, error) {
	if err := claimstate.Validate(from, to); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return false, m.transitionErr
	}
	c, ok := m.claims[claimID]
	if !ok || c.TenantID != tenantID || c.Status != from {
		return false, nil
	}
	c.Status = to
	if !claimstate.CarriesError(to) {
		msg = nil
	}
	c.ErrorMessage = msg
	return true, nil
}

func (m *memClaims) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

func (m *memClaims) get(claimID string) *model.Claim {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[claimID]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// memStore — объектное хранилище в памяти.
type memStore struct {
	mu         sync.Mutex
	bucket     string
	objects    map[string]memObject
	presignErr error
	headErr    error
	openErr    error
	failRead   bool
	presigned  []string
}

type memObject struct {
	body        []byte
	contentType string
	meta        map[string]string
}

func newMemStore() *memStore {
	return &memStore{bucket: "claims-bucket", objects: make(map[string]memObject)}
}

func (s *memStore) Bucket() string { return s.bucket }

func (s *memStore) PresignPut(_ context.Context, key, contentType string, meta map[string]string, ttl time.Duration) (*objectstore.PresignedPut, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presignErr != nil {
		return nil, s.presignErr
	}
	s.presigned = append(s.presigned, key)
	headers := map[string]string{"Content-Type": contentType}
	for k, v := range meta {
		headers["X-Amz-Meta-"+k] = v
	}
	return &objectstore.PresignedPut{
		URL:       "https://s3.local/" + s.bucket + "/" + key + "?X-Amz-Signature=test",
		Method:    "PUT",
		Headers:   headers,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// put имитирует загрузку клиентом по выданному URL.
func (s *memStore) put(key, contentType string, meta map[string]string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{body: body, contentType: contentType, meta: meta}
}

func (s *memStore) Head(_ context.Context, bucket, key string) (*objectstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headErr != nil {
		return nil, s.headErr
	}
	obj, ok := s.objects[key]
	if !ok || bucket != s.bucket {
		return nil, objectstore.ErrObjectNotFound
	}
	return &objectstore.ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        int64(len(obj.body)),
		ContentType: obj.contentType,
		Metadata:    obj.meta,
	}, nil
}

func (s *memStore) Open(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	if s.failRead {
		return errReadCloser{}, nil
	}
	obj, ok := s.objects[key]
	if !ok || bucket != s.bucket {
		return nil, objectstore.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.body)), nil
}

// memAudit — журнал аудита в памяти.
type memAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	err     error
}

func (a *memAudit) Record(_ context.Context, e model.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) ListByClaim(_ context.Context, tenantID, claimID string) ([]*model.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*model.AuditEntry
	for i := range a.entries {
		if a.entries[i].TenantID == tenantID && a.entries[i].ClaimID == claimID {
			e := a.entries[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

func (a *memAudit) actions(claimID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		if e.ClaimID == claimID {
			out = append(out, e.Action+"/"+string(e.Outcome))
		}
	}
	return out
}

// recordingTrigger запоминает запуски workflow.
type recordingTrigger struct {
	mu       sync.Mutex
	requests []workflow.Request
	err      error
}

func (r *recordingTrigger) Start(_ context.Context, req workflow.Request) (workflow.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return workflow.Execution{}, r.err
	}
	r.requests = append(r.requests, req)
	return workflow.Execution{ID: "exec-" + req.ClaimID}, nil
}

func (r *recordingTrigger) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

var errStoreDown = errors.New("connection refused")

// errReadCloser отдаёт ошибку при чтении.
type errReadCloser struct{}

func (errReadCloser) Read([]byte) (int, error) { return 0, fs.ErrClosed }
func (errReadCloser) Close() error             { return nil }
