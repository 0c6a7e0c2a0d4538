package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bigkaa/claimiq/internal/domain/claimstate"
	"github.com/bigkaa/claimiq/internal/domain/model"
	"github.com/bigkaa/claimiq/internal/storage/objectkey"
	"github.com/bigkaa/claimiq/internal/storage/objectstore"
	"github.com/bigkaa/claimiq/internal/workflow"
)

type completionFixture struct {
	*uploadFixture
	completion *CompletionService
	trigger    *recordingTrigger
}

func newCompletionFixture(t *testing.T, maxSize int64) *completionFixture {
	t.Helper()
	up := newUploadFixture(t, 0)
	trigger := &recordingTrigger{}
	return &completionFixture{
		uploadFixture: up,
		completion:    NewCompletionService(up.claims, up.store, trigger, up.audit, maxSize, discardLogger()),
		trigger:       trigger,
	}
}

// upload выдаёт разрешение и кладёт объект так, как это сделал бы клиент.
func (f *completionFixture) upload(t *testing.T, tenantID, hospitalID string, body []byte) (*IssuedUpload, ObjectCreated) {
	t.Helper()
	tc := mustTenant(t, tenantID, hospitalID)
	decision, err := f.svc.RequestUpload(context.Background(), tc, UploadRequest{
		Filename:    "remit.pdf",
		ContentType: "application/pdf",
		FileSize:    int64(len(body)),
	})
	if err != nil {
		t.Fatalf("RequestUpload: %v", err)
	}
	issued := decision.(*IssuedUpload)
	f.store.put(issued.StorageKey, "application/pdf",
		objectkey.Metadata(tc, issued.ClaimID, issued.UploadID, "remit.pdf"), body)
	return issued, ObjectCreated{Bucket: f.store.Bucket(), Key: issued.StorageKey, Size: int64(len(body))}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestProcess_Accepts(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	body := []byte("%PDF-1.7 remittance advice")
	issued, ev := f.upload(t, "acme", "h1", body)

	outcome, err := f.completion.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeAccepted {
		t.Fatalf("outcome = %s", outcome)
	}

	c := f.claims.get(issued.ClaimID)
	if c.Status != claimstate.StatusNew {
		t.Errorf("статус = %s", c.Status)
	}
	if c.FileHash == nil || *c.FileHash != sha256Hex(body) {
		t.Errorf("file_hash = %v", c.FileHash)
	}
	if c.FileSize == nil || *c.FileSize != int64(len(body)) {
		t.Errorf("file_size = %v", c.FileSize)
	}
	if c.UploadedAt == nil {
		t.Error("uploaded_at не заполнен")
	}

	if f.trigger.calls() != 1 {
		t.Fatalf("запусков workflow: %d", f.trigger.calls())
	}
	req := f.trigger.requests[0]
	if req.ClaimID != issued.ClaimID || req.TenantID != "acme" || req.HospitalID != "h1" {
		t.Errorf("scope запуска: %+v", req)
	}
	if req.TriggerSource != workflow.TriggerSourceCompletion {
		t.Errorf("triggerSource = %q", req.TriggerSource)
	}
	if req.StorageKey != issued.StorageKey || req.FileHash != sha256Hex(body) || req.OriginalFilename != "remit.pdf" {
		t.Errorf("payload: %+v", req)
	}
	if req.ContentType != "application/pdf" {
		t.Errorf("contentType = %q", req.ContentType)
	}

	want := []string{
		"UPLOAD_GRANT_ISSUED/SUCCESS",
		"UPLOAD_COMPLETED/SUCCESS",
		"WORKFLOW_TRIGGER/SUCCESS",
	}
	if got := f.audit.actions(issued.ClaimID); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("аудит: %v, ожидалось %v", got, want)
	}
}

func TestProcess_ReplayIsNoOp(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	issued, ev := f.upload(t, "acme", "h1", []byte("claim body"))

	if _, err := f.completion.Process(context.Background(), ev); err != nil {
		t.Fatalf("первая доставка: %v", err)
	}
	before := f.claims.get(issued.ClaimID)

	outcome, err := f.completion.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("повторная доставка: %v", err)
	}
	if outcome != OutcomeReplayed {
		t.Fatalf("outcome = %s", outcome)
	}

	after := f.claims.get(issued.ClaimID)
	if after.Status != claimstate.StatusNew || *after.UploadedAt != *before.UploadedAt {
		t.Errorf("запись изменилась при повторе: %+v", after)
	}
	if f.trigger.calls() != 1 {
		t.Errorf("повтор не должен запускать workflow, запусков: %d", f.trigger.calls())
	}

	var replay *model.AuditEntry
	for i := range f.audit.entries {
		if f.audit.entries[i].Action == model.ActionUploadCompletionReplayed {
			replay = &f.audit.entries[i]
		}
	}
	if replay == nil {
		t.Fatal("повтор не записан в аудит")
	}
	if replay.Outcome != model.AuditWarning {
		t.Errorf("outcome = %s", replay.Outcome)
	}
	if replay.Detail["current_status"] != string(claimstate.StatusNew) {
		t.Errorf("detail: %v", replay.Detail)
	}
}

func TestProcess_OverwrittenObjectGoesToManualReview(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	issued, ev := f.upload(t, "acme", "h1", []byte("original remittance"))
	if _, err := f.completion.Process(context.Background(), ev); err != nil {
		t.Fatalf("первая доставка: %v", err)
	}

	// Клиент повторно выполнил PUT по тому же URL с другим содержимым.
	tc := mustTenant(t, "acme", "h1")
	tampered := []byte("tampered remittance")
	f.store.put(issued.StorageKey, "application/pdf",
		objectkey.Metadata(tc, issued.ClaimID, issued.UploadID, "remit.pdf"), tampered)

	outcome, err := f.completion.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeManualReview {
		t.Fatalf("outcome = %s", outcome)
	}

	c := f.claims.get(issued.ClaimID)
	if c.Status != claimstate.StatusManualReview {
		t.Errorf("статус = %s", c.Status)
	}
	if *c.FileHash != sha256Hex([]byte("original remittance")) {
		t.Errorf("записанный отпечаток изменён: %s", *c.FileHash)
	}
	if c.ErrorMessage == nil || !strings.Contains(*c.ErrorMessage, sha256Hex(tampered)) {
		t.Errorf("error_message = %v", c.ErrorMessage)
	}
	if f.trigger.calls() != 1 {
		t.Errorf("запусков workflow: %d", f.trigger.calls())
	}

	last := f.audit.entries[len(f.audit.entries)-1]
	if last.Action != model.ActionUploadCompletionFailed || last.Outcome != model.AuditError {
		t.Fatalf("последняя запись аудита: %s/%s", last.Action, last.Outcome)
	}
	if last.Detail["stored_hash"] != *c.FileHash || last.Detail["file_hash"] != sha256Hex(tampered) {
		t.Errorf("detail: %v", last.Detail)
	}
	if last.Detail["from_status"] != string(claimstate.StatusNew) {
		t.Errorf("from_status = %v", last.Detail["from_status"])
	}

	// Следующая доставка того же объекта только фиксирует повтор.
	if outcome, err := f.completion.Process(context.Background(), ev); err != nil || outcome != OutcomeReplayed {
		t.Errorf("после ручной проверки: outcome = %s, err = %v", outcome, err)
	}
}

func TestProcess_ConcurrentDeliveriesExactlyOneWins(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	_, ev := f.upload(t, "acme", "h1", []byte("concurrent"))

	const n = 8
	results := make(chan CompletionOutcome, n)
	for i := 0; i < n; i++ {
		go func() {
			outcome, err := f.completion.Process(context.Background(), ev)
			if err != nil {
				t.Errorf("Process: %v", err)
			}
			results <- outcome
		}()
	}

	accepted := 0
	for i := 0; i < n; i++ {
		if <-results == OutcomeAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("принято %d раз, ожидалось 1", accepted)
	}
	if f.trigger.calls() != 1 {
		t.Errorf("запусков workflow: %d", f.trigger.calls())
	}
}

func TestProcess_IgnoredObjects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *completionFixture) ObjectCreated
	}{
		{
			name: "нет claim-id",
			setup: func(t *testing.T, f *completionFixture) ObjectCreated {
				f.store.put("exports/report.csv", "text/csv", map[string]string{"tenant-id": "acme"}, []byte("x"))
				return ObjectCreated{Bucket: f.store.Bucket(), Key: "exports/report.csv"}
			},
		},
		{
			name: "нет tenant-id",
			setup: func(t *testing.T, f *completionFixture) ObjectCreated {
				issued, ev := f.upload(t, "acme", "h1", []byte("x"))
				meta := objectkey.Metadata(mustTenant(t, "acme", "h1"), issued.ClaimID, issued.UploadID, "a.pdf")
				delete(meta, objectkey.MetaTenantID)
				f.store.put(ev.Key, "application/pdf", meta, []byte("x"))
				return ev
			},
		},
		{
			name: "tenant в ключе не совпадает с метаданными",
			setup: func(t *testing.T, f *completionFixture) ObjectCreated {
				issued, ev := f.upload(t, "acme", "h1", []byte("x"))
				meta := objectkey.Metadata(mustTenant(t, "other", "h1"), issued.ClaimID, issued.UploadID, "a.pdf")
				f.store.put(ev.Key, "application/pdf", meta, []byte("x"))
				return ev
			},
		},
		{
			name: "объект удалён",
			setup: func(t *testing.T, f *completionFixture) ObjectCreated {
				return ObjectCreated{Bucket: f.store.Bucket(), Key: "tenants/acme/hospitals/h1/claims/x/y.pdf"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCompletionFixture(t, testMaxSize)
			ev := tt.setup(t, f)
			auditBefore := len(f.audit.entries)

			outcome, err := f.completion.Process(context.Background(), ev)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if outcome != OutcomeIgnored {
				t.Errorf("outcome = %s", outcome)
			}
			if f.trigger.calls() != 0 {
				t.Error("workflow не должен запускаться")
			}
			if len(f.audit.entries) != auditBefore {
				t.Error("аудит не должен записываться")
			}
			for _, c := range f.claims.claims {
				if c.Status != claimstate.StatusUploadPending {
					t.Errorf("претензия %s изменена: %s", c.ClaimID, c.Status)
				}
			}
		})
	}
}

func TestProcess_ForeignTenantMetadataIsNoOp(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	issued, _ := f.upload(t, "acme", "h1", []byte("x"))

	// Объект другого tenant ссылается на claim id из acme.
	other := mustTenant(t, "other", "h1")
	key := objectkey.Build(other, issued.ClaimID, issued.UploadID, ".pdf")
	f.store.put(key, "application/pdf", objectkey.Metadata(other, issued.ClaimID, issued.UploadID, "a.pdf"), []byte("x"))

	outcome, err := f.completion.Process(context.Background(), ObjectCreated{Bucket: f.store.Bucket(), Key: key})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeReplayed {
		t.Errorf("outcome = %s", outcome)
	}
	if c := f.claims.get(issued.ClaimID); c.Status != claimstate.StatusUploadPending {
		t.Errorf("претензия acme изменена чужим событием: %s", c.Status)
	}
	if f.trigger.calls() != 0 {
		t.Error("workflow не должен запускаться")
	}
}

func TestProcess_TooLargeGoesToManualReview(t *testing.T) {
	f := newCompletionFixture(t, 16)
	issued, ev := f.upload(t, "acme", "h1", []byte("0123456789abcdef-overflow"))

	outcome, err := f.completion.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeManualReview {
		t.Fatalf("outcome = %s", outcome)
	}
	c := f.claims.get(issued.ClaimID)
	if c.Status != claimstate.StatusManualReview {
		t.Errorf("статус = %s", c.Status)
	}
	if c.ErrorMessage == nil || !strings.Contains(*c.ErrorMessage, "16") {
		t.Errorf("error_message = %v", c.ErrorMessage)
	}
	if f.trigger.calls() != 0 {
		t.Error("workflow не должен запускаться")
	}
	actions := f.audit.actions(issued.ClaimID)
	if actions[len(actions)-1] != "UPLOAD_COMPLETION_FAILED/ERROR" {
		t.Errorf("аудит: %v", actions)
	}
}

func TestProcess_TransientReadErrorIsRetried(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *memStore)
	}{
		{"обрыв чтения", func(s *memStore) { s.failRead = true }},
		{"ошибка открытия", func(s *memStore) { s.openErr = errStoreDown }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCompletionFixture(t, testMaxSize)
			issued, ev := f.upload(t, "acme", "h1", []byte("body"))
			tt.setup(f.store)

			if _, err := f.completion.Process(context.Background(), ev); !errors.Is(err, ErrPersistence) {
				t.Fatalf("ожидался ErrPersistence, получено %v", err)
			}
			c := f.claims.get(issued.ClaimID)
			if c.Status != claimstate.StatusUploadPending {
				t.Errorf("временная ошибка не должна менять статус: %s", c.Status)
			}
			if c.ErrorMessage != nil {
				t.Errorf("error_message = %q", *c.ErrorMessage)
			}

			// Хранилище восстановилось, повторная доставка принимает загрузку.
			f.store.failRead = false
			f.store.openErr = nil
			outcome, err := f.completion.Process(context.Background(), ev)
			if err != nil {
				t.Fatalf("повтор: %v", err)
			}
			if outcome != OutcomeAccepted {
				t.Errorf("outcome = %s", outcome)
			}
			if f.trigger.calls() != 1 {
				t.Errorf("запусков workflow: %d", f.trigger.calls())
			}
		})
	}
}

func TestProcess_CompleteErrorIsRetried(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	issued, ev := f.upload(t, "acme", "h1", []byte("body"))
	f.claims.completeErr = errStoreDown

	_, err := f.completion.Process(context.Background(), ev)
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, errStoreDown) {
		t.Fatalf("ожидался ErrPersistence, получено %v", err)
	}
	c := f.claims.get(issued.ClaimID)
	if c.Status != claimstate.StatusUploadPending {
		t.Errorf("статус = %s", c.Status)
	}
	for _, a := range f.audit.actions(issued.ClaimID) {
		if a == "UPLOAD_COMPLETION_FAILED/ERROR" {
			t.Errorf("временная ошибка записана как отказ: %v", f.audit.actions(issued.ClaimID))
		}
	}

	f.claims.completeErr = nil
	if outcome, err := f.completion.Process(context.Background(), ev); err != nil || outcome != OutcomeAccepted {
		t.Fatalf("повтор: outcome = %s, err = %v", outcome, err)
	}
	if c := f.claims.get(issued.ClaimID); c.Status != claimstate.StatusNew {
		t.Errorf("статус после повтора = %s", c.Status)
	}
}

func TestProcess_ObjectDeletedAfterHeadGoesToManualReview(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	issued, ev := f.upload(t, "acme", "h1", []byte("body"))
	f.store.openErr = fmt.Errorf("get object: %w", objectstore.ErrObjectNotFound)

	outcome, err := f.completion.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeManualReview {
		t.Fatalf("outcome = %s", outcome)
	}
	c := f.claims.get(issued.ClaimID)
	if c.Status != claimstate.StatusManualReview {
		t.Errorf("статус = %s", c.Status)
	}
	if c.ErrorMessage == nil || !strings.Contains(*c.ErrorMessage, "удалён") {
		t.Errorf("error_message = %v", c.ErrorMessage)
	}
}

func TestProcess_FallbackFailureIsReturned(t *testing.T) {
	f := newCompletionFixture(t, 16)
	issued, ev := f.upload(t, "acme", "h1", []byte(strings.Repeat("x", 64)))
	f.claims.transitionErr = errors.New("database is shutting down")

	_, err := f.completion.Process(context.Background(), ev)
	if !errors.Is(err, ErrUnrecoverable) {
		t.Fatalf("ожидался ErrUnrecoverable, получено %v", err)
	}
	if c := f.claims.get(issued.ClaimID); c.Status != claimstate.StatusUploadPending {
		t.Errorf("статус = %s", c.Status)
	}
}

func TestProcess_HeadErrorIsRetried(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	_, ev := f.upload(t, "acme", "h1", []byte("body"))
	f.store.headErr = errStoreDown

	if _, err := f.completion.Process(context.Background(), ev); !errors.Is(err, errStoreDown) {
		t.Fatalf("ожидалась ошибка хранилища, получено %v", err)
	}
}

func TestProcess_CancelledContextIsRetried(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	issued, ev := f.upload(t, "acme", "h1", []byte("body"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.completion.Process(ctx, ev); err == nil {
		t.Fatal("ожидалась ошибка отмены")
	}
	if c := f.claims.get(issued.ClaimID); c.Status != claimstate.StatusUploadPending {
		t.Errorf("отмена не должна переводить на ручную проверку: %s", c.Status)
	}
}

func TestProcess_WorkflowFailureKeepsTransition(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	issued, ev := f.upload(t, "acme", "h1", []byte("body"))
	f.trigger.err = &workflow.PermanentError{Err: errors.New("StateMachineDoesNotExist")}

	outcome, err := f.completion.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeAccepted {
		t.Errorf("outcome = %s", outcome)
	}
	if c := f.claims.get(issued.ClaimID); c.Status != claimstate.StatusNew {
		t.Errorf("статус = %s", c.Status)
	}
	found := false
	for _, e := range f.audit.entries {
		if e.Action == model.ActionWorkflowTrigger && e.Outcome == model.AuditError && e.ErrorMessage != nil {
			found = true
		}
	}
	if !found {
		t.Error("ошибка запуска workflow не записана в аудит")
	}
}

func TestRequestUpload_VerifiedHashIsDuplicate(t *testing.T) {
	f := newCompletionFixture(t, testMaxSize)
	body := []byte("identical content")
	_, ev := f.upload(t, "acme", "h1", body)
	if _, err := f.completion.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// После приёма вычисленный отпечаток находит дубликат.
	decision, err := f.svc.RequestUpload(context.Background(), mustTenant(t, "acme", "h2"), UploadRequest{
		Filename:    "copy.pdf",
		ContentType: "application/pdf",
		FileSize:    int64(len(body)),
		FileHash:    sha256Hex(body),
	})
	if err != nil {
		t.Fatalf("RequestUpload: %v", err)
	}
	if _, ok := decision.(*DuplicateUpload); !ok {
		t.Errorf("ожидался дубликат, получен %T", decision)
	}
}
