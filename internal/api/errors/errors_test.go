package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteErrorEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		code   string
	}{
		{"validation", func(w http.ResponseWriter) { ValidationError(w, "плохо") }, http.StatusBadRequest, CodeValidationError},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "нет") }, http.StatusNotFound, CodeNotFound},
		{"transition", func(w http.ResponseWriter) { InvalidTransition(w, "нельзя") }, http.StatusUnprocessableEntity, CodeInvalidTransition},
		{"store", func(w http.ResponseWriter) { StoreUnavailable(w, "позже") }, http.StatusServiceUnavailable, CodeStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.status {
				t.Errorf("статус %d, ожидался %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("тело ответа: %v", err)
			}
			if body.Error.Code != tt.code || body.Error.Message == "" {
				t.Errorf("ошибка: %+v", body.Error)
			}
		})
	}
}

func TestStoreUnavailableRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	StoreUnavailable(rec, "позже")
	if rec.Header().Get("Retry-After") == "" {
		t.Error("ожидался заголовок Retry-After")
	}
}
