package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRoutePattern(t *testing.T) {
	var pattern string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			pattern = routePattern(req)
		})
	})
	r.Get("/api/v1/uploads/{claimId}", func(w http.ResponseWriter, _ *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/api/v1/uploads/7a1c2f7e-0d7e-4c41-9a55-0a1f3d1c9b11", nil))
	if pattern != "/api/v1/uploads/{claimId}" {
		t.Errorf("шаблон %q", pattern)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	if pattern != "unmatched" {
		t.Errorf("шаблон для несовпавшего пути %q", pattern)
	}
}
