package tenant

import (
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		tenantID   string
		hospitalID string
		wantErr    bool
	}{
		{"корректные", "acme-health", "h_001", false},
		{"пустой tenant", "", "h1", true},
		{"пустая больница", "t1", "", true},
		{"слэш в tenant", "t1/../t2", "h1", true},
		{"пробел", "t 1", "h1", true},
		{"начинается с дефиса", "-t1", "h1", true},
		{"слишком длинный", strings.Repeat("t", 65), "h1", true},
		{"максимальная длина", strings.Repeat("t", 64), "h1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.tenantID, tt.hospitalID, "")
			if tt.wantErr {
				if err == nil {
					t.Errorf("ожидалась ошибка для %q/%q", tt.tenantID, tt.hospitalID)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if c.TenantID() != tt.tenantID || c.HospitalID() != tt.hospitalID {
				t.Errorf("получено %s, ожидается %s/%s", c, tt.tenantID, tt.hospitalID)
			}
		})
	}
}

func TestZeroValue(t *testing.T) {
	var c Context
	if !c.IsZero() {
		t.Error("нулевое значение должно быть IsZero")
	}
	c, _ = New("t1", "h1", "u1")
	if c.IsZero() {
		t.Error("инициализированный контекст не должен быть IsZero")
	}
}

func TestSameScope(t *testing.T) {
	a, _ := New("t1", "h1", "alice")
	b, _ := New("t1", "h1", "")
	c, _ := New("t1", "h2", "alice")

	if !a.SameScope(b) {
		t.Error("пользователь не должен влиять на область видимости")
	}
	if a.SameScope(c) {
		t.Error("разные больницы — разные области видимости")
	}
}

func TestLogValue(t *testing.T) {
	c, _ := New("t1", "h1", "u1")
	v := c.LogValue()
	if v.Kind() != slog.KindGroup {
		t.Fatalf("Kind = %v, ожидается Group", v.Kind())
	}
	if len(v.Group()) != 3 {
		t.Errorf("атрибутов %d, ожидается 3", len(v.Group()))
	}
}
