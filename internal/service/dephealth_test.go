package service

import "testing"

func TestJWKSHealthPath(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"путь JWKS", "https://idp.example.com/realms/claims/protocol/openid-connect/certs", "/realms/claims/protocol/openid-connect/certs"},
		{"без пути", "https://idp.example.com", "/health"},
		{"некорректный URL", "://bad", "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jwksHealthPath(tt.url); got != tt.want {
				t.Errorf("jwksHealthPath(%q) = %q, ожидалось %q", tt.url, got, tt.want)
			}
		})
	}
}
